package conn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"softkvm/internal/protocol"
)

const dialTimeout = 5 * time.Second

// Dialer is the target-side connection manager: one outbound connection to a
// selected controller address. A connect failure is surfaced to the caller;
// there are no automatic retries.
type Dialer struct {
	cb     Callbacks
	logger *zap.Logger

	mu    sync.Mutex
	conn  net.Conn
	state State

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDialer creates a dialer.
func NewDialer(cb Callbacks, logger *zap.Logger) *Dialer {
	return &Dialer{
		cb:     cb,
		logger: logger,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// Connect dials the controller at addr:port and starts the receive loop.
// The caller must Disconnect before dialing somewhere else.
func (d *Dialer) Connect(addr string, port int) error {
	d.mu.Lock()
	busy := d.conn != nil
	d.mu.Unlock()
	if busy {
		return fmt.Errorf("conn: already connected")
	}

	d.setState(StateConnecting)
	d.logger.Info("connecting to controller", zap.String("addr", addr), zap.Int("port", port))

	c, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", addr, port), dialTimeout)
	if err != nil {
		d.setState(StateIdle)
		return fmt.Errorf("conn: connect to %s:%d: %w", addr, port, err)
	}

	d.mu.Lock()
	d.conn = c
	d.mu.Unlock()
	d.setState(StateConnected)

	d.logger.Info("connected, awaiting remote control")
	if d.cb.OnPeer != nil && !d.stopping() {
		d.cb.OnPeer(c.RemoteAddr().String())
	}

	d.wg.Add(1)
	go d.receiveLoop(c)
	return nil
}

func (d *Dialer) receiveLoop(c net.Conn) {
	defer d.wg.Done()

	readFrames(c, d.cb.OnEvent, d.logger)
	c.Close()

	d.mu.Lock()
	current := d.conn == c
	if current {
		d.conn = nil
	}
	d.mu.Unlock()

	if !current || d.stopping() {
		return
	}

	d.logger.Info("connection to controller lost")
	d.setState(StateIdle)
	if d.cb.OnLost != nil {
		d.cb.OnLost()
	}
}

// Send encodes and writes one event toward the controller. The target rarely
// sends, but the stream is symmetric in shape.
func (d *Dialer) Send(ev protocol.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return ErrNoPeer
	}
	if _, err := d.conn.Write(protocol.Encode(ev)); err != nil {
		return fmt.Errorf("conn: send %s: %w", ev.Type, err)
	}
	return nil
}

// Connected reports whether the controller connection is live.
func (d *Dialer) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Disconnect closes the current connection, if any. The loss is reported
// through the callbacks and the dialer stays usable for a later Connect.
func (d *Dialer) Disconnect() {
	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Stop force-closes the connection and waits for the receive loop. No
// callbacks fire after it returns.
func (d *Dialer) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)

		d.mu.Lock()
		if d.conn != nil {
			d.conn.Close()
			d.conn = nil
		}
		d.mu.Unlock()

		d.wg.Wait()
		d.setState(StateIdle)
	})
}

func (d *Dialer) stopping() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *Dialer) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	if d.cb.OnState != nil && (s == StateIdle || !d.stopping()) {
		d.cb.OnState(s)
	}
}

// State returns the current lifecycle state.
func (d *Dialer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
