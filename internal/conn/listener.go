package conn

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"softkvm/internal/protocol"
)

// Listener is the controller-side connection manager. It accepts exactly one
// inbound peer; any further connection attempt while a peer is live is
// accepted at the transport level and immediately closed, with no event
// traffic permitted.
type Listener struct {
	port   int
	cb     Callbacks
	logger *zap.Logger

	mu    sync.Mutex
	ln    net.Listener
	conn  net.Conn
	state State

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewListener creates a listener for the fixed data port.
func NewListener(port int, cb Callbacks, logger *zap.Logger) *Listener {
	return &Listener{
		port:   port,
		cb:     cb,
		logger: logger,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// Start binds the data port and begins accepting. A bind failure is
// role-fatal for the controller and is returned to the caller.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return fmt.Errorf("conn: listen on port %d: %w", l.port, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.setState(StateListening)

	l.logger.Info("waiting for a peer to connect", zap.Int("port", l.port))

	l.wg.Add(1)
	go l.acceptLoop(ln)
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()

	for {
		c, err := ln.Accept()
		if err != nil {
			// Stop closed the listener; anything else is terminal for
			// the accept loop as well.
			return
		}

		l.mu.Lock()
		if l.stopping() {
			// Stop already ran its close pass; adopting c now would leave a
			// receive loop alive that nothing closes. Discard it and exit.
			l.mu.Unlock()
			c.Close()
			return
		}
		if l.conn != nil {
			l.mu.Unlock()
			l.logger.Info("rejecting connection, a peer is already connected",
				zap.String("from", c.RemoteAddr().String()))
			c.Close()
			continue
		}
		l.conn = c
		l.mu.Unlock()

		addr := c.RemoteAddr().String()
		l.logger.Info("peer connected", zap.String("addr", addr))
		l.setState(StateConnected)
		if l.cb.OnPeer != nil && !l.stopping() {
			l.cb.OnPeer(addr)
		}

		l.wg.Add(1)
		go l.receiveLoop(c)
	}
}

// receiveLoop exists primarily to detect peer disconnection: the controller
// sends events, it does not expect to receive them. Anything decoded here is
// reported through OnEvent so the caller can log the anomaly.
func (l *Listener) receiveLoop(c net.Conn) {
	defer l.wg.Done()

	readFrames(c, l.cb.OnEvent, l.logger)
	c.Close()

	l.mu.Lock()
	current := l.conn == c
	if current {
		l.conn = nil
	}
	l.mu.Unlock()

	if !current || l.stopping() {
		return
	}

	l.logger.Info("peer disconnected")
	l.setState(StateListening)
	if l.cb.OnLost != nil {
		l.cb.OnLost()
	}
}

// Send encodes and writes one event to the connected peer. The critical
// section covers only the handle check and the write.
func (l *Listener) Send(ev protocol.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return ErrNoPeer
	}
	if _, err := l.conn.Write(protocol.Encode(ev)); err != nil {
		return fmt.Errorf("conn: send %s: %w", ev.Type, err)
	}
	return nil
}

// Connected reports whether a peer connection is currently live.
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Stop closes the listening socket and any live peer connection, then waits
// for the accept and receive loops to exit. After it returns no callbacks
// fire and the sockets are invalid.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)

		l.mu.Lock()
		if l.ln != nil {
			l.ln.Close()
		}
		if l.conn != nil {
			l.conn.Close()
			l.conn = nil
		}
		l.mu.Unlock()

		l.wg.Wait()
		l.setState(StateIdle)
	})
}

func (l *Listener) stopping() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	if l.cb.OnState != nil && (s == StateIdle || !l.stopping()) {
		l.cb.OnState(s)
	}
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
