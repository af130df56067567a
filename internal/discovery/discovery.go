// Package discovery lets a target machine find a controller on the local
// network without manual configuration. The controller broadcasts a constant
// token over UDP; a target binds the same port and waits for one datagram.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"softkvm/internal/network"
)

// Port is the well-known UDP discovery port.
const Port = 65433

// Token is the constant datagram payload a controller advertises. A target
// accepts a sender only on an exact match.
const Token = "SOFTKVM_CONTROLLER_PING_V1"

const (
	// Interval is the steady-state broadcast cadence.
	Interval = 3 * time.Second

	// ScanInterval is the cadence while a peer scan is expected, so a
	// freshly started scan does not have to wait a full steady interval.
	ScanInterval = 1 * time.Second
)

// ErrNoServerFound means a scan ended without a valid controller datagram,
// either by timeout or because the received payload did not match the token.
// The caller must request a fresh scan; there is no automatic retry.
var ErrNoServerFound = errors.New("discovery: no server found")

// Broadcaster periodically advertises a controller's presence.
type Broadcaster struct {
	port   int
	logger *zap.Logger

	mu           sync.Mutex
	conn         net.PacketConn
	scanExpected bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewBroadcaster creates a broadcaster for the given discovery port.
func NewBroadcaster(port int, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		port:   port,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start opens the broadcast socket and begins advertising. A bind failure is
// returned so the caller can log it; the controller keeps running without
// advertising in that case.
func (b *Broadcaster) Start() error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("discovery: bind broadcast socket: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.logger.Info("advertising controller presence",
		zap.Int("port", b.port),
		zap.Duration("interval", Interval))

	b.wg.Add(1)
	go b.loop(conn)
	return nil
}

// SetScanExpected switches between the steady and the fast cadence.
func (b *Broadcaster) SetScanExpected(expected bool) {
	b.mu.Lock()
	b.scanExpected = expected
	b.mu.Unlock()
}

func (b *Broadcaster) interval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scanExpected {
		return ScanInterval
	}
	return Interval
}

func (b *Broadcaster) loop(conn net.PacketConn) {
	defer b.wg.Done()

	// The limited broadcast plus every interface's directed broadcast; some
	// networks filter one but pass the other.
	dsts := []*net.UDPAddr{{IP: net.IPv4bcast, Port: b.port}}
	for _, addr := range network.BroadcastAddrs() {
		if ip := net.ParseIP(addr); ip != nil {
			dsts = append(dsts, &net.UDPAddr{IP: ip, Port: b.port})
		}
	}

	for {
		for _, dst := range dsts {
			if _, err := conn.WriteTo([]byte(Token), dst); err != nil {
				select {
				case <-b.done:
					return
				default:
				}
				b.logger.Warn("discovery broadcast failed",
					zap.Stringer("dst", dst), zap.Error(err))
			}
		}

		select {
		case <-time.After(b.interval()):
		case <-b.done:
			return
		}
	}
}

// Stop closes the socket and waits for the broadcast loop to exit.
func (b *Broadcaster) Stop() {
	close(b.done)
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Scan binds the discovery port and performs a single bounded receive. It
// returns the advertising controller's IP address on an exact token match.
// Any other outcome, including timeout and a malformed datagram, yields
// ErrNoServerFound.
func Scan(port int, timeout time.Duration, logger *zap.Logger) (string, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return "", fmt.Errorf("discovery: bind scan socket: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("discovery: set scan deadline: %w", err)
	}

	buf := make([]byte, 1024)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return "", ErrNoServerFound
	}

	if string(buf[:n]) != Token {
		logger.Warn("ignoring unexpected discovery datagram",
			zap.String("from", addr.IP.String()),
			zap.Int("bytes", n))
		return "", ErrNoServerFound
	}

	logger.Info("found controller", zap.String("addr", addr.IP.String()))
	return addr.IP.String(), nil
}
