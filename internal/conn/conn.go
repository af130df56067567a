// Package conn owns the lifecycle of the single active stream connection
// carrying encoded input events. The controller side listens and accepts one
// peer at a time; the target side dials out once. Both sides drain the
// receive direction so peer loss is always detected.
package conn

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"softkvm/internal/protocol"
)

// State describes the connection lifecycle.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// ErrNoPeer is returned by Send when no peer connection is live.
var ErrNoPeer = errors.New("conn: no peer connected")

// Callbacks receive connection events. They are never invoked after Stop
// returns.
type Callbacks struct {
	// OnEvent fires for every well-formed decoded frame.
	OnEvent func(protocol.Event)

	// OnPeer fires when a peer connection is established.
	OnPeer func(addr string)

	// OnLost fires when the live peer connection drops. It does not fire
	// for a locally initiated Stop.
	OnLost func()

	// OnState fires on every lifecycle transition.
	OnState func(State)
}

// readFrames drains c, reassembles newline-delimited frames and dispatches
// decoded events. It returns when the connection errors out or is closed.
// Malformed frames are dropped one at a time; unknown event types are skipped
// silently so a newer peer does not break the session.
func readFrames(c net.Conn, onEvent func(protocol.Event), logger *zap.Logger) {
	var split protocol.Splitter
	buf := make([]byte, 4096)

	for {
		n, err := c.Read(buf)
		if err != nil {
			return
		}

		for _, frame := range split.Push(buf[:n]) {
			ev, err := protocol.Decode(frame)
			switch {
			case errors.Is(err, protocol.ErrUnknownType):
				continue
			case err != nil:
				logger.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}
}
