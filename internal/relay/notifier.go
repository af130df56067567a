package relay

import (
	"softkvm/internal/conn"
	"softkvm/internal/control"
)

// Notifier carries role events out to the presentation layers (tray, control
// API). All fields are optional; nil callbacks are skipped. Callbacks fire
// from relay goroutines and must not block.
type Notifier struct {
	OnConnState    func(state conn.State)
	OnControlState func(state control.State)
	OnPeer         func(addr string)
	OnPeerLost     func()
}

func (n Notifier) connState(s conn.State) {
	if n.OnConnState != nil {
		n.OnConnState(s)
	}
}

func (n Notifier) controlState(s control.State) {
	if n.OnControlState != nil {
		n.OnControlState(s)
	}
}

func (n Notifier) peer(addr string) {
	if n.OnPeer != nil {
		n.OnPeer(addr)
	}
}

func (n Notifier) peerLost() {
	if n.OnPeerLost != nil {
		n.OnPeerLost()
	}
}
