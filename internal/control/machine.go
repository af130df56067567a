// Package control tracks whether input is routed locally or to the remote
// peer. The machine owns every transition; the capture engine's hook
// callback merely calls ObserveKey and obeys the returned action, so the
// engine never reaches back into transition logic.
package control

import (
	"sync"

	"go.uber.org/zap"

	"softkvm/internal/keys"
	"softkvm/internal/protocol"
)

// State of input routing on the controller.
type State int

const (
	// StateLocal: input goes to the local OS untouched.
	StateLocal State = iota
	// StateRemote: input is forwarded to the peer and suppressed locally.
	StateRemote
)

func (s State) String() string {
	if s == StateRemote {
		return "remote"
	}
	return "local"
}

// Action tells the capture callback what to do with the observed event.
type Action int

const (
	// ActionPassThrough: let the OS dispatch the event normally.
	ActionPassThrough Action = iota
	// ActionSwallow: consume the event, forward nothing.
	ActionSwallow
	// ActionForward: forward the event to the peer, then swallow it.
	ActionForward
)

// Cursor abstracts reading and forcing the OS cursor position.
type Cursor interface {
	Pos() (x, y int)
	SetPos(x, y int)
}

// Sender is the connection send path plus its liveness check.
type Sender interface {
	Send(protocol.Event) error
	Connected() bool
}

// Machine is the control-toggle state machine. Created in StateLocal at
// role-start; reset to StateLocal on teardown or peer loss.
type Machine struct {
	cursor   Cursor
	sender   Sender
	failsafe func() // local modifier release, run on every Remote->Local
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	binding Binding
	ctrl    bool // live modifier flags, fed by the raw key tap
	alt     bool
	shift   bool
	anchorX int
	anchorY int

	onState func(State)
}

// NewMachine creates a machine in StateLocal with the given hotkey binding.
func NewMachine(binding Binding, cursor Cursor, sender Sender, failsafe func(), logger *zap.Logger) *Machine {
	return &Machine{
		cursor:   cursor,
		sender:   sender,
		failsafe: failsafe,
		logger:   logger,
		binding:  binding,
	}
}

// SetOnState registers the state-change notification callback.
func (m *Machine) SetOnState(fn func(State)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// State returns the current routing state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Binding returns the current hotkey binding.
func (m *Machine) Binding() Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binding
}

// SetBinding replaces the hotkey binding. This is the only mutation path;
// the presentation layer supplies the new binding after its own capture step.
func (m *Machine) SetBinding(b Binding) {
	m.mu.Lock()
	m.binding = b
	m.mu.Unlock()
	m.logger.Info("hotkey updated", zap.Stringer("binding", b))
}

// Anchor returns the cursor position captured at the last Local->Remote
// transition. Meaningful only while StateRemote.
func (m *Machine) Anchor() (x, y int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anchorX, m.anchorY
}

// ObserveKey is invoked by the capture tap for every raw keyboard event. It
// updates the live modifier flags, detects the hotkey and decides the fate
// of the event. The hotkey is always swallowed, whatever the current state
// and whether or not the toggle succeeds.
func (m *Machine) ObserveKey(vk int, down bool) Action {
	m.mu.Lock()

	switch {
	case keys.IsCtrl(vk):
		m.ctrl = down
	case keys.IsAlt(vk):
		m.alt = down
	case keys.IsShift(vk):
		m.shift = down
	}

	if down && vk == m.binding.Key && m.hotkeyModifiersMatch() {
		m.mu.Unlock()
		m.Toggle()
		return ActionSwallow
	}

	remote := m.state == StateRemote
	m.mu.Unlock()

	if remote {
		return ActionForward
	}
	return ActionPassThrough
}

// hotkeyModifiersMatch requires exact equality of the live modifier flags
// and the binding flags. An extra held modifier defeats the match.
// Callers hold m.mu.
func (m *Machine) hotkeyModifiersMatch() bool {
	return m.ctrl == m.binding.Ctrl && m.alt == m.binding.Alt && m.shift == m.binding.Shift
}

// Toggle flips between Local and Remote. Switching to Remote requires a
// connected peer; without one the toggle is a reported no-op.
func (m *Machine) Toggle() {
	m.mu.Lock()

	if m.state == StateLocal {
		if !m.sender.Connected() {
			m.mu.Unlock()
			m.logger.Warn("cannot switch control to remote: no peer connected")
			return
		}
		ax, ay := m.cursor.Pos()
		m.anchorX, m.anchorY = ax, ay
		m.state = StateRemote
		m.mu.Unlock()

		m.logger.Info("switched control to remote",
			zap.Int("anchor_x", ax), zap.Int("anchor_y", ay))
		if err := m.sender.Send(protocol.ControlAcquire()); err != nil {
			m.logger.Warn("failed to send control_acquire", zap.Error(err))
		}
		m.notify(StateRemote)
		return
	}

	m.state = StateLocal
	m.mu.Unlock()

	m.logger.Info("switched control to local")
	if err := m.sender.Send(protocol.ControlRelease()); err != nil {
		m.logger.Warn("failed to send control_release", zap.Error(err))
	}
	m.runFailsafe()
	m.notify(StateLocal)
}

// ForceLocal handles peer loss: if control was remote it snaps back to local
// and runs the failsafe, without emitting control_release (there is nobody
// to send it to).
func (m *Machine) ForceLocal() {
	m.mu.Lock()
	if m.state != StateRemote {
		m.mu.Unlock()
		return
	}
	m.state = StateLocal
	m.mu.Unlock()

	m.logger.Info("peer lost, control forced back to local")
	m.runFailsafe()
	m.notify(StateLocal)
}

func (m *Machine) runFailsafe() {
	if m.failsafe != nil {
		m.failsafe()
	}
}

func (m *Machine) notify(s State) {
	m.mu.Lock()
	fn := m.onState
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
