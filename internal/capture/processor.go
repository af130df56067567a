// Package capture observes every system-wide keyboard and mouse event before
// any other application sees it and decides pass-through versus
// forward-and-swallow. The platform tap (trap_windows.go) only translates OS
// callbacks into Processor calls and obeys the returned decision; all policy
// lives here and in the control machine.
package capture

import (
	"go.uber.org/zap"

	"softkvm/internal/control"
	"softkvm/internal/protocol"
)

// Sender is the connection send path for forwarded events.
type Sender interface {
	Send(protocol.Event) error
}

// Processor turns raw tap events into forwarding decisions. Its handlers run
// on the OS hook thread and must stay fast and non-blocking: a send is a
// single non-blocking socket write, a re-center is one cursor call.
type Processor struct {
	machine *control.Machine
	cursor  control.Cursor
	sender  Sender
	logger  *zap.Logger
}

// NewProcessor wires the decision pipeline for the controller role.
func NewProcessor(machine *control.Machine, cursor control.Cursor, sender Sender, logger *zap.Logger) *Processor {
	return &Processor{
		machine: machine,
		cursor:  cursor,
		sender:  sender,
		logger:  logger,
	}
}

// HandleKey processes one raw keyboard event. The returned value is true
// when the event must be swallowed (not delivered to the local OS).
func (p *Processor) HandleKey(vk int, down bool) bool {
	switch p.machine.ObserveKey(vk, down) {
	case control.ActionSwallow:
		return true

	case control.ActionForward:
		ev := protocol.KeyRelease(vk)
		if down {
			ev = protocol.KeyPress(vk)
		}
		p.forward(ev)
		return true
	}

	return false
}

// HandleMouseMove processes an absolute cursor position report. While remote
// it emits the delta against the anchor and synchronously forces the cursor
// back to the anchor, so the local pointer never drifts and the next event's
// delta stays exact. A zero delta emits nothing.
func (p *Processor) HandleMouseMove(x, y int) bool {
	if p.machine.State() != control.StateRemote {
		return false
	}

	ax, ay := p.machine.Anchor()
	dx, dy := x-ax, y-ay
	if dx != 0 || dy != 0 {
		p.forward(protocol.MouseMove(dx, dy))
		p.cursor.SetPos(ax, ay)
	}
	return true
}

// HandleButton processes a raw mouse button event.
func (p *Processor) HandleButton(b protocol.Button, down bool) bool {
	if p.machine.State() != control.StateRemote {
		return false
	}

	ev := protocol.MouseUp(b)
	if down {
		ev = protocol.MouseDown(b)
	}
	p.forward(ev)
	return true
}

// HandleWheel processes a raw wheel event with a signed delta.
func (p *Processor) HandleWheel(delta int) bool {
	if p.machine.State() != control.StateRemote {
		return false
	}

	p.forward(protocol.MouseScroll(delta))
	return true
}

// forward hands an event to the send path. A send failure is logged and
// otherwise ignored: it never alters control state, the next toggle or the
// receive loop will notice the dead peer.
func (p *Processor) forward(ev protocol.Event) {
	if err := p.sender.Send(ev); err != nil {
		p.logger.Warn("failed to forward event",
			zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
