// Package inject replays received input events into the local OS on the
// target role. The Engine dispatches decoded frames; the Injector does the
// actual synthesis and is swapped out per platform (and faked in tests).
package inject

import (
	"go.uber.org/zap"

	"softkvm/internal/keys"
	"softkvm/internal/protocol"
)

// Injector synthesizes OS-level input. Implementations must tag injected
// events so a capture tap in the same process can tell them apart from real
// hardware input.
type Injector interface {
	KeyEvent(vk int, down bool) error
	MouseMove(dx, dy int) error
	MouseButton(b protocol.Button, down bool) error
	MouseScroll(delta int) error
}

// Engine applies decoded events to an Injector.
type Engine struct {
	injector Injector
	logger   *zap.Logger
}

func NewEngine(injector Injector, logger *zap.Logger) *Engine {
	return &Engine{injector: injector, logger: logger}
}

// Apply replays one event. Injection failures are logged and swallowed; a
// single failed synthesis must not take down the session.
func (e *Engine) Apply(ev protocol.Event) {
	var err error

	switch ev.Type {
	case protocol.TypeKeyPress:
		err = e.injector.KeyEvent(ev.VKCode, true)
	case protocol.TypeKeyRelease:
		err = e.injector.KeyEvent(ev.VKCode, false)
	case protocol.TypeMouseMove:
		err = e.injector.MouseMove(ev.DX, ev.DY)
	case protocol.TypeMouseDown:
		err = e.injector.MouseButton(ev.Button, true)
	case protocol.TypeMouseUp:
		err = e.injector.MouseButton(ev.Button, false)
	case protocol.TypeMouseScroll:
		err = e.injector.MouseScroll(ev.Delta)
	case protocol.TypeControlAcquire:
		e.logger.Info("peer took control")
	case protocol.TypeControlRelease:
		e.logger.Info("peer released control")
		e.ReleaseModifiers()
	default:
		e.logger.Debug("ignoring unhandled event", zap.String("type", string(ev.Type)))
	}

	if err != nil {
		e.logger.Warn("injection failed",
			zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// ReleaseModifiers injects a key-up for every standard modifier. Releasing
// an already-up key is a no-op at the OS level, so this is safe to run on
// every release, disconnect, and shutdown.
func (e *Engine) ReleaseModifiers() {
	for _, vk := range keys.StandardModifiers {
		if err := e.injector.KeyEvent(vk, false); err != nil {
			e.logger.Warn("failed to release modifier",
				zap.String("key", keys.Name(vk)), zap.Error(err))
		}
	}
}
