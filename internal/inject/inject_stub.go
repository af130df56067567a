//go:build !windows

package inject

import (
	"errors"

	"softkvm/internal/protocol"
)

var errUnsupported = errors.New("inject: input injection not supported on this platform")

// WinInjector placeholder for non-Windows builds. Every call fails, which
// the Engine logs and drops, so a target started on an unsupported platform
// stays connected but injects nothing.
type WinInjector struct{}

func NewInjector() *WinInjector {
	return &WinInjector{}
}

func (i *WinInjector) KeyEvent(vk int, down bool) error               { return errUnsupported }
func (i *WinInjector) MouseMove(dx, dy int) error                     { return errUnsupported }
func (i *WinInjector) MouseButton(b protocol.Button, down bool) error { return errUnsupported }
func (i *WinInjector) MouseScroll(delta int) error                    { return errUnsupported }
