//go:build windows

package capture

import "unsafe"

var (
	procGetCursorPos = user32.NewProc("GetCursorPos")
	procSetCursorPos = user32.NewProc("SetCursorPos")
)

type point struct {
	X, Y int32
}

// OSCursor reads and forces the real cursor position.
type OSCursor struct{}

func NewCursor() *OSCursor {
	return &OSCursor{}
}

func (OSCursor) Pos() (int, int) {
	var p point
	procGetCursorPos.Call(uintptr(unsafe.Pointer(&p)))
	return int(p.X), int(p.Y)
}

func (OSCursor) SetPos(x, y int) {
	procSetCursorPos.Call(uintptr(x), uintptr(y))
}
