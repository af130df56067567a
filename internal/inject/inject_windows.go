//go:build windows

package inject

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"

	"softkvm/internal/protocol"
)

var (
	user32        = windows.NewLazySystemDLL("user32.dll")
	procSendInput = user32.NewProc("SendInput")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	keyeventfExtendedKey = 0x0001
	keyeventfKeyUp       = 0x0002

	mouseeventfMove       = 0x0001
	mouseeventfLeftDown   = 0x0002
	mouseeventfLeftUp     = 0x0004
	mouseeventfRightDown  = 0x0008
	mouseeventfRightUp    = 0x0010
	mouseeventfMiddleDown = 0x0020
	mouseeventfMiddleUp   = 0x0040
	mouseeventfWheel      = 0x0800
)

// Field layout of the INPUT union for 64-bit Windows. Both variants are
// padded to the same size so SendInput accepts either.
type mouseInput struct {
	Dx          int32
	Dy          int32
	MouseData   uint32
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

type keyboardInput struct {
	WVk         uint16
	WScan       uint16
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
	_           [8]byte
}

type mouseInputPacket struct {
	Type uint32
	_    uint32
	Mi   mouseInput
}

type keyboardInputPacket struct {
	Type uint32
	_    uint32
	Ki   keyboardInput
}

// WinInjector synthesizes input through SendInput. Everything it injects
// carries the LLKHF_INJECTED / LLMHF_INJECTED flag at the hook level, so a
// capture tap in the same process ignores it.
type WinInjector struct{}

func NewInjector() *WinInjector {
	return &WinInjector{}
}

// Keys whose hardware scan codes live in the extended range. Without the
// extended flag Windows would synthesize the numpad variants.
func isExtended(vk int) bool {
	switch vk {
	case 0xA3, 0xA5, // right ctrl, right alt
		0x5B, 0x5C, // win keys
		0x21, 0x22, 0x23, 0x24, // page up/down, end, home
		0x25, 0x26, 0x27, 0x28, // arrows
		0x2D, 0x2E, // insert, delete
		0x6F, 0x90: // numpad divide, num lock
		return true
	}
	return false
}

func (i *WinInjector) KeyEvent(vk int, down bool) error {
	var flags uint32
	if !down {
		flags |= keyeventfKeyUp
	}
	if isExtended(vk) {
		flags |= keyeventfExtendedKey
	}

	pkt := keyboardInputPacket{
		Type: inputKeyboard,
		Ki:   keyboardInput{WVk: uint16(vk), DwFlags: flags},
	}
	return sendInput(unsafe.Pointer(&pkt), unsafe.Sizeof(pkt))
}

func (i *WinInjector) MouseMove(dx, dy int) error {
	pkt := mouseInputPacket{
		Type: inputMouse,
		Mi:   mouseInput{Dx: int32(dx), Dy: int32(dy), DwFlags: mouseeventfMove},
	}
	return sendInput(unsafe.Pointer(&pkt), unsafe.Sizeof(pkt))
}

func (i *WinInjector) MouseButton(b protocol.Button, down bool) error {
	var flags uint32
	switch b {
	case protocol.ButtonLeft:
		flags = mouseeventfLeftDown
		if !down {
			flags = mouseeventfLeftUp
		}
	case protocol.ButtonRight:
		flags = mouseeventfRightDown
		if !down {
			flags = mouseeventfRightUp
		}
	case protocol.ButtonMiddle:
		flags = mouseeventfMiddleDown
		if !down {
			flags = mouseeventfMiddleUp
		}
	default:
		return errors.New("inject: unknown mouse button " + string(b))
	}

	pkt := mouseInputPacket{Type: inputMouse, Mi: mouseInput{DwFlags: flags}}
	return sendInput(unsafe.Pointer(&pkt), unsafe.Sizeof(pkt))
}

func (i *WinInjector) MouseScroll(delta int) error {
	pkt := mouseInputPacket{
		Type: inputMouse,
		Mi:   mouseInput{MouseData: uint32(int32(delta)), DwFlags: mouseeventfWheel},
	}
	return sendInput(unsafe.Pointer(&pkt), unsafe.Sizeof(pkt))
}

func sendInput(pkt unsafe.Pointer, size uintptr) error {
	n, _, err := procSendInput.Call(1, uintptr(pkt), size)
	if n != 1 {
		return errors.New("inject: SendInput failed: " + err.Error())
	}
	return nil
}
