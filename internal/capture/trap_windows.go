//go:build windows

package capture

import (
	"errors"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"softkvm/internal/protocol"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookEx    = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procGetMessage          = user32.NewProc("GetMessageW")
	procTranslateMessage    = user32.NewProc("TranslateMessage")
	procDispatchMessage     = user32.NewProc("DispatchMessageW")
	procPostThreadMessage   = user32.NewProc("PostThreadMessageW")
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procGetModuleHandle     = kernel32.NewProc("GetModuleHandleW")
	procGetCurrentThreadId  = kernel32.NewProc("GetCurrentThreadId")
)

const (
	whKeyboardLL = 13
	whMouseLL    = 14

	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105

	wmMouseMove   = 0x0200
	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202
	wmRButtonDown = 0x0204
	wmRButtonUp   = 0x0205
	wmMButtonDown = 0x0207
	wmMButtonUp   = 0x0208
	wmMouseWheel  = 0x020A

	wmQuit = 0x0012

	llkhfInjected = 0x10
	llmhfInjected = 0x01
)

type kbdLLHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type msLLHookStruct struct {
	Point       struct{ X, Y int32 }
	MouseData   uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

// Low-level hook callbacks receive no context pointer, so the active trap is
// held in a package-level slot. Only one trap runs per process.
var activeTrap *Trap

// Trap installs the system-wide keyboard and mouse hooks and dispatches every
// event through the Processor. Hooks and their message loop must live on one
// locked OS thread.
type Trap struct {
	processor *Processor
	logger    *zap.Logger

	keyboardHook uintptr
	mouseHook    uintptr
	threadID     uint32
	wg           sync.WaitGroup
}

func NewTrap(processor *Processor, logger *zap.Logger) *Trap {
	return &Trap{processor: processor, logger: logger}
}

// Start installs both hooks and runs the message loop on a dedicated thread.
// It returns only after installation succeeded or failed; a failure here
// means no input can be suppressed and the caller must not enter remote mode.
func (t *Trap) Start() error {
	activeTrap = t
	installed := make(chan error, 1)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		tid, _, _ := procGetCurrentThreadId.Call()
		t.threadID = uint32(tid)

		hMod, _, _ := procGetModuleHandle.Call(0)

		var err error
		t.keyboardHook, _, err = procSetWindowsHookEx.Call(
			whKeyboardLL,
			syscall.NewCallback(keyboardHookProc),
			hMod,
			0,
		)
		if t.keyboardHook == 0 {
			installed <- errors.New("capture: failed to install keyboard hook: " + err.Error())
			return
		}

		t.mouseHook, _, err = procSetWindowsHookEx.Call(
			whMouseLL,
			syscall.NewCallback(mouseHookProc),
			hMod,
			0,
		)
		if t.mouseHook == 0 {
			procUnhookWindowsHookEx.Call(t.keyboardHook)
			installed <- errors.New("capture: failed to install mouse hook: " + err.Error())
			return
		}

		t.logger.Info("input hooks installed")
		installed <- nil

		var msg struct {
			Hwnd    syscall.Handle
			Message uint32
			Wparam  uintptr
			Lparam  uintptr
			Time    uint32
			Pt      struct{ X, Y int32 }
		}

		for {
			ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
			if int32(ret) <= 0 {
				break
			}
			procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
			procDispatchMessage.Call(uintptr(unsafe.Pointer(&msg)))
		}

		procUnhookWindowsHookEx.Call(t.keyboardHook)
		procUnhookWindowsHookEx.Call(t.mouseHook)
		t.logger.Info("input hooks removed")
	}()

	return <-installed
}

// Stop quits the message loop, which uninstalls both hooks on the hook
// thread, and waits for the thread to exit. After Stop returns no hook
// callback will fire again.
func (t *Trap) Stop() {
	if t.threadID != 0 {
		procPostThreadMessage.Call(uintptr(t.threadID), wmQuit, 0, 0)
	}
	t.wg.Wait()
	activeTrap = nil
}

func keyboardHookProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	if nCode == 0 && activeTrap != nil {
		kbd := (*kbdLLHookStruct)(unsafe.Pointer(lParam))
		// Skip injected events so our own failsafe releases are not re-captured.
		if kbd.Flags&llkhfInjected == 0 {
			down := wParam == wmKeyDown || wParam == wmSysKeyDown
			if activeTrap.processor.HandleKey(int(kbd.VkCode), down) {
				return 1
			}
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func mouseHookProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	if nCode == 0 && activeTrap != nil {
		ms := (*msLLHookStruct)(unsafe.Pointer(lParam))
		if ms.Flags&llmhfInjected == 0 {
			var swallow bool
			switch wParam {
			case wmMouseMove:
				swallow = activeTrap.processor.HandleMouseMove(int(ms.Point.X), int(ms.Point.Y))
			case wmLButtonDown:
				swallow = activeTrap.processor.HandleButton(protocol.ButtonLeft, true)
			case wmLButtonUp:
				swallow = activeTrap.processor.HandleButton(protocol.ButtonLeft, false)
			case wmRButtonDown:
				swallow = activeTrap.processor.HandleButton(protocol.ButtonRight, true)
			case wmRButtonUp:
				swallow = activeTrap.processor.HandleButton(protocol.ButtonRight, false)
			case wmMButtonDown:
				swallow = activeTrap.processor.HandleButton(protocol.ButtonMiddle, true)
			case wmMButtonUp:
				swallow = activeTrap.processor.HandleButton(protocol.ButtonMiddle, false)
			case wmMouseWheel:
				delta := int(int16(ms.MouseData >> 16))
				swallow = activeTrap.processor.HandleWheel(delta)
			}
			if swallow {
				return 1
			}
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}
