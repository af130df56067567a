// Package tray shows the relay's state in the system tray using
// getlantern/systray: which role is running, whether a peer is attached and
// where input currently goes.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray manages the tray icon and its status menu. Run blocks and must own
// the main thread on platforms where systray requires it.
type Tray struct {
	role   string
	hotkey string
	onQuit func()

	mu        sync.Mutex
	ready     bool
	connText  string
	ctrlText  string
	connItem  *systray.MenuItem
	ctrlItem  *systray.MenuItem
	hotkeyItm *systray.MenuItem

	quitCh chan struct{}
}

// New creates a tray for the given role. onQuit fires when the operator
// picks Quit from the menu.
func New(role, hotkey string, onQuit func()) *Tray {
	return &Tray{
		role:     role,
		hotkey:   hotkey,
		onQuit:   onQuit,
		connText: "No peer",
		ctrlText: "Input: local",
		quitCh:   make(chan struct{}),
	}
}

// Run starts the tray event loop and blocks until Stop or Quit.
func (t *Tray) Run() {
	systray.Run(t.setup, func() {
		close(t.quitCh)
	})
}

func (t *Tray) setup() {
	systray.SetTitle("SoftKVM")
	systray.SetTooltip("SoftKVM " + t.role)
	systray.SetIcon(getIcon())

	roleItem := systray.AddMenuItem("Role: "+t.role, "")
	roleItem.Disable()
	systray.AddSeparator()

	t.mu.Lock()
	t.connItem = systray.AddMenuItem(t.connText, "")
	t.connItem.Disable()
	t.ctrlItem = systray.AddMenuItem(t.ctrlText, "")
	t.ctrlItem.Disable()
	if t.role == "controller" {
		t.hotkeyItm = systray.AddMenuItem("Toggle: "+t.hotkey, "")
		t.hotkeyItm.Disable()
	}
	t.ready = true
	t.mu.Unlock()

	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "")

	go func() {
		select {
		case <-quit.ClickedCh:
			if t.onQuit != nil {
				t.onQuit()
			}
			systray.Quit()
		case <-t.quitCh:
		}
	}()
}

// SetConnState updates the peer line, e.g. "Connected: 192.168.1.20".
func (t *Tray) SetConnState(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connText = text
	if t.ready {
		t.connItem.SetTitle(text)
	}
}

// SetControlState updates the routing line, e.g. "Input: remote".
func (t *Tray) SetControlState(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctrlText = text
	if t.ready {
		t.ctrlItem.SetTitle(text)
	}
}

// SetHotkey updates the displayed toggle binding.
func (t *Tray) SetHotkey(hotkey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hotkey = hotkey
	if t.ready && t.hotkeyItm != nil {
		t.hotkeyItm.SetTitle("Toggle: " + hotkey)
	}
}

// Stop quits the tray loop.
func (t *Tray) Stop() {
	systray.Quit()
}

// getIcon returns a placeholder icon (valid 16x16 ICO).
func getIcon() []byte {
	icon := make([]byte, 1118)
	// ICO header
	copy(icon[0:6], []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00})
	// Icon directory
	copy(icon[6:22], []byte{
		0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00,
		0x48, 0x04, 0x00, 0x00,
		0x16, 0x00, 0x00, 0x00,
	})
	// DIB header
	copy(icon[22:62], []byte{
		0x28, 0x00, 0x00, 0x00,
		0x10, 0x00, 0x00, 0x00,
		0x20, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x20, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x04, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})
	// Pixels and mask stay zero for transparency.
	return icon
}
