// Package keys defines the key identifier space shared by the capture and
// injection engines. Key codes travel the wire as Windows virtual-key codes;
// every platform backend converts to and from this space at its own boundary.
package keys

import "strings"

// Virtual-key codes for the keys the relay engine cares about by name.
// Reference: https://docs.microsoft.com/en-us/windows/win32/inputdev/virtual-key-codes
const (
	VKBack     = 0x08
	VKTab      = 0x09
	VKEnter    = 0x0D
	VKShift    = 0x10
	VKCtrl     = 0x11
	VKAlt      = 0x12
	VKPause    = 0x13
	VKCapsLock = 0x14
	VKEscape   = 0x1B
	VKSpace    = 0x20
	VKPageUp   = 0x21
	VKPageDown = 0x22
	VKEnd      = 0x23
	VKHome     = 0x24
	VKLeft     = 0x25
	VKUp       = 0x26
	VKRight    = 0x27
	VKDown     = 0x28
	VKInsert   = 0x2D
	VKDelete   = 0x2E

	VKLeftWin  = 0x5B
	VKRightWin = 0x5C

	VKLeftShift  = 0xA0
	VKRightShift = 0xA1
	VKLeftCtrl   = 0xA2
	VKRightCtrl  = 0xA3
	VKLeftAlt    = 0xA4
	VKRightAlt   = 0xA5
)

// StandardModifiers is the failsafe release set: every modifier that can be
// left logically "down" after input suppression ends. Left/right variants are
// listed separately because the OS tracks them as distinct keys.
var StandardModifiers = []int{
	VKLeftCtrl, VKRightCtrl,
	VKLeftShift, VKRightShift,
	VKLeftAlt, VKRightAlt,
	VKLeftWin, VKRightWin,
}

// IsCtrl reports whether vk is any control-key variant.
func IsCtrl(vk int) bool {
	return vk == VKCtrl || vk == VKLeftCtrl || vk == VKRightCtrl
}

// IsAlt reports whether vk is any alt-key variant.
func IsAlt(vk int) bool {
	return vk == VKAlt || vk == VKLeftAlt || vk == VKRightAlt
}

// IsShift reports whether vk is any shift-key variant.
func IsShift(vk int) bool {
	return vk == VKShift || vk == VKLeftShift || vk == VKRightShift
}

// IsModifier reports whether vk is a ctrl, alt, shift or meta variant.
// Lock-state keys (CapsLock, NumLock) are not modifiers.
func IsModifier(vk int) bool {
	return IsCtrl(vk) || IsAlt(vk) || IsShift(vk) ||
		vk == VKLeftWin || vk == VKRightWin
}

var namedKeys = map[string]int{
	"SPACE":     VKSpace,
	"ENTER":     VKEnter,
	"ESC":       VKEscape,
	"BACKSPACE": VKBack,
	"TAB":       VKTab,
	"PAGEUP":    VKPageUp,
	"PAGEDOWN":  VKPageDown,
	"END":       VKEnd,
	"HOME":      VKHome,
	"LEFT":      VKLeft,
	"UP":        VKUp,
	"RIGHT":     VKRight,
	"DOWN":      VKDown,
	"INSERT":    VKInsert,
	"DELETE":    VKDelete,
	"PAUSE":     VKPause,
}

// Lookup resolves a key name ("z", "F5", "space") to its virtual-key code.
func Lookup(name string) (int, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return 0, false
	}

	if len(name) == 1 {
		c := name[0]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			return int(c), true
		}
	}

	// F1-F12
	if len(name) >= 2 && name[0] == 'F' {
		n := 0
		for _, r := range name[1:] {
			if r < '0' || r > '9' {
				n = 0
				break
			}
			n = n*10 + int(r-'0')
		}
		if n >= 1 && n <= 12 {
			return 0x70 + n - 1, true
		}
	}

	vk, ok := namedKeys[name]
	return vk, ok
}

// Modifier display names, left/right variants included so log lines can
// say which one the failsafe release touched.
var modifierNames = map[int]string{
	VKShift:      "SHIFT",
	VKCtrl:       "CTRL",
	VKAlt:        "ALT",
	VKLeftShift:  "LSHIFT",
	VKRightShift: "RSHIFT",
	VKLeftCtrl:   "LCTRL",
	VKRightCtrl:  "RCTRL",
	VKLeftAlt:    "LALT",
	VKRightAlt:   "RALT",
	VKLeftWin:    "LWIN",
	VKRightWin:   "RWIN",
}

// Name returns a display name for a virtual-key code, or "" if unknown.
func Name(vk int) string {
	if name, ok := modifierNames[vk]; ok {
		return name
	}
	if (vk >= 'A' && vk <= 'Z') || (vk >= '0' && vk <= '9') {
		return string(rune(vk))
	}
	if vk >= 0x70 && vk <= 0x7B {
		n := vk - 0x70 + 1
		if n < 10 {
			return "F" + string(rune('0'+n))
		}
		return "F1" + string(rune('0'+n-10))
	}
	for name, code := range namedKeys {
		if code == vk {
			return name
		}
	}
	return ""
}
