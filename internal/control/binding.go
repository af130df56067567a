package control

import (
	"fmt"
	"strings"

	"softkvm/internal/keys"
)

// Binding is the control-toggle hotkey: a set of modifier flags plus exactly
// one non-modifier key. Matching is strict: the live modifier state must
// equal the flags exactly, with no extra modifiers held.
type Binding struct {
	Ctrl  bool
	Alt   bool
	Shift bool
	Key   int
}

// DefaultBinding is Ctrl+Alt+Z.
var DefaultBinding = Binding{Ctrl: true, Alt: true, Key: 'Z'}

// ParseBinding parses an operator-facing hotkey string such as "ctrl+alt+z"
// into a Binding. Exactly one non-modifier key is required.
func ParseBinding(s string) (Binding, error) {
	var b Binding
	haveKey := false

	for _, part := range strings.Split(s, "+") {
		part = strings.TrimSpace(strings.ToLower(part))
		switch part {
		case "":
			return Binding{}, fmt.Errorf("control: empty component in hotkey %q", s)
		case "ctrl", "control":
			b.Ctrl = true
		case "alt":
			b.Alt = true
		case "shift":
			b.Shift = true
		default:
			vk, ok := keys.Lookup(part)
			if !ok {
				return Binding{}, fmt.Errorf("control: unknown key %q in hotkey %q", part, s)
			}
			if haveKey {
				return Binding{}, fmt.Errorf("control: more than one non-modifier key in hotkey %q", s)
			}
			b.Key = vk
			haveKey = true
		}
	}

	if !haveKey {
		return Binding{}, fmt.Errorf("control: hotkey %q has no non-modifier key", s)
	}
	return b, nil
}

func (b Binding) String() string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "ctrl")
	}
	if b.Alt {
		parts = append(parts, "alt")
	}
	if b.Shift {
		parts = append(parts, "shift")
	}
	name := keys.Name(b.Key)
	if name == "" {
		name = fmt.Sprintf("vk%d", b.Key)
	}
	parts = append(parts, strings.ToLower(name))
	return strings.Join(parts, "+")
}
