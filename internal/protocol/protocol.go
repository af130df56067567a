// Package protocol defines the input event model and its wire codec.
//
// Each event is one newline-terminated text frame:
//
//	event:<type>[,<key>:<value>]*\n
//
// Wire format per type:
//
//	control_acquire:                     event:control_acquire
//	control_release:                     event:control_release
//	key_press / key_release:             event:key_press,vk_code:90
//	mouse_move (field order dx then dy): event:mouse_move,dx:3,dy:-3
//	mouse_down / mouse_up:               event:mouse_down,button:left
//	mouse_scroll:                        event:mouse_scroll,delta:-120
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EventType identifies an input event variant.
type EventType string

const (
	TypeControlAcquire EventType = "control_acquire"
	TypeControlRelease EventType = "control_release"
	TypeKeyPress       EventType = "key_press"
	TypeKeyRelease     EventType = "key_release"
	TypeMouseMove      EventType = "mouse_move"
	TypeMouseDown      EventType = "mouse_down"
	TypeMouseUp        EventType = "mouse_up"
	TypeMouseScroll    EventType = "mouse_scroll"
)

// Button identifies a mouse button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

var (
	// ErrUnknownType marks a frame whose event type this build does not know.
	// Receivers skip such frames silently to tolerate future extension.
	ErrUnknownType = errors.New("codec: unknown event type")

	// ErrMalformed marks a frame with a missing or unparseable required field.
	// The single event is dropped; the connection survives.
	ErrMalformed = errors.New("codec: malformed frame")
)

// Event is the unit of transmission between controller and target.
// Type determines which payload fields are meaningful.
type Event struct {
	Type   EventType
	VKCode int    // key_press, key_release
	DX, DY int    // mouse_move; never both zero on the wire
	Button Button // mouse_down, mouse_up
	Delta  int    // mouse_scroll, signed wheel notches
}

// ControlAcquire signals the controller is taking remote control.
func ControlAcquire() Event { return Event{Type: TypeControlAcquire} }

// ControlRelease signals the controller is giving control back.
func ControlRelease() Event { return Event{Type: TypeControlRelease} }

// KeyPress builds a key-down event for a virtual-key code.
func KeyPress(vk int) Event { return Event{Type: TypeKeyPress, VKCode: vk} }

// KeyRelease builds a key-up event for a virtual-key code.
func KeyRelease(vk int) Event { return Event{Type: TypeKeyRelease, VKCode: vk} }

// MouseMove builds a relative motion event.
func MouseMove(dx, dy int) Event { return Event{Type: TypeMouseMove, DX: dx, DY: dy} }

// MouseDown builds a button-press event.
func MouseDown(b Button) Event { return Event{Type: TypeMouseDown, Button: b} }

// MouseUp builds a button-release event.
func MouseUp(b Button) Event { return Event{Type: TypeMouseUp, Button: b} }

// MouseScroll builds a wheel event with a signed notch count.
func MouseScroll(delta int) Event { return Event{Type: TypeMouseScroll, Delta: delta} }

// Encode serializes an event to its newline-terminated wire frame.
func Encode(ev Event) []byte {
	var b strings.Builder
	b.WriteString("event:")
	b.WriteString(string(ev.Type))
	switch ev.Type {
	case TypeKeyPress, TypeKeyRelease:
		b.WriteString(",vk_code:")
		b.WriteString(strconv.Itoa(ev.VKCode))
	case TypeMouseMove:
		b.WriteString(",dx:")
		b.WriteString(strconv.Itoa(ev.DX))
		b.WriteString(",dy:")
		b.WriteString(strconv.Itoa(ev.DY))
	case TypeMouseDown, TypeMouseUp:
		b.WriteString(",button:")
		b.WriteString(string(ev.Button))
	case TypeMouseScroll:
		b.WriteString(",delta:")
		b.WriteString(strconv.Itoa(ev.Delta))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// Decode parses one frame (without the trailing newline) into an Event.
// Unknown event types yield ErrUnknownType; missing or unparseable required
// fields yield ErrMalformed. Either way only this event is affected.
func Decode(line []byte) (Event, error) {
	s := strings.TrimSuffix(string(line), "\n")
	if !strings.HasPrefix(s, "event:") {
		return Event{}, fmt.Errorf("%w: no event prefix in %q", ErrMalformed, s)
	}

	parts := strings.Split(s[len("event:"):], ",")
	typ := EventType(parts[0])
	fields := make(map[string]string, len(parts)-1)
	order := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, ":")
		if !ok {
			return Event{}, fmt.Errorf("%w: bad field %q", ErrMalformed, p)
		}
		fields[k] = v
		order = append(order, k)
	}

	switch typ {
	case TypeControlAcquire, TypeControlRelease:
		return Event{Type: typ}, nil

	case TypeKeyPress, TypeKeyRelease:
		vk, err := intField(fields, "vk_code")
		if err != nil {
			return Event{}, err
		}
		return Event{Type: typ, VKCode: vk}, nil

	case TypeMouseMove:
		if len(order) < 2 || order[0] != "dx" || order[1] != "dy" {
			return Event{}, fmt.Errorf("%w: mouse_move needs dx,dy in order", ErrMalformed)
		}
		dx, err := intField(fields, "dx")
		if err != nil {
			return Event{}, err
		}
		dy, err := intField(fields, "dy")
		if err != nil {
			return Event{}, err
		}
		return Event{Type: typ, DX: dx, DY: dy}, nil

	case TypeMouseDown, TypeMouseUp:
		b, ok := fields["button"]
		if !ok {
			return Event{}, fmt.Errorf("%w: missing button", ErrMalformed)
		}
		switch Button(b) {
		case ButtonLeft, ButtonRight, ButtonMiddle:
			return Event{Type: typ, Button: Button(b)}, nil
		}
		return Event{}, fmt.Errorf("%w: bad button %q", ErrMalformed, b)

	case TypeMouseScroll:
		delta, err := intField(fields, "delta")
		if err != nil {
			return Event{}, err
		}
		return Event{Type: typ, Delta: delta}, nil
	}

	return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, string(typ))
}

func intField(fields map[string]string, key string) (int, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformed, key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformed, key, v)
	}
	return n, nil
}
