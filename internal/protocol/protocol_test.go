package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	events := []Event{
		ControlAcquire(),
		ControlRelease(),
		KeyPress(90),
		KeyRelease(0xA2),
		MouseMove(3, -3),
		MouseMove(-1920, 1080),
		MouseDown(ButtonLeft),
		MouseUp(ButtonRight),
		MouseDown(ButtonMiddle),
		MouseScroll(120),
		MouseScroll(-120),
	}

	for _, ev := range events {
		t.Run(string(ev.Type), func(t *testing.T) {
			got, err := Decode(Encode(ev))
			require.NoError(t, err)
			assert.Equal(t, ev, got)
		})
	}
}

func TestEncodeWireFormat(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{ControlAcquire(), "event:control_acquire\n"},
		{ControlRelease(), "event:control_release\n"},
		{KeyPress(90), "event:key_press,vk_code:90\n"},
		{KeyRelease(27), "event:key_release,vk_code:27\n"},
		{MouseMove(3, -3), "event:mouse_move,dx:3,dy:-3\n"},
		{MouseDown(ButtonLeft), "event:mouse_down,button:left\n"},
		{MouseUp(ButtonMiddle), "event:mouse_up,button:middle\n"},
		{MouseScroll(-120), "event:mouse_scroll,delta:-120\n"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, string(Encode(c.ev)))
	}
}

func TestDecodeMalformed(t *testing.T) {
	lines := []string{
		"garbage",
		"event:mouse_move,dx:abc,dy:5",
		"event:mouse_move,dy:5,dx:3", // field order is fixed
		"event:mouse_move,dx:3",
		"event:key_press",
		"event:key_press,vk_code:zz",
		"event:mouse_down,button:side",
		"event:mouse_down",
		"event:mouse_scroll,delta:1.5",
	}

	for _, line := range lines {
		_, err := Decode([]byte(line))
		assert.ErrorIs(t, err, ErrMalformed, "line %q", line)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte("event:touch_gesture,fingers:3"))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSplitterPartialFrames(t *testing.T) {
	var s Splitter

	assert.Empty(t, s.Push([]byte("event:mouse_mo")))
	assert.Equal(t, len("event:mouse_mo"), s.Pending())

	frames := s.Push([]byte("ve,dx:3,dy:-3\nevent:key_press,vk"))
	require.Len(t, frames, 1)
	assert.Equal(t, "event:mouse_move,dx:3,dy:-3", string(frames[0]))

	frames = s.Push([]byte("_code:90\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "event:key_press,vk_code:90", string(frames[0]))
	assert.Zero(t, s.Pending())
}

func TestSplitterSkipsEmptyLines(t *testing.T) {
	var s Splitter
	frames := s.Push([]byte("\n\nevent:control_acquire\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "event:control_acquire", string(frames[0]))
}

func TestSplitterManyFramesOneRead(t *testing.T) {
	var s Splitter
	frames := s.Push([]byte("event:mouse_down,button:left\nevent:mouse_up,button:left\n"))
	require.Len(t, frames, 2)

	down, err := Decode(frames[0])
	require.NoError(t, err)
	up, err := Decode(frames[1])
	require.NoError(t, err)
	assert.Equal(t, MouseDown(ButtonLeft), down)
	assert.Equal(t, MouseUp(ButtonLeft), up)
}
