//go:build !windows

package capture

// OSCursor placeholder for non-Windows builds.
type OSCursor struct{}

func NewCursor() *OSCursor {
	return &OSCursor{}
}

func (OSCursor) Pos() (int, int) { return 0, 0 }

func (OSCursor) SetPos(x, y int) {}
