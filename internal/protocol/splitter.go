package protocol

import "bytes"

// Splitter reassembles newline-delimited frames from an arbitrary byte
// stream. A frame may arrive split across any number of socket reads; bytes
// after the last newline stay buffered until the rest arrives. Empty lines
// are dropped.
type Splitter struct {
	buf []byte
}

// Push appends raw stream bytes and returns every complete frame now
// available, without the trailing newline.
func (s *Splitter) Push(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	var frames [][]byte
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			return frames
		}
		line := s.buf[:i]
		s.buf = s.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		frames = append(frames, frame)
	}
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (s *Splitter) Pending() int {
	return len(s.buf)
}
