package serialize

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned when a frame is finished before it was filled.
var ErrFrameSize = errors.New("frame size mismatch")

// FrameWriter fills a frame whose size is computed up front with the
// ByteSize* helpers, so encoding never reallocates.
type FrameWriter struct {
	buf []byte
	off int
}

func NewFrameWriter(size int) *FrameWriter {
	return &FrameWriter{
		buf: make([]byte, size),
	}
}

// Next reserves the following n bytes of the frame. Reserving past the end
// means the size computation is wrong, which is a bug in the caller.
func (w *FrameWriter) Next(n int) []byte {
	if n > w.Remaining() {
		panic(fmt.Sprintf("frame overflow: %d bytes requested, %d left", n, w.Remaining()))
	}
	bs := w.buf[w.off : w.off+n]
	w.off += n
	return bs
}

// PutPrefix writes a fixed four byte frame tag.
func (w *FrameWriter) PutPrefix(prefix [4]byte) {
	copy(w.Next(len(prefix)), prefix[:])
}

func (w *FrameWriter) Remaining() int {
	return len(w.buf) - w.off
}

// Frame returns the encoded frame once every reserved byte is written.
func (w *FrameWriter) Frame() ([]byte, error) {
	if left := w.Remaining(); left != 0 {
		return nil, fmt.Errorf("%w: %d bytes unwritten", ErrFrameSize, left)
	}
	return w.buf, nil
}
