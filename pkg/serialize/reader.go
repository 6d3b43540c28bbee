package serialize

import (
	"fmt"
)

type Reader struct {
	bytes []byte
	rpos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{
		bytes: data,
	}
}

func (r *Reader) Read(n int) ([]byte, error) {
	if n < 0 || r.rpos+n > len(r.bytes) {
		return nil, fmt.Errorf("Reader does not contain enough data to fill the argument, num bytes available: %d, num bytes needed: %d", len(r.bytes)-r.rpos, n)
	}
	bs := r.bytes[r.rpos : r.rpos+n]
	r.rpos += n
	return bs, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.bytes) - r.rpos
}
