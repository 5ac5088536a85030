package transport

import "fmt"

// Ring is a bounded FIFO byte buffer staging whatever ReadAvailable returns
// before the resumable inbound parser consumes it (spec.md §4.2:
// "read_available_nonblocking into a 1 MiB ring and feed the dispatcher").
// It is not a true circular buffer: Discard shifts the unconsumed tail down
// rather than wrapping an index, which is simpler and cheap at the sizes
// the worker actually buffers (a handful of reads between parser calls).
type Ring struct {
	buf      []byte
	capacity int
}

// NewRing creates a Ring that refuses to grow past capacity bytes.
func NewRing(capacity int) *Ring {
	return &Ring{capacity: capacity}
}

// Append adds b to the tail. Returns an error if doing so would exceed the
// ring's capacity, which would mean the parser has stalled far enough
// behind the wire to risk unbounded memory growth.
func (r *Ring) Append(b []byte) error {
	if len(r.buf)+len(b) > r.capacity {
		return fmt.Errorf("ring buffer overflow: %d buffered + %d incoming > %d capacity", len(r.buf), len(b), r.capacity)
	}
	r.buf = append(r.buf, b...)
	return nil
}

// Bytes exposes the currently buffered, not-yet-consumed bytes.
func (r *Ring) Bytes() []byte { return r.buf }

// Discard drops the first n bytes, already consumed by the parser.
func (r *Ring) Discard(n int) {
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

func (r *Ring) Len() int { return len(r.buf) }
