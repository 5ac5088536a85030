// Package decoder parses FramebufferUpdate messages into framebuffer and
// cursor state, one rectangle at a time, through resumable per-encoding
// decoders (spec.md §4.5).
package decoder

import (
	"fmt"

	"github.com/openrv/govnc/internal/handshake"
	"github.com/openrv/govnc/internal/wire"
)

// UpdatedRect is emitted once per non-pseudo rectangle, in the order the
// server sent it.
type UpdatedRect struct {
	X, Y, W, H uint16
	Encoding   int32
}

// EncodingName returns a short label for a rectangle encoding, used for
// metrics; unrecognized values (there are none reachable through Dispatcher,
// since Feed rejects unknown encodings before this is
// called) return "unknown".
func EncodingName(encoding int32) string {
	switch encoding {
	case handshake.EncodingRaw:
		return "raw"
	case handshake.EncodingCopyRect:
		return "copyrect"
	case handshake.EncodingRRE:
		return "rre"
	case handshake.EncodingCoRRE:
		return "corre"
	case handshake.EncodingHextile:
		return "hextile"
	case handshake.EncodingZlib:
		return "zlib"
	case handshake.EncodingZRLE:
		return "zrle"
	case handshake.EncodingCursor:
		return "cursor"
	default:
		return "unknown"
	}
}

// fbuState is the FramebufferUpdate-level parse state, tracked across
// Dispatcher.Feed calls so an arbitrary byte boundary mid-message can be
// resumed on the next call instead of requiring a whole message at once.
type fbuState int

const (
	fbuIdle fbuState = iota
	fbuHeader
	fbuRectHeader
	fbuRectBody
)

// Dispatcher reads FramebufferUpdate messages and feeds each rectangle to
// the right persistent per-encoding RectDecoder instance. One Dispatcher
// belongs to one connection; ResetConnection must be called on disconnect
// so the zlib/ZRLE streams aren't fed stale dictionary state on reconnect.
//
// Dispatcher is itself resumable (spec.md §4.2: "the currently active
// message parser keeps state and consumes partial buffers"): BeginFramebufferUpdate
// starts a new FramebufferUpdate, and Feed may be called repeatedly with
// whatever bytes the transport happened to have available, consuming as
// much of each call as the current parse state allows and picking back up
// on the next call for however much the message still needs.
type Dispatcher struct {
	fb     *Framebuffer
	cursor *Cursor
	format wire.PixelFormat

	decoders map[int32]RectDecoder

	state     fbuState
	hdr       [3]byte // 1 padding + uint16 rect count
	hdrGot    int
	rectCount uint16
	rectIdx   uint16

	rhdr    [12]byte // x,y,w,h uint16 + int32 encoding
	rhdrGot int

	curRect    Rect
	curDecoder RectDecoder

	pending []UpdatedRect
}

func NewDispatcher(fb *Framebuffer, cursor *Cursor, format wire.PixelFormat, lenientCoRRE bool) *Dispatcher {
	return &Dispatcher{
		fb:     fb,
		cursor: cursor,
		format: format,
		state:  fbuIdle,
		decoders: map[int32]RectDecoder{
			handshake.EncodingRaw:      &RawDecoder{},
			handshake.EncodingCopyRect: &CopyRectDecoder{},
			handshake.EncodingRRE:      NewRREDecoder(false, lenientCoRRE),
			handshake.EncodingCoRRE:    NewRREDecoder(true, lenientCoRRE),
			handshake.EncodingHextile:  &HextileDecoder{},
			handshake.EncodingZlib:     &ZlibDecoder{},
			handshake.EncodingZRLE:     &ZRLEDecoder{},
			handshake.EncodingCursor:   &CursorDecoder{},
		},
	}
}

// SetPixelFormat updates the format used for every subsequently-started
// rectangle, after a client-initiated SetPixelFormat renegotiation.
func (d *Dispatcher) SetPixelFormat(format wire.PixelFormat) {
	d.format = format
}

// ResetConnection tears down any decoder holding connection-scoped state
// (the zlib/ZRLE persistent inflate streams), called once per reconnect.
func (d *Dispatcher) ResetConnection() {
	for _, dec := range d.decoders {
		if r, ok := dec.(ConnectionResetter); ok {
			r.ResetConnection()
		}
	}
}

// BeginFramebufferUpdate starts parsing a new FramebufferUpdate message
// (the message type byte itself already consumed by the caller).
func (d *Dispatcher) BeginFramebufferUpdate() {
	d.state = fbuHeader
	d.hdrGot = 0
	d.pending = d.pending[:0]
}

// PendingRects returns and clears the rectangles completed by the message
// most recently finished by Feed. Only valid once Feed has reported done.
func (d *Dispatcher) PendingRects() []UpdatedRect {
	r := d.pending
	d.pending = nil
	return r
}

// Feed consumes as much of buf as the current FramebufferUpdate parse state
// allows, returning the number of bytes consumed and whether the message is
// now complete. If the message isn't complete, the caller should call Feed
// again with more bytes once they arrive; no call drops partially-consumed
// state. An incomplete rectangle decoder is fed whatever of buf remains on
// each loop pass, rather than one byte at a time, so large rectangles never
// force buffering a whole rectangle before progress is made.
func (d *Dispatcher) Feed(buf []byte) (consumed int, done bool, err error) {
	for {
		switch d.state {
		case fbuIdle:
			return consumed, true, nil
		case fbuHeader:
			if consumed >= len(buf) {
				return consumed, false, nil
			}
			n := copy(d.hdr[d.hdrGot:], buf[consumed:])
			d.hdrGot += n
			consumed += n
			if d.hdrGot < len(d.hdr) {
				return consumed, false, nil
			}
			d.rectCount = wire.ReadU16(d.hdr[1:3])
			d.rectIdx = 0
			if d.rectCount == 0 {
				d.state = fbuIdle
				continue
			}
			d.state = fbuRectHeader
			d.rhdrGot = 0
		case fbuRectHeader:
			if consumed >= len(buf) {
				return consumed, false, nil
			}
			n := copy(d.rhdr[d.rhdrGot:], buf[consumed:])
			d.rhdrGot += n
			consumed += n
			if d.rhdrGot < len(d.rhdr) {
				return consumed, false, nil
			}
			rect := Rect{
				X:        wire.ReadU16(d.rhdr[0:2]),
				Y:        wire.ReadU16(d.rhdr[2:4]),
				W:        wire.ReadU16(d.rhdr[4:6]),
				H:        wire.ReadU16(d.rhdr[6:8]),
				Encoding: wire.ReadI32(d.rhdr[8:12]),
			}
			if rect.Encoding == handshake.EncodingDesktopSize {
				d.fb.Resize(rect.W, rect.H)
				if err := d.advanceRect(); err != nil {
					return consumed, false, err
				}
				continue
			}
			if rect.Encoding != handshake.EncodingCursor {
				if err := d.fb.CheckRect(rect.X, rect.Y, rect.W, rect.H); err != nil {
					return consumed, false, fmt.Errorf("rectangle %d: %w", d.rectIdx, err)
				}
			}
			dec, ok := d.decoders[rect.Encoding]
			if !ok {
				return consumed, false, fmt.Errorf("rectangle %d: server sent unsupported encoding %d", d.rectIdx, rect.Encoding)
			}
			if err := dec.BeginRect(rect, d.format); err != nil {
				return consumed, false, fmt.Errorf("rectangle %d: %w", d.rectIdx, err)
			}
			d.curRect = rect
			d.curDecoder = dec
			d.state = fbuRectBody
		case fbuRectBody:
			if !d.curDecoder.CanFinish() {
				if consumed >= len(buf) {
					return consumed, false, nil
				}
				n, err := d.curDecoder.Consume(buf[consumed:])
				if err != nil {
					return consumed, false, fmt.Errorf("rectangle %d: %w", d.rectIdx, err)
				}
				if n == 0 {
					return consumed, false, fmt.Errorf("rectangle %d decoder made no progress", d.rectIdx)
				}
				consumed += n
				continue
			}
			if err := d.curDecoder.Finish(d.fb, d.cursor); err != nil {
				return consumed, false, fmt.Errorf("rectangle %d: %w", d.rectIdx, err)
			}
			if d.curRect.Encoding != handshake.EncodingCursor {
				d.pending = append(d.pending, UpdatedRect{
					X: d.curRect.X, Y: d.curRect.Y, W: d.curRect.W, H: d.curRect.H, Encoding: d.curRect.Encoding,
				})
			}
			if err := d.advanceRect(); err != nil {
				return consumed, false, err
			}
		}
	}
}

func (d *Dispatcher) advanceRect() error {
	d.curDecoder = nil
	d.rectIdx++
	if d.rectIdx >= d.rectCount {
		d.state = fbuIdle
		return nil
	}
	d.state = fbuRectHeader
	d.rhdrGot = 0
	return nil
}
