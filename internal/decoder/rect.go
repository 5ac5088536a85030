package decoder

import "github.com/openrv/govnc/internal/wire"

// Rect is a rectangle header as read from the wire: {x, y, w, h, encoding}.
type Rect struct {
	X, Y, W, H uint16
	Encoding   int32
}

// RectDecoder is the per-encoding resumable parser interface. Consume is
// called repeatedly with whatever bytes are available; it returns the
// number of bytes it consumed. CanFinish reports whether enough data has
// been consumed to call Finish, which performs the actual framebuffer
// mutation under the framebuffer's lock.
type RectDecoder interface {
	// BeginRect resets per-rectangle state for a new rectangle of this
	// encoding (spec.md §4.5: "per rectangle" reset granularity).
	BeginRect(rect Rect, format wire.PixelFormat) error
	// Consume reads as much of buf as this rectangle still needs.
	Consume(buf []byte) (consumed int, err error)
	CanFinish() bool
	// Finish writes the parsed data into fb. Called once CanFinish is true.
	Finish(fb *Framebuffer, cursor *Cursor) error
}

// ConnectionResetter is implemented by decoders holding resources that
// outlive a single rectangle (zlib/ZRLE's persistent inflate stream).
type ConnectionResetter interface {
	ResetConnection()
}
