package decoder

import (
	"fmt"
	"sync"
)

// Framebuffer is the internal RGB888 pixel store the worker writes into
// and the host reads through a locked handoff. Always 3 bytes/pixel
// internally regardless of the wire pixel format, per spec.md §3.
type Framebuffer struct {
	mu sync.Mutex

	Width, Height uint16
	Pixels        []byte // len == Width*Height*3
	Sequence      uint64
}

const bytesPerPixel = 3

// Resize reallocates the pixel buffer for a new ServerInit/DesktopSize
// negotiation. Must be called before any rectangle is written.
func (fb *Framebuffer) Resize(width, height uint16) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.Width = width
	fb.Height = height
	fb.Pixels = make([]byte, int(width)*int(height)*bytesPerPixel)
	fb.Sequence++
}

// CheckRect validates that a rectangle lies entirely within the
// framebuffer, per the decoder pipeline's bounds invariant (spec.md §4.5).
func (fb *Framebuffer) CheckRect(x, y, w, h uint16) error {
	if int(x)+int(w) > int(fb.Width) || int(y)+int(h) > int(fb.Height) {
		return fmt.Errorf("rect %dx%d at (%d,%d) exceeds framebuffer %dx%d", w, h, x, y, fb.Width, fb.Height)
	}
	return nil
}

// WritePixel writes one RGB888 pixel at (x, y). Caller must hold the lock
// (via WithLock) and have already validated the coordinate.
func (fb *Framebuffer) WritePixel(x, y uint16, rgb []byte) {
	off := (int(y)*int(fb.Width) + int(x)) * bytesPerPixel
	copy(fb.Pixels[off:off+3], rgb[:3])
}

// ReadPixel reads one RGB888 pixel at (x, y) into out[0:3].
func (fb *Framebuffer) ReadPixel(x, y uint16, out []byte) {
	off := (int(y)*int(fb.Width) + int(x)) * bytesPerPixel
	copy(out[:3], fb.Pixels[off:off+3])
}

// WithLock runs fn with the framebuffer mutex held, the scoped-acquisition
// pattern spec.md §5 requires for any mutation or read.
func (fb *Framebuffer) WithLock(fn func()) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fn()
}

// Snapshot copies the current pixel buffer for the host's
// acquire_framebuffer handoff.
func (fb *Framebuffer) Snapshot() (width, height uint16, pixels []byte, seq uint64) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	cp := make([]byte, len(fb.Pixels))
	copy(cp, fb.Pixels)
	return fb.Width, fb.Height, cp, fb.Sequence
}

// Cursor is the RGBA cursor shape buffer, identical lifecycle to
// Framebuffer, behind the same class of mutex (a separate instance here,
// since host acquisition of cursor vs. framebuffer are independent calls).
type Cursor struct {
	mu sync.Mutex

	Valid         bool
	Width, Height uint16
	HotX, HotY    uint16
	RGBA          []byte // len == Width*Height*4
}

func (c *Cursor) Set(width, height, hotX, hotY uint16, rgba []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if width == 0 || height == 0 {
		c.Valid = false
		c.Width, c.Height = 0, 0
		c.RGBA = nil
		return
	}
	c.Valid = true
	c.Width, c.Height = width, height
	c.HotX, c.HotY = hotX, hotY
	c.RGBA = rgba
}

func (c *Cursor) Snapshot() Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(c.RGBA))
	copy(cp, c.RGBA)
	return Cursor{Valid: c.Valid, Width: c.Width, Height: c.Height, HotX: c.HotX, HotY: c.HotY, RGBA: cp}
}
