package decoder

import (
	"fmt"

	"github.com/openrv/govnc/internal/wire"
)

// CopyRectDecoder implements CopyRect (1): copy a subrectangle already in
// the framebuffer to a new location. Uses a scratch buffer on Finish to
// remain correct when source and destination overlap (spec.md §4.5).
type CopyRectDecoder struct {
	rect     Rect
	srcX     uint16
	srcY     uint16
	buf      [4]byte
	consumed int
}

func (d *CopyRectDecoder) BeginRect(rect Rect, format wire.PixelFormat) error {
	d.rect = rect
	d.consumed = 0
	return nil
}

func (d *CopyRectDecoder) Consume(buf []byte) (int, error) {
	n := copy(d.buf[d.consumed:], buf)
	d.consumed += n
	if d.consumed == 4 {
		d.srcX = wire.ReadU16(d.buf[0:2])
		d.srcY = wire.ReadU16(d.buf[2:4])
	}
	return n, nil
}

func (d *CopyRectDecoder) CanFinish() bool {
	return d.consumed >= 4
}

func (d *CopyRectDecoder) Finish(fb *Framebuffer, cursor *Cursor) error {
	if d.rect.W == 0 || d.rect.H == 0 {
		return nil
	}
	if err := fb.CheckRect(d.rect.X, d.rect.Y, d.rect.W, d.rect.H); err != nil {
		return fmt.Errorf("copyrect destination: %w", err)
	}
	if err := fb.CheckRect(d.srcX, d.srcY, d.rect.W, d.rect.H); err != nil {
		return fmt.Errorf("copyrect source: %w", err)
	}
	fb.WithLock(func() {
		scratch := make([]byte, int(d.rect.W)*int(d.rect.H)*bytesPerPixel)
		rowBytes := int(d.rect.W) * bytesPerPixel
		for row := 0; row < int(d.rect.H); row++ {
			srcOff := ((int(d.srcY)+row)*int(fb.Width) + int(d.srcX)) * bytesPerPixel
			copy(scratch[row*rowBytes:(row+1)*rowBytes], fb.Pixels[srcOff:srcOff+rowBytes])
		}
		for row := 0; row < int(d.rect.H); row++ {
			dstOff := ((int(d.rect.Y)+row)*int(fb.Width) + int(d.rect.X)) * bytesPerPixel
			copy(fb.Pixels[dstOff:dstOff+rowBytes], scratch[row*rowBytes:(row+1)*rowBytes])
		}
		fb.Sequence++
	})
	return nil
}
