package decoder

import (
	"fmt"

	"github.com/openrv/govnc/internal/wire"
)

// maxRectBufferBytes bounds a single rectangle's raw pixel buffer,
// preventing a malicious w/h/bpp combination from requesting an
// unreasonable allocation before any bytes are read.
const maxRectBufferBytes = 256 << 20 // 256 MiB, comfortably under the 1 GiB framebuffer cap

// RawDecoder implements the mandatory Raw (0) encoding: w*h pixels in the
// current communication format, unpacked to RGB888 on Finish.
type RawDecoder struct {
	rect     Rect
	format   wire.PixelFormat
	data     []byte
	consumed int
}

func (d *RawDecoder) BeginRect(rect Rect, format wire.PixelFormat) error {
	d.rect = rect
	d.format = format
	expected := int(rect.W) * int(rect.H) * format.BytesPerPixel()
	if expected > maxRectBufferBytes {
		return fmt.Errorf("raw rect %dx%d at %d bytes/pixel exceeds %d byte cap", rect.W, rect.H, format.BytesPerPixel(), maxRectBufferBytes)
	}
	d.data = make([]byte, expected)
	d.consumed = 0
	return nil
}

func (d *RawDecoder) Consume(buf []byte) (int, error) {
	n := copy(d.data[d.consumed:], buf)
	d.consumed += n
	return n, nil
}

func (d *RawDecoder) CanFinish() bool {
	return d.consumed >= len(d.data)
}

func (d *RawDecoder) Finish(fb *Framebuffer, cursor *Cursor) error {
	if d.rect.W == 0 || d.rect.H == 0 {
		return nil
	}
	if err := fb.CheckRect(d.rect.X, d.rect.Y, d.rect.W, d.rect.H); err != nil {
		return err
	}
	bpp := d.format.BytesPerPixel()
	fb.WithLock(func() {
		rgb := make([]byte, 3)
		for sy := 0; sy < int(d.rect.H); sy++ {
			dy := int(d.rect.Y) + sy
			for sx := 0; sx < int(d.rect.W); sx++ {
				dx := int(d.rect.X) + sx
				src := d.data[(sy*int(d.rect.W)+sx)*bpp:]
				wire.UnpackPixel(rgb, src, d.format)
				fb.WritePixel(uint16(dx), uint16(dy), rgb)
			}
		}
		fb.Sequence++
	})
	return nil
}
