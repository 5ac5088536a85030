package decoder

import "github.com/openrv/govnc/internal/wire"

// CursorDecoder implements the Cursor pseudo-encoding (-239): a w*h pixel
// image in the negotiated pixel format followed by a 1bpp bitmask, each
// mask row padded to a whole byte. A 0x0 rect means "no cursor".
type CursorDecoder struct {
	rect   Rect
	format wire.PixelFormat

	pixels    []byte
	pixelsGot int
	mask      []byte
	maskGot   int
}

func (d *CursorDecoder) BeginRect(rect Rect, format wire.PixelFormat) error {
	d.rect = rect
	d.format = format
	d.pixels = make([]byte, int(rect.W)*int(rect.H)*format.BytesPerPixel())
	d.pixelsGot = 0
	maskRowBytes := (int(rect.W) + 7) / 8
	d.mask = make([]byte, maskRowBytes*int(rect.H))
	d.maskGot = 0
	return nil
}

func (d *CursorDecoder) Consume(buf []byte) (int, error) {
	total := 0
	if d.pixelsGot < len(d.pixels) {
		n := copy(d.pixels[d.pixelsGot:], buf)
		d.pixelsGot += n
		buf = buf[n:]
		total += n
	}
	if d.pixelsGot < len(d.pixels) {
		return total, nil
	}
	if d.maskGot < len(d.mask) {
		n := copy(d.mask[d.maskGot:], buf)
		d.maskGot += n
		total += n
	}
	return total, nil
}

func (d *CursorDecoder) CanFinish() bool {
	return d.pixelsGot >= len(d.pixels) && d.maskGot >= len(d.mask)
}

func (d *CursorDecoder) Finish(fb *Framebuffer, cursor *Cursor) error {
	if d.rect.W == 0 || d.rect.H == 0 {
		cursor.Set(0, 0, 0, 0, nil)
		return nil
	}
	bpp := d.format.BytesPerPixel()
	maskRowBytes := (int(d.rect.W) + 7) / 8
	rgba := make([]byte, int(d.rect.W)*int(d.rect.H)*4)
	rgb := make([]byte, 3)
	for y := 0; y < int(d.rect.H); y++ {
		for x := 0; x < int(d.rect.W); x++ {
			pixOff := (y*int(d.rect.W) + x) * bpp
			wire.UnpackPixel(rgb, d.pixels[pixOff:], d.format)
			byteIdx := y*maskRowBytes + x/8
			bit := uint(7 - x%8)
			alpha := byte(0)
			if d.mask[byteIdx]&(1<<bit) != 0 {
				alpha = 255
			}
			off := (y*int(d.rect.W) + x) * 4
			copy(rgba[off:off+3], rgb)
			rgba[off+3] = alpha
		}
	}
	cursor.Set(d.rect.W, d.rect.H, d.rect.X, d.rect.Y, rgba)
	return nil
}
