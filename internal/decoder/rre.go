package decoder

import (
	"fmt"

	"github.com/openrv/govnc/internal/wire"
)

// maxSubrectCount bounds RRE/CoRRE's subrectangle count to resist
// allocation amplification from a malicious declared count (spec.md §4.5).
const maxSubrectCount = 1_000_000

type rreSubrect struct {
	pixel      []byte // raw wire-format pixel bytes, bpp long
	x, y, w, h uint16
}

// RREDecoder implements both RRE (2) and CoRRE (4): CoRRE packs subrect
// coordinates/size as uint8 rather than uint16.
type RREDecoder struct {
	coRRE  bool
	lenientBogusCoords bool

	rect   Rect
	format wire.PixelFormat

	phase int // 0=count+bg, 1=subrects
	hdr   []byte
	hdrGot int

	count     uint32
	bg        []byte
	subrects  []rreSubrect
	readIdx   int
	subrectBuf []byte
	subrectGot int
	subrectSize int
}

func NewRREDecoder(coRRE bool, lenient bool) *RREDecoder {
	return &RREDecoder{coRRE: coRRE, lenientBogusCoords: lenient}
}

func (d *RREDecoder) BeginRect(rect Rect, format wire.PixelFormat) error {
	d.rect = rect
	d.format = format
	d.phase = 0
	bpp := format.BytesPerPixel()
	d.hdr = make([]byte, 4+bpp)
	d.hdrGot = 0
	d.subrects = nil
	d.readIdx = 0
	if d.coRRE {
		d.subrectSize = bpp + 4 // pixel + x,y,w,h (uint8 each)
	} else {
		d.subrectSize = bpp + 8 // pixel + x,y,w,h (uint16 each)
	}
	d.subrectBuf = make([]byte, d.subrectSize)
	d.subrectGot = 0
	return nil
}

func (d *RREDecoder) Consume(buf []byte) (int, error) {
	total := 0
	for len(buf) > 0 {
		switch d.phase {
		case 0:
			n := copy(d.hdr[d.hdrGot:], buf)
			d.hdrGot += n
			buf = buf[n:]
			total += n
			if d.hdrGot == len(d.hdr) {
				d.count = wire.ReadU32(d.hdr[0:4])
				if d.count > maxSubrectCount {
					return total, fmt.Errorf("RRE/CoRRE subrect count %d exceeds %d limit", d.count, maxSubrectCount)
				}
				d.bg = append([]byte{}, d.hdr[4:]...)
				d.subrects = make([]rreSubrect, 0, d.count)
				d.phase = 1
			}
		case 1:
			if uint32(len(d.subrects)) >= d.count {
				return total, nil
			}
			n := copy(d.subrectBuf[d.subrectGot:], buf)
			d.subrectGot += n
			buf = buf[n:]
			total += n
			if d.subrectGot == d.subrectSize {
				sr, err := d.decodeSubrect(d.subrectBuf)
				if err != nil {
					return total, err
				}
				d.subrects = append(d.subrects, sr)
				d.subrectGot = 0
			}
		}
	}
	return total, nil
}

func (d *RREDecoder) decodeSubrect(buf []byte) (rreSubrect, error) {
	bpp := d.format.BytesPerPixel()
	pixel := append([]byte{}, buf[:bpp]...)
	var x, y, w, h uint16
	if d.coRRE {
		x, y, w, h = uint16(buf[bpp]), uint16(buf[bpp+1]), uint16(buf[bpp+2]), uint16(buf[bpp+3])
	} else {
		x = wire.ReadU16(buf[bpp : bpp+2])
		y = wire.ReadU16(buf[bpp+2 : bpp+4])
		w = wire.ReadU16(buf[bpp+4 : bpp+6])
		h = wire.ReadU16(buf[bpp+6 : bpp+8])
	}
	if int(x)+int(w) > int(d.rect.W) || int(y)+int(h) > int(d.rect.H) {
		if !d.lenientBogusCoords {
			return rreSubrect{}, fmt.Errorf("CoRRE/RRE subrect (%d,%d %dx%d) out of bounds for rect %dx%d", x, y, w, h, d.rect.W, d.rect.H)
		}
		// Lenient mode: clamp so the write stays in-bounds rather than
		// rejecting the whole connection over one bogus server.
		if int(x) > int(d.rect.W) {
			x = d.rect.W
		}
		if int(y) > int(d.rect.H) {
			y = d.rect.H
		}
		if int(x)+int(w) > int(d.rect.W) {
			w = d.rect.W - x
		}
		if int(y)+int(h) > int(d.rect.H) {
			h = d.rect.H - y
		}
	}
	return rreSubrect{pixel: pixel, x: x, y: y, w: w, h: h}, nil
}

func (d *RREDecoder) CanFinish() bool {
	return d.phase == 1 && uint32(len(d.subrects)) >= d.count
}

func (d *RREDecoder) Finish(fb *Framebuffer, cursor *Cursor) error {
	if d.rect.W == 0 || d.rect.H == 0 {
		return nil
	}
	if err := fb.CheckRect(d.rect.X, d.rect.Y, d.rect.W, d.rect.H); err != nil {
		return err
	}
	fb.WithLock(func() {
		rgb := make([]byte, 3)
		wire.UnpackPixel(rgb, d.bg, d.format)
		for sy := 0; sy < int(d.rect.H); sy++ {
			for sx := 0; sx < int(d.rect.W); sx++ {
				fb.WritePixel(d.rect.X+uint16(sx), d.rect.Y+uint16(sy), rgb)
			}
		}
		for _, sr := range d.subrects {
			var srgb [3]byte
			wire.UnpackPixel(srgb[:], sr.pixel, d.format)
			for sy := 0; sy < int(sr.h); sy++ {
				for sx := 0; sx < int(sr.w); sx++ {
					fb.WritePixel(d.rect.X+sr.x+uint16(sx), d.rect.Y+sr.y+uint16(sy), srgb[:])
				}
			}
		}
		fb.Sequence++
	})
	return nil
}
