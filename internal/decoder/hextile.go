package decoder

import (
	"fmt"

	"github.com/openrv/govnc/internal/wire"
)

const hextileTileSize = 16

const (
	hextileRaw              = 1
	hextileBackgroundSpec    = 2
	hextileForegroundSpec    = 4
	hextileAnySubrects       = 8
	hextileSubrectsColoured  = 16
)

type hextileSubrect struct {
	pixel      []byte // only set when SubrectsColoured
	x, y, w, h uint8  // packed nibbles: x,y in 0..15, w,h are size-1 in 0..15
}

// HextileDecoder implements the Hextile (5) encoding: the rectangle is
// tiled into 16x16 cells scanned left-to-right, top-to-bottom, with
// background/foreground colour caching across cells within one rectangle.
type HextileDecoder struct {
	rect   Rect
	format wire.PixelFormat

	tileCols, tileRows int
	tileIndex          int

	haveBackground bool
	background     []byte
	haveForeground bool
	foreground     []byte

	// per-tile parse state
	tileState       int // 0=subencoding byte, 1=raw body, 2=subrect count, 3=subrect records
	subencoding     byte
	rawBuf          []byte
	rawGot          int
	subrectCountBuf [1]byte
	subrectCount    int
	subrectsRead    int
	subrectRecSize  int
	subrectBuf      []byte
	subrectGot      int
	tileSubrects    []hextileSubrect
	tileIsRaw       bool
	tileRawPixels   []byte

	finishedTiles []finishedHextile
}

type finishedHextile struct {
	x, y, w, h uint16
	isRaw      bool
	rawPixels  []byte // RGB888, w*h*3
	background []byte // wire-format bg pixel, used when not raw
	foreground []byte // wire-format fg pixel in effect when this tile was parsed
	subrects   []hextileSubrect
	coloured   bool
}

func (d *HextileDecoder) BeginRect(rect Rect, format wire.PixelFormat) error {
	d.rect = rect
	d.format = format
	d.tileCols = (int(rect.W) + hextileTileSize - 1) / hextileTileSize
	d.tileRows = (int(rect.H) + hextileTileSize - 1) / hextileTileSize
	if d.tileCols == 0 || d.tileRows == 0 {
		d.tileCols, d.tileRows = 0, 0
	}
	d.tileIndex = 0
	d.haveBackground = false
	d.haveForeground = false
	d.tileState = 0
	d.finishedTiles = d.finishedTiles[:0]
	return nil
}

func (d *HextileDecoder) currentTileBounds() (x, y, w, h uint16) {
	col := d.tileIndex % d.tileCols
	row := d.tileIndex / d.tileCols
	x = uint16(col * hextileTileSize)
	y = uint16(row * hextileTileSize)
	w = uint16(hextileTileSize)
	if int(x)+hextileTileSize > int(d.rect.W) {
		w = d.rect.W - x
	}
	h = uint16(hextileTileSize)
	if int(y)+hextileTileSize > int(d.rect.H) {
		h = d.rect.H - y
	}
	return
}

func (d *HextileDecoder) totalTiles() int {
	return d.tileCols * d.tileRows
}

func (d *HextileDecoder) Consume(buf []byte) (int, error) {
	total := 0
	for {
		if d.tileIndex >= d.totalTiles() {
			return total, nil
		}
		// States 11 and 2-without-subrects advance without reading a byte, so
		// a tile whose last byte ends buf is still finished in this call.
		needsByte := d.tileState != 11 && (d.tileState != 2 || d.subencoding&hextileAnySubrects != 0)
		if len(buf) == 0 && needsByte {
			return total, nil
		}
		switch d.tileState {
		case 0:
			d.subencoding = buf[0]
			buf = buf[1:]
			total++
			if d.subencoding&hextileForegroundSpec != 0 && d.subencoding&hextileSubrectsColoured != 0 {
				return total, fmt.Errorf("hextile tile %d has both ForegroundSpec and SubrectsColoured set, which is invalid", d.tileIndex)
			}
			d.tileIsRaw = d.subencoding&hextileRaw != 0
			if d.tileIsRaw {
				_, _, w, h := d.currentTileBounds()
				bpp := d.format.BytesPerPixel()
				d.rawBuf = make([]byte, int(w)*int(h)*bpp)
				d.rawGot = 0
				d.tileState = 1
				continue
			}
			if d.subencoding&hextileBackgroundSpec != 0 {
				d.subrectBuf = make([]byte, d.format.BytesPerPixel())
				d.subrectGot = 0
				d.tileState = 10 // reading background pixel
				continue
			}
			d.tileState = 11 // maybe foreground
		case 10:
			n := copy(d.subrectBuf[d.subrectGot:], buf)
			d.subrectGot += n
			buf = buf[n:]
			total += n
			if d.subrectGot == len(d.subrectBuf) {
				d.background = append([]byte{}, d.subrectBuf...)
				d.haveBackground = true
				d.tileState = 11
			}
		case 11:
			if d.subencoding&hextileForegroundSpec != 0 {
				d.subrectBuf = make([]byte, d.format.BytesPerPixel())
				d.subrectGot = 0
				d.tileState = 12
				continue
			}
			d.tileState = 2
		case 12:
			n := copy(d.subrectBuf[d.subrectGot:], buf)
			d.subrectGot += n
			buf = buf[n:]
			total += n
			if d.subrectGot == len(d.subrectBuf) {
				d.foreground = append([]byte{}, d.subrectBuf...)
				d.haveForeground = true
				d.tileState = 2
			}
		case 2:
			if d.subencoding&hextileAnySubrects == 0 {
				d.finishTile(nil)
				continue
			}
			d.subrectCountBuf[0] = buf[0]
			buf = buf[1:]
			total++
			d.subrectCount = int(d.subrectCountBuf[0])
			d.subrectsRead = 0
			d.tileSubrects = make([]hextileSubrect, 0, d.subrectCount)
			coloured := d.subencoding&hextileSubrectsColoured != 0
			if coloured {
				d.subrectRecSize = d.format.BytesPerPixel() + 2
			} else {
				d.subrectRecSize = 2
			}
			d.subrectBuf = make([]byte, d.subrectRecSize)
			d.subrectGot = 0
			if d.subrectCount == 0 {
				d.finishTile(d.tileSubrects)
				continue
			}
			d.tileState = 3
		case 3:
			n := copy(d.subrectBuf[d.subrectGot:], buf)
			d.subrectGot += n
			buf = buf[n:]
			total += n
			if d.subrectGot == d.subrectRecSize {
				coloured := d.subencoding&hextileSubrectsColoured != 0
				var sr hextileSubrect
				if coloured {
					bpp := d.format.BytesPerPixel()
					sr.pixel = append([]byte{}, d.subrectBuf[:bpp]...)
					xy := d.subrectBuf[bpp]
					wh := d.subrectBuf[bpp+1]
					sr.x, sr.y = xy>>4, xy&0x0F
					sr.w, sr.h = wh>>4, wh&0x0F
				} else {
					xy := d.subrectBuf[0]
					wh := d.subrectBuf[1]
					sr.x, sr.y = xy>>4, xy&0x0F
					sr.w, sr.h = wh>>4, wh&0x0F
				}
				d.tileSubrects = append(d.tileSubrects, sr)
				d.subrectsRead++
				d.subrectGot = 0
				if d.subrectsRead >= d.subrectCount {
					d.finishTile(d.tileSubrects)
				}
			}
		case 1:
			n := copy(d.rawBuf[d.rawGot:], buf)
			d.rawGot += n
			buf = buf[n:]
			total += n
			if d.rawGot == len(d.rawBuf) {
				x, y, w, h := d.currentTileBounds()
				rgbBuf := make([]byte, int(w)*int(h)*3)
				bpp := d.format.BytesPerPixel()
				rgb := make([]byte, 3)
				for i := 0; i < int(w)*int(h); i++ {
					wire.UnpackPixel(rgb, d.rawBuf[i*bpp:], d.format)
					copy(rgbBuf[i*3:i*3+3], rgb)
				}
				d.finishedTiles = append(d.finishedTiles, finishedHextile{x: x, y: y, w: w, h: h, isRaw: true, rawPixels: rgbBuf})
				d.advanceTile()
			}
		}
	}
}

// finishTile records a non-raw tile's parsed state (subrects already
// decoded) and advances to the next tile.
func (d *HextileDecoder) finishTile(subrects []hextileSubrect) {
	x, y, w, h := d.currentTileBounds()
	bg := append([]byte{}, d.background...)
	fg := append([]byte{}, d.foreground...)
	coloured := d.subencoding&hextileSubrectsColoured != 0
	d.finishedTiles = append(d.finishedTiles, finishedHextile{
		x: x, y: y, w: w, h: h, isRaw: false, background: bg, foreground: fg, subrects: subrects, coloured: coloured,
	})
	d.advanceTile()
}

func (d *HextileDecoder) advanceTile() {
	d.tileIndex++
	d.tileState = 0
}

func (d *HextileDecoder) CanFinish() bool {
	return d.tileIndex >= d.totalTiles()
}

func (d *HextileDecoder) Finish(fb *Framebuffer, cursor *Cursor) error {
	if d.rect.W == 0 || d.rect.H == 0 {
		return nil
	}
	if err := fb.CheckRect(d.rect.X, d.rect.Y, d.rect.W, d.rect.H); err != nil {
		return err
	}
	fb.WithLock(func() {
		for _, tile := range d.finishedTiles {
			baseX := d.rect.X + tile.x
			baseY := d.rect.Y + tile.y
			if tile.isRaw {
				for sy := 0; sy < int(tile.h); sy++ {
					for sx := 0; sx < int(tile.w); sx++ {
						off := (sy*int(tile.w) + sx) * 3
						fb.WritePixel(baseX+uint16(sx), baseY+uint16(sy), tile.rawPixels[off:off+3])
					}
				}
				continue
			}
			var bgRGB [3]byte
			if len(tile.background) > 0 {
				wire.UnpackPixel(bgRGB[:], tile.background, d.format)
			}
			for sy := 0; sy < int(tile.h); sy++ {
				for sx := 0; sx < int(tile.w); sx++ {
					fb.WritePixel(baseX+uint16(sx), baseY+uint16(sy), bgRGB[:])
				}
			}
			var fgRGB [3]byte
			if len(tile.foreground) > 0 {
				wire.UnpackPixel(fgRGB[:], tile.foreground, d.format)
			}
			for _, sr := range tile.subrects {
				w := uint16(sr.w) + 1
				h := uint16(sr.h) + 1
				px := fgRGB[:]
				if tile.coloured {
					var crgb [3]byte
					wire.UnpackPixel(crgb[:], sr.pixel, d.format)
					px = crgb[:]
				}
				for sy := 0; sy < int(h); sy++ {
					for sx := 0; sx < int(w); sx++ {
						fb.WritePixel(baseX+uint16(sr.x)+uint16(sx), baseY+uint16(sr.y)+uint16(sy), px)
					}
				}
			}
		}
		fb.Sequence++
	})
	return nil
}
