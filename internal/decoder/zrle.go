package decoder

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/openrv/govnc/internal/wire"
)

const zrleTileSize = 64

// cpixelLayout describes how a CPixel ("compressed pixel") is packed for
// the current pixel format: either the full bpp/8 bytes unchanged, or 3
// bytes with the colour-less 4th byte of a 32bpp/depth<=24 format omitted,
// per spec.md §4.5's ZRLE definition.
type cpixelLayout struct {
	size     int
	dropHigh bool // true: the omitted byte is the format's most-significant byte
}

func computeCPixelLayout(f wire.PixelFormat) cpixelLayout {
	if f.BitsPerPixel == 32 && f.Depth <= 24 {
		var mask uint32
		for c := 0; c < 3; c++ {
			mask |= uint32(f.ColorMax[c]) << f.ColorShift[c]
		}
		if mask&0xFF000000 == 0 {
			return cpixelLayout{size: 3, dropHigh: true}
		}
		if mask&0x000000FF == 0 {
			return cpixelLayout{size: 3, dropHigh: false}
		}
	}
	return cpixelLayout{size: f.BytesPerPixel()}
}

// expand reconstructs a full bpp-sized wire pixel from a CPixel's raw bytes
// so it can be handed to wire.UnpackPixel unchanged.
func (l cpixelLayout) expand(cpixel []byte, f wire.PixelFormat) []byte {
	if l.size == f.BytesPerPixel() {
		return cpixel
	}
	full := make([]byte, 4)
	// The omitted byte sits at index 3 (little-endian) or 0 (big-endian)
	// when it is the most-significant one, and at the other end otherwise.
	offset := 0
	if l.dropHigh == f.BigEndian {
		offset = 1
	}
	copy(full[offset:offset+3], cpixel)
	return full
}

// ZRLEDecoder implements ZRLE (16): length-prefixed zlib stream (persistent
// across the connection), tiled into 64x64 cells with raw/solid/palette/
// RLE/palette-RLE subencodings.
type ZRLEDecoder struct {
	reader io.ReadCloser

	rect   Rect
	format wire.PixelFormat

	lenBuf  [4]byte
	lenGot  int
	compLen uint32
	compBuf []byte
	compGot int

	tiles [][]byte // decoded RGB888 per tile, in raster order
	err   error
}

func (d *ZRLEDecoder) BeginRect(rect Rect, format wire.PixelFormat) error {
	d.rect = rect
	d.format = format
	d.lenGot = 0
	d.compGot = 0
	d.tiles = nil
	d.err = nil
	return nil
}

func (d *ZRLEDecoder) Consume(buf []byte) (int, error) {
	total := 0
	if d.lenGot < 4 {
		n := copy(d.lenBuf[d.lenGot:], buf)
		d.lenGot += n
		buf = buf[n:]
		total += n
		if d.lenGot < 4 {
			return total, nil
		}
		d.compLen = wire.ReadU32(d.lenBuf[:])
		if d.compLen > maxCompressedBlockBytes {
			return total, fmt.Errorf("ZRLE rect declares %d compressed bytes, exceeds %d byte cap", d.compLen, maxCompressedBlockBytes)
		}
		d.compBuf = make([]byte, 0, d.compLen)
	}
	need := int(d.compLen) - d.compGot
	if need > len(buf) {
		need = len(buf)
	}
	if need > 0 {
		d.compBuf = append(d.compBuf, buf[:need]...)
		d.compGot += need
		total += need
	}
	return total, nil
}

func (d *ZRLEDecoder) CanFinish() bool {
	return d.lenGot == 4 && d.compGot >= int(d.compLen)
}

func (d *ZRLEDecoder) Finish(fb *Framebuffer, cursor *Cursor) error {
	if d.rect.W == 0 || d.rect.H == 0 {
		return nil
	}
	if err := fb.CheckRect(d.rect.X, d.rect.Y, d.rect.W, d.rect.H); err != nil {
		return err
	}

	if d.reader == nil {
		r, err := zlib.NewReader(bytes.NewReader(d.compBuf))
		if err != nil {
			return fmt.Errorf("opening persistent ZRLE zlib stream: %w", err)
		}
		d.reader = r
	} else if resetter, ok := d.reader.(zlib.Resetter); ok {
		if err := resetter.Reset(bytes.NewReader(d.compBuf), nil); err != nil {
			return fmt.Errorf("feeding ZRLE zlib stream: %w", err)
		}
	}

	br := bufio.NewReader(d.reader)
	layout := computeCPixelLayout(d.format)
	bpp := d.format.BytesPerPixel()

	cols := (int(d.rect.W) + zrleTileSize - 1) / zrleTileSize
	rows := (int(d.rect.H) + zrleTileSize - 1) / zrleTileSize

	fb.WithLock(func() {
		for row := 0; row < rows; row++ {
			tileY := uint16(row * zrleTileSize)
			tileH := uint16(zrleTileSize)
			if int(tileY)+zrleTileSize > int(d.rect.H) {
				tileH = d.rect.H - tileY
			}
			for col := 0; col < cols; col++ {
				tileX := uint16(col * zrleTileSize)
				tileW := uint16(zrleTileSize)
				if int(tileX)+zrleTileSize > int(d.rect.W) {
					tileW = d.rect.W - tileX
				}
				if d.err != nil {
					return
				}
				d.err = d.decodeTile(br, layout, bpp, fb, d.rect.X+tileX, d.rect.Y+tileY, tileW, tileH)
			}
		}
		fb.Sequence++
	})
	return d.err
}

func (d *ZRLEDecoder) decodeTile(br *bufio.Reader, layout cpixelLayout, bpp int, fb *Framebuffer, x, y, w, h uint16) error {
	subenc, err := br.ReadByte()
	if err != nil {
		return fmt.Errorf("reading ZRLE tile subencoding: %w", err)
	}

	rgb := make([]byte, 3)
	setPixel := func(px, py uint16, cpixel []byte) {
		full := layout.expand(cpixel, d.format)
		wire.UnpackPixel(rgb, full, d.format)
		fb.WritePixel(px, py, rgb)
	}

	switch {
	case subenc == 0: // raw CPixels
		buf := make([]byte, layout.size)
		for sy := uint16(0); sy < h; sy++ {
			for sx := uint16(0); sx < w; sx++ {
				if _, err := io.ReadFull(br, buf); err != nil {
					return fmt.Errorf("reading raw ZRLE tile pixel: %w", err)
				}
				setPixel(x+sx, y+sy, buf)
			}
		}
		return nil

	case subenc == 1: // solid tile
		buf := make([]byte, layout.size)
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("reading solid ZRLE tile pixel: %w", err)
		}
		for sy := uint16(0); sy < h; sy++ {
			for sx := uint16(0); sx < w; sx++ {
				setPixel(x+sx, y+sy, buf)
			}
		}
		return nil

	case subenc >= 2 && subenc <= 16:
		palette, err := readPalette(br, int(subenc), layout.size)
		if err != nil {
			return err
		}
		bitsPerIndex := indexBitWidth(int(subenc))
		indices, err := readPackedIndices(br, int(w), int(h), bitsPerIndex)
		if err != nil {
			return err
		}
		for sy := uint16(0); sy < h; sy++ {
			for sx := uint16(0); sx < w; sx++ {
				idx := indices[int(sy)*int(w)+int(sx)]
				if int(idx) >= len(palette) {
					return fmt.Errorf("ZRLE palette index %d >= palette size %d", idx, len(palette))
				}
				setPixel(x+sx, y+sy, palette[idx])
			}
		}
		return nil

	case subenc == 128: // plain RLE
		remaining := int(w) * int(h)
		buf := make([]byte, layout.size)
		for remaining > 0 {
			if _, err := io.ReadFull(br, buf); err != nil {
				return fmt.Errorf("reading RLE pixel: %w", err)
			}
			runLen, err := readRunLength(br)
			if err != nil {
				return err
			}
			if runLen > remaining {
				return fmt.Errorf("ZRLE RLE run length %d overruns tile of %d pixels", runLen, remaining)
			}
			start := int(w)*int(h) - remaining
			for i := 0; i < runLen; i++ {
				px := x + uint16((start+i)%int(w))
				py := y + uint16((start+i)/int(w))
				setPixel(px, py, buf)
			}
			remaining -= runLen
		}
		return nil

	case subenc >= 130:
		paletteSize := int(subenc) - 128
		palette, err := readPalette(br, paletteSize, layout.size)
		if err != nil {
			return err
		}
		remaining := int(w) * int(h)
		for remaining > 0 {
			b, err := br.ReadByte()
			if err != nil {
				return fmt.Errorf("reading palette-RLE index byte: %w", err)
			}
			idx := int(b & 0x7F)
			runLen := 1
			if b&0x80 != 0 {
				runLen, err = readRunLength(br)
				if err != nil {
					return err
				}
			}
			if idx >= len(palette) {
				return fmt.Errorf("ZRLE palette-RLE index %d >= palette size %d", idx, len(palette))
			}
			if runLen > remaining {
				return fmt.Errorf("ZRLE palette-RLE run length %d overruns tile of %d pixels", runLen, remaining)
			}
			start := int(w)*int(h) - remaining
			for i := 0; i < runLen; i++ {
				px := x + uint16((start+i)%int(w))
				py := y + uint16((start+i)/int(w))
				setPixel(px, py, palette[idx])
			}
			remaining -= runLen
		}
		return nil

	default:
		return fmt.Errorf("invalid ZRLE subencoding %d", subenc)
	}
}

func indexBitWidth(paletteSize int) int {
	switch {
	case paletteSize <= 2:
		return 1
	case paletteSize <= 4:
		return 2
	default:
		return 4
	}
}

func readPalette(br *bufio.Reader, size int, cpixelSize int) ([][]byte, error) {
	palette := make([][]byte, size)
	for i := 0; i < size; i++ {
		buf := make([]byte, cpixelSize)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("reading ZRLE palette entry %d: %w", i, err)
		}
		palette[i] = buf
	}
	return palette, nil
}

// readPackedIndices reads w*h palette indices packed bitsPerIndex to a
// byte, each row byte-aligned (a new byte starts at the beginning of every
// tile row), matching the ZRLE packed-index convention.
func readPackedIndices(br *bufio.Reader, w, h, bitsPerIndex int) ([]byte, error) {
	out := make([]byte, w*h)
	indicesPerByte := 8 / bitsPerIndex
	rowBytes := (w + indicesPerByte - 1) / indicesPerByte
	mask := byte(1<<uint(bitsPerIndex)) - 1
	for row := 0; row < h; row++ {
		rowBuf := make([]byte, rowBytes)
		if _, err := io.ReadFull(br, rowBuf); err != nil {
			return nil, fmt.Errorf("reading packed index row: %w", err)
		}
		for col := 0; col < w; col++ {
			byteIdx := col / indicesPerByte
			shift := 8 - bitsPerIndex*(col%indicesPerByte+1)
			out[row*w+col] = (rowBuf[byteIdx] >> uint(shift)) & mask
		}
	}
	return out, nil
}

// readRunLength reads a ZRLE run length: the sum of bytes read plus one,
// terminated by the first byte that is not 255.
func readRunLength(br *bufio.Reader) (int, error) {
	total := 1
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("reading ZRLE run length: %w", err)
		}
		total += int(b)
		if b != 255 {
			return total, nil
		}
	}
}

func (d *ZRLEDecoder) ResetConnection() {
	if d.reader != nil {
		_ = d.reader.Close()
		d.reader = nil
	}
}
