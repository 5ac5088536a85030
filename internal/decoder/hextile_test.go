package decoder

import (
	"bytes"
	"testing"

	"github.com/openrv/govnc/internal/wire"
)

// buildHextileTile encodes one 16x16-or-smaller tile: subencoding byte,
// optional background/foreground pixels, optional subrect count and
// records. format must be PresetBestXRGB8888 to match the literal pixel
// bytes used below.
func buildHextileTile(subencoding byte, bg, fg []byte, subrects [][2]byte) []byte {
	var buf []byte
	buf = append(buf, subencoding)
	if subencoding&hextileBackgroundSpec != 0 {
		buf = append(buf, bg...)
	}
	if subencoding&hextileForegroundSpec != 0 {
		buf = append(buf, fg...)
	}
	if subencoding&hextileAnySubrects != 0 {
		buf = append(buf, byte(len(subrects)))
		for _, sr := range subrects {
			buf = append(buf, sr[0], sr[1])
		}
	}
	return buf
}

// TestHextileForegroundPerTile is a regression test for the Finish
// foreground lookup: a rectangle of 3 tiles across one row where tile 0 sets
// foreground A and draws a subrect, tile 1 sets foreground B and draws a
// subrect, and tile 2 reuses AnySubrects without ForegroundSpecified. Tile
// 2's subrect must render in B (tile 1's foreground, the one in effect when
// tile 2 was parsed), never A or whatever the decoder-wide field ends up
// holding.
func TestHextileForegroundPerTile(t *testing.T) {
	format := wire.PresetBestXRGB8888()

	colourA := packColourXRGB8888(200, 0, 0)
	colourB := packColourXRGB8888(0, 200, 0)

	var wireBuf bytes.Buffer
	// tile 0: ForegroundSpec + AnySubrects, one subrect at (0,0) size 1x1 (w,h nibble 0 => size-1=0)
	wireBuf.Write(buildHextileTile(hextileForegroundSpec|hextileAnySubrects, nil, colourA, [][2]byte{{0x00, 0x00}}))
	// tile 1: ForegroundSpec + AnySubrects, different colour
	wireBuf.Write(buildHextileTile(hextileForegroundSpec|hextileAnySubrects, nil, colourB, [][2]byte{{0x00, 0x00}}))
	// tile 2: AnySubrects only, no ForegroundSpecified -> must reuse tile 1's foreground (colourB)
	wireBuf.Write(buildHextileTile(hextileAnySubrects, nil, nil, [][2]byte{{0x00, 0x00}}))

	d := &HextileDecoder{}
	rect := Rect{X: 0, Y: 0, W: 48, H: 16, Encoding: 5}
	if err := d.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}

	full := wireBuf.Bytes()
	// Feed one byte at a time to exercise resumability across arbitrary
	// boundaries, mirroring how the transport ring now delivers bytes.
	total := 0
	for total < len(full) {
		n, err := d.Consume(full[total : total+1])
		if err != nil {
			t.Fatalf("Consume at byte %d: %v", total, err)
		}
		if n != 1 {
			t.Fatalf("Consume at byte %d returned n=%d, want 1", total, n)
		}
		total += n
	}
	if !d.CanFinish() {
		t.Fatalf("decoder not finished after consuming all %d bytes", len(full))
	}

	fb := &Framebuffer{}
	fb.Resize(48, 16)
	if err := d.Finish(fb, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// Tile 2 starts at x=32 in the rect; its subrect is at (0,0) within the
	// tile, i.e. framebuffer pixel (32, 0).
	got := make([]byte, 3)
	fb.ReadPixel(32, 0, got)
	want := []byte{0, 200, 0} // colourB's RGB
	if !bytes.Equal(got, want) {
		t.Errorf("tile 2 subrect pixel = %v, want %v (tile 1's foreground, not tile 0's)", got, want)
	}

	// Sanity: tile 0's own subrect should render colourA.
	fb.ReadPixel(0, 0, got)
	want0 := []byte{200, 0, 0}
	if !bytes.Equal(got, want0) {
		t.Errorf("tile 0 subrect pixel = %v, want %v", got, want0)
	}
}

// TestHextileFragmentedAcrossByteBoundaries feeds a multi-tile rectangle
// (mixing raw tiles, background-only tiles, and coloured subrects) through
// Consume split at every single byte boundary, then again in a few
// arbitrary larger chunk sizes, checking the final framebuffer is identical
// regardless of how the bytes were chunked.
func TestHextileFragmentedAcrossByteBoundaries(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	bpp := format.BytesPerPixel()
	bg := packColourXRGB8888(10, 20, 30)
	fg := packColourXRGB8888(250, 100, 50)

	rawTilePixels := make([]byte, 16*16*bpp)
	for i := range rawTilePixels {
		rawTilePixels[i] = byte(i % 7)
	}

	var full bytes.Buffer
	full.Write(buildHextileTile(hextileRaw, nil, nil, nil))
	full.Write(rawTilePixels)
	full.Write(buildHextileTile(hextileBackgroundSpec|hextileForegroundSpec|hextileAnySubrects, bg, fg, [][2]byte{{0x11, 0x22}}))

	rect := Rect{X: 0, Y: 0, W: 32, H: 16, Encoding: 5}

	runWithChunkSize := func(chunk int) *Framebuffer {
		d := &HextileDecoder{}
		if err := d.BeginRect(rect, format); err != nil {
			t.Fatalf("BeginRect: %v", err)
		}
		data := full.Bytes()
		for off := 0; off < len(data); {
			end := off + chunk
			if end > len(data) {
				end = len(data)
			}
			n, err := d.Consume(data[off:end])
			if err != nil {
				t.Fatalf("Consume: %v", err)
			}
			if n == 0 {
				t.Fatalf("Consume made no progress at offset %d", off)
			}
			off += n
		}
		if !d.CanFinish() {
			t.Fatalf("decoder not finished with chunk size %d", chunk)
		}
		fb := &Framebuffer{}
		fb.Resize(32, 16)
		if err := d.Finish(fb, nil); err != nil {
			t.Fatalf("Finish: %v", err)
		}
		return fb
	}

	reference := runWithChunkSize(1)
	for _, chunk := range []int{2, 3, 5, 7, 64} {
		got := runWithChunkSize(chunk)
		if !bytes.Equal(got.Pixels, reference.Pixels) {
			t.Errorf("chunk size %d produced different pixels than byte-at-a-time feed", chunk)
		}
	}
}
