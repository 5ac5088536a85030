package decoder

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/openrv/govnc/internal/wire"
)

// TestZRLEDecoderSolidTile builds a single 4x4 rectangle, one ZRLE tile,
// subencoding 1 (solid), through a real zlib stream.
func TestZRLEDecoderSolidTile(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	rect := Rect{X: 0, Y: 0, W: 4, H: 4, Encoding: 16}

	layout := computeCPixelLayout(format)
	cpixel := packColourXRGB8888(11, 22, 33)[:layout.size]

	var tileBytes []byte
	tileBytes = append(tileBytes, 1) // subencoding: solid
	tileBytes = append(tileBytes, cpixel...)

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(tileBytes); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var msg []byte
	msg = append(msg, wire.AppendU32(nil, uint32(compressed.Len()))...)
	msg = append(msg, compressed.Bytes()...)

	d := &ZRLEDecoder{}
	if err := d.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}
	for off := 0; off < len(msg); {
		end := off + 5
		if end > len(msg) {
			end = len(msg)
		}
		n, err := d.Consume(msg[off:end])
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if n == 0 {
			t.Fatalf("Consume made no progress at offset %d", off)
		}
		off += n
	}
	if !d.CanFinish() {
		t.Fatal("decoder not finished after consuming all bytes")
	}

	fb := &Framebuffer{}
	fb.Resize(rect.W, rect.H)
	if err := d.Finish(fb, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got := make([]byte, 3)
	fb.ReadPixel(3, 3, got)
	want := []byte{11, 22, 33}
	if !bytes.Equal(got, want) {
		t.Errorf("pixel (3,3) = %v, want %v", got, want)
	}
}
