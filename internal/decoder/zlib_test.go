package decoder

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/openrv/govnc/internal/wire"
)

func TestZlibDecoderRoundTrip(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	rect := Rect{X: 0, Y: 0, W: 2, H: 2, Encoding: 6}

	var raw []byte
	for i := 0; i < 4; i++ {
		raw = append(raw, packColourXRGB8888(byte(i*10), byte(i*20), byte(i*30))...)
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(raw); err != nil {
		t.Fatalf("compressing fixture: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zlib writer: %v", err)
	}

	var msg []byte
	msg = append(msg, wire.AppendU32(nil, uint32(compressed.Len()))...)
	msg = append(msg, compressed.Bytes()...)

	d := &ZlibDecoder{}
	if err := d.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}
	for off := 0; off < len(msg); {
		end := off + 4
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
	fb.ReadPixel(1, 1, got)
	want := []byte{30, 60, 90}
	if !bytes.Equal(got, want) {
		t.Errorf("pixel (1,1) = %v, want %v", got, want)
	}
}

// TestZlibDecoderPersistsStreamAcrossRects checks that the same decoder
// instance (and so the same persistent inflate reader, only reset between
// rects rather than reopened) can decode a second, independently-compressed
// rectangle after the first.
func TestZlibDecoderPersistsStreamAcrossRects(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	rect := Rect{X: 0, Y: 0, W: 1, H: 1, Encoding: 6}

	compressBlock := func(payload []byte) []byte {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("compress: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		return buf.Bytes()
	}
	firstBlock := compressBlock(packColourXRGB8888(1, 2, 3))
	secondBlock := compressBlock(packColourXRGB8888(4, 5, 6))

	d := &ZlibDecoder{}
	fb := &Framebuffer{}
	fb.Resize(rect.W, rect.H)

	feed := func(block []byte) {
		if err := d.BeginRect(rect, format); err != nil {
			t.Fatalf("BeginRect: %v", err)
		}
		msg := append(wire.AppendU32(nil, uint32(len(block))), block...)
		if _, err := d.Consume(msg); err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if !d.CanFinish() {
			t.Fatal("decoder not finished")
		}
		if err := d.Finish(fb, nil); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}

	feed(firstBlock)
	got := make([]byte, 3)
	fb.ReadPixel(0, 0, got)
	if want := []byte{1, 2, 3}; !bytes.Equal(got, want) {
		t.Errorf("first rect pixel = %v, want %v", got, want)
	}

	feed(secondBlock)
	fb.ReadPixel(0, 0, got)
	if want := []byte{4, 5, 6}; !bytes.Equal(got, want) {
		t.Errorf("second rect pixel = %v, want %v", got, want)
	}
}
