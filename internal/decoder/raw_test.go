package decoder

import (
	"bytes"
	"testing"

	"github.com/openrv/govnc/internal/wire"
)

func TestRawDecoderFragmentedConsume(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	rect := Rect{X: 0, Y: 0, W: 4, H: 2, Encoding: 0}

	var data []byte
	for y := 0; y < int(rect.H); y++ {
		for x := 0; x < int(rect.W); x++ {
			data = append(data, packColourXRGB8888(uint8(x*10), uint8(y*10), uint8(x+y))...)
		}
	}

	d := &RawDecoder{}
	if err := d.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}

	for off := 0; off < len(data); {
		chunk := data[off:]
		if len(chunk) > 3 {
			chunk = chunk[:3]
		}
		n, err := d.Consume(chunk)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if n == 0 {
			t.Fatalf("Consume made no progress at offset %d", off)
		}
		off += n
	}
	if !d.CanFinish() {
		t.Fatalf("decoder not finished after consuming all bytes")
	}

	fb := &Framebuffer{}
	fb.Resize(rect.W, rect.H)
	if err := d.Finish(fb, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got := make([]byte, 3)
	fb.ReadPixel(2, 1, got)
	want := []byte{20, 10, 3}
	if !bytes.Equal(got, want) {
		t.Errorf("pixel (2,1) = %v, want %v", got, want)
	}
}

func TestRawDecoderRejectsOversizedRect(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	d := &RawDecoder{}
	rect := Rect{X: 0, Y: 0, W: 65535, H: 65535, Encoding: 0}
	if err := d.BeginRect(rect, format); err == nil {
		t.Fatal("BeginRect succeeded for a rect well beyond the byte cap, want error")
	}
}
