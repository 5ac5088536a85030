package decoder

import (
	"bytes"
	"testing"

	"github.com/openrv/govnc/internal/wire"
)

func TestRREDecoder(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	bg := packColourXRGB8888(5, 5, 5)
	fgSub := packColourXRGB8888(90, 0, 0)

	var data []byte
	data = append(data, wire.AppendU32(nil, 1)...) // one subrect
	data = append(data, bg...)
	data = append(data, fgSub...)
	data = append(data, wire.AppendU16(nil, 2)...) // x
	data = append(data, wire.AppendU16(nil, 1)...) // y
	data = append(data, wire.AppendU16(nil, 3)...) // w
	data = append(data, wire.AppendU16(nil, 2)...) // h

	d := NewRREDecoder(false, false)
	rect := Rect{X: 0, Y: 0, W: 8, H: 4, Encoding: 2}
	if err := d.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}

	for off := 0; off < len(data); {
		end := off + 3
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
		t.Fatal("decoder not finished after consuming all bytes")
	}

	fb := &Framebuffer{}
	fb.Resize(rect.W, rect.H)
	if err := d.Finish(fb, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got := make([]byte, 3)
	fb.ReadPixel(0, 0, got) // background, outside the subrect
	if want := []byte{5, 5, 5}; !bytes.Equal(got, want) {
		t.Errorf("background pixel = %v, want %v", got, want)
	}
	fb.ReadPixel(3, 1, got) // inside the subrect at (2,1) 3x2
	if want := []byte{90, 0, 0}; !bytes.Equal(got, want) {
		t.Errorf("subrect pixel = %v, want %v", got, want)
	}
}

func TestCoRREDecoderLenientClampsOutOfBounds(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	bg := packColourXRGB8888(0, 0, 0)
	fg := packColourXRGB8888(255, 255, 255)

	var data []byte
	data = append(data, wire.AppendU32(nil, 1)...)
	data = append(data, bg...)
	data = append(data, fg...)
	data = append(data, 6, 6, 10, 10) // x=6,y=6,w=10,h=10 in an 8x8 rect: out of bounds

	strict := NewRREDecoder(true, false)
	rect := Rect{X: 0, Y: 0, W: 8, H: 8, Encoding: 4}
	if err := strict.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}
	if _, err := strict.Consume(data); err == nil {
		t.Fatal("strict CoRRE decoder accepted an out-of-bounds subrect, want error")
	}

	lenient := NewRREDecoder(true, true)
	if err := lenient.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}
	n, err := lenient.Consume(data)
	if err != nil {
		t.Fatalf("lenient CoRRE decoder rejected an out-of-bounds subrect: %v", err)
	}
	if n != len(data) {
		t.Fatalf("consumed %d bytes, want %d", n, len(data))
	}
	if !lenient.CanFinish() {
		t.Fatal("lenient decoder did not finish")
	}
	fb := &Framebuffer{}
	fb.Resize(rect.W, rect.H)
	if err := lenient.Finish(fb, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}
