package decoder

import (
	"bytes"
	"testing"

	"github.com/openrv/govnc/internal/wire"
)

func TestCopyRectDecoder(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	fb := &Framebuffer{}
	fb.Resize(8, 4)
	fb.WithLock(func() {
		for y := uint16(0); y < fb.Height; y++ {
			for x := uint16(0); x < fb.Width; x++ {
				fb.WritePixel(x, y, []byte{byte(x), byte(y), 0})
			}
		}
	})

	d := &CopyRectDecoder{}
	rect := Rect{X: 4, Y: 2, W: 2, H: 2, Encoding: 1}
	if err := d.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}
	srcHeader := []byte{0, 0, 0, 0} // srcX=0, srcY=0

	// Feed split across two calls to exercise partial consumption.
	n1, err := d.Consume(srcHeader[:2])
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if d.CanFinish() {
		t.Fatal("CanFinish reported true before the source coordinates were fully read")
	}
	n2, err := d.Consume(srcHeader[n1:])
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if n1+n2 != 4 {
		t.Fatalf("consumed %d bytes total, want 4", n1+n2)
	}
	if !d.CanFinish() {
		t.Fatal("CanFinish reported false after all 4 source-coordinate bytes were read")
	}

	if err := d.Finish(fb, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got := make([]byte, 3)
	fb.ReadPixel(5, 3, got) // dest (4,2)+(1,1) should equal src (0,0)+(1,1) = (1,1,0)
	want := []byte{1, 1, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("copied pixel = %v, want %v", got, want)
	}
}

func TestCopyRectDecoderOutOfBounds(t *testing.T) {
	fb := &Framebuffer{}
	fb.Resize(4, 4)
	d := &CopyRectDecoder{}
	rect := Rect{X: 2, Y: 2, W: 4, H: 4, Encoding: 1} // destination spills past framebuffer edge
	if err := d.BeginRect(rect, wire.PresetBestXRGB8888()); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}
	hdr := make([]byte, 4)
	if _, err := d.Consume(hdr); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := d.Finish(fb, nil); err == nil {
		t.Fatal("Finish succeeded for an out-of-bounds destination rect, want error")
	}
}
