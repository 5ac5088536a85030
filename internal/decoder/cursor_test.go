package decoder

import (
	"bytes"
	"testing"

	"github.com/openrv/govnc/internal/wire"
)

func TestCursorDecoder(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	rect := Rect{X: 1, Y: 1, W: 2, H: 1, Encoding: -239} // hotspot (1,1), 2x1 image

	var pixels []byte
	pixels = append(pixels, packColourXRGB8888(10, 20, 30)...)
	pixels = append(pixels, packColourXRGB8888(40, 50, 60)...)
	mask := []byte{0b10000000} // 1 row, (2+7)/8=1 byte; pixel 0 visible, pixel 1 transparent

	d := &CursorDecoder{}
	if err := d.BeginRect(rect, format); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}

	n1, err := d.Consume(pixels[:5])
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	n2, err := d.Consume(pixels[n1:])
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if n1+n2 != len(pixels) {
		t.Fatalf("consumed %d pixel bytes, want %d", n1+n2, len(pixels))
	}
	if d.CanFinish() {
		t.Fatal("CanFinish reported true before the mask was read")
	}
	if _, err := d.Consume(mask); err != nil {
		t.Fatalf("Consume mask: %v", err)
	}
	if !d.CanFinish() {
		t.Fatal("CanFinish reported false after mask fully read")
	}

	cur := &Cursor{}
	if err := d.Finish(nil, cur); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !cur.Valid || cur.Width != 2 || cur.Height != 1 {
		t.Fatalf("cursor = %+v, want Valid 2x1", cur)
	}
	if cur.HotX != 1 || cur.HotY != 1 {
		t.Errorf("hotspot = (%d,%d), want (1,1)", cur.HotX, cur.HotY)
	}
	if got, want := cur.RGBA[0:4], []byte{10, 20, 30, 255}; !bytes.Equal(got, want) {
		t.Errorf("pixel 0 RGBA = %v, want %v", got, want)
	}
	if got, want := cur.RGBA[4:8], []byte{40, 50, 60, 0}; !bytes.Equal(got, want) {
		t.Errorf("pixel 1 RGBA = %v, want %v", got, want)
	}
}

func TestCursorDecoderEmptyMeansNoCursor(t *testing.T) {
	d := &CursorDecoder{}
	rect := Rect{X: 0, Y: 0, W: 0, H: 0, Encoding: -239}
	if err := d.BeginRect(rect, wire.PresetBestXRGB8888()); err != nil {
		t.Fatalf("BeginRect: %v", err)
	}
	if !d.CanFinish() {
		t.Fatal("0x0 cursor rect should be immediately finishable")
	}
	cur := &Cursor{Valid: true, Width: 4, Height: 4, RGBA: make([]byte, 64)}
	if err := d.Finish(nil, cur); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if cur.Valid {
		t.Error("cursor still Valid after a 0x0 Cursor rect")
	}
}
