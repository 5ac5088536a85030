package decoder

import (
	"bytes"
	"testing"

	"github.com/openrv/govnc/internal/handshake"
	"github.com/openrv/govnc/internal/wire"
)

// buildFramebufferUpdateBody encodes the message body (everything after the
// message-type byte) for a FramebufferUpdate carrying the given raw-encoded
// rectangles: 1 padding byte, uint16 rect count, then per rect a 12-byte
// header followed by w*h*bpp raw pixel bytes.
func buildFramebufferUpdateBody(format wire.PixelFormat, rects []Rect, pixelsByRect [][]byte) []byte {
	var buf []byte
	buf = append(buf, 0) // padding
	buf = wire.AppendU16(buf, uint16(len(rects)))
	for i, r := range rects {
		buf = wire.AppendU16(buf, r.X)
		buf = wire.AppendU16(buf, r.Y)
		buf = wire.AppendU16(buf, r.W)
		buf = wire.AppendU16(buf, r.H)
		buf = wire.AppendI32(buf, r.Encoding)
		buf = append(buf, pixelsByRect[i]...)
	}
	return buf
}

func TestDispatcherFeedFragmentedAcrossTwoRects(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	fb := &Framebuffer{}
	fb.Resize(8, 4)
	cursor := &Cursor{}
	d := NewDispatcher(fb, cursor, format, false)

	rect1 := Rect{X: 0, Y: 0, W: 2, H: 1, Encoding: handshake.EncodingRaw}
	rect2 := Rect{X: 2, Y: 0, W: 2, H: 1, Encoding: handshake.EncodingRaw}
	px1 := append(packColourXRGB8888(1, 1, 1), packColourXRGB8888(2, 2, 2)...)
	px2 := append(packColourXRGB8888(3, 3, 3), packColourXRGB8888(4, 4, 4)...)
	body := buildFramebufferUpdateBody(format, []Rect{rect1, rect2}, [][]byte{px1, px2})

	d.BeginFramebufferUpdate()

	done := false
	for off := 0; off < len(body) && !done; {
		end := off + 3
		if end > len(body) {
			end = len(body)
		}
		n, fdone, err := d.Feed(body[off:end])
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if n == 0 && !fdone {
			t.Fatalf("Feed made no progress at offset %d", off)
		}
		off += n
		done = fdone
	}
	if !done {
		t.Fatal("Feed never reported the message complete")
	}

	rects := d.PendingRects()
	if len(rects) != 2 {
		t.Fatalf("got %d completed rects, want 2", len(rects))
	}
	if rects[0].X != 0 || rects[1].X != 2 {
		t.Errorf("rects in wrong order: %+v", rects)
	}

	got := make([]byte, 3)
	fb.ReadPixel(3, 0, got)
	want := []byte{4, 4, 4}
	if !bytes.Equal(got, want) {
		t.Errorf("pixel (3,0) = %v, want %v", got, want)
	}

	// PendingRects clears state; a second call before another Feed should
	// return nothing.
	if more := d.PendingRects(); len(more) != 0 {
		t.Errorf("PendingRects returned %d rects on a second call, want 0", len(more))
	}
}

func TestDispatcherFeedUnsupportedEncoding(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	fb := &Framebuffer{}
	fb.Resize(4, 4)
	d := NewDispatcher(fb, &Cursor{}, format, false)

	rect := Rect{X: 0, Y: 0, W: 1, H: 1, Encoding: 9999}
	body := buildFramebufferUpdateBody(format, []Rect{rect}, [][]byte{nil})

	d.BeginFramebufferUpdate()
	_, _, err := d.Feed(body)
	if err == nil {
		t.Fatal("Feed accepted an unsupported encoding, want error")
	}
}

func TestDispatcherFeedDesktopSizeResizesFramebuffer(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	fb := &Framebuffer{}
	fb.Resize(4, 4)
	d := NewDispatcher(fb, &Cursor{}, format, false)

	rect := Rect{X: 0, Y: 0, W: 10, H: 6, Encoding: handshake.EncodingDesktopSize}
	body := buildFramebufferUpdateBody(format, []Rect{rect}, [][]byte{nil})

	d.BeginFramebufferUpdate()
	_, done, err := d.Feed(body)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("Feed did not complete after the DesktopSize pseudo-rect")
	}
	if fb.Width != 10 || fb.Height != 6 {
		t.Errorf("framebuffer size = %dx%d, want 10x6", fb.Width, fb.Height)
	}
	// DesktopSize is a pseudo-rect; it must not appear in PendingRects.
	if rects := d.PendingRects(); len(rects) != 0 {
		t.Errorf("PendingRects returned %d rects for a DesktopSize-only update, want 0", len(rects))
	}
}

func TestDispatcherFeedEmptyUpdateCompletesImmediately(t *testing.T) {
	format := wire.PresetBestXRGB8888()
	fb := &Framebuffer{}
	fb.Resize(4, 4)
	d := NewDispatcher(fb, &Cursor{}, format, false)

	body := buildFramebufferUpdateBody(format, nil, nil)
	d.BeginFramebufferUpdate()
	n, done, err := d.Feed(body)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done || n != len(body) {
		t.Fatalf("Feed(n=%d, done=%v), want n=%d done=true", n, done, len(body))
	}
}
