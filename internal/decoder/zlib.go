package decoder

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/openrv/govnc/internal/wire"
)

// maxCompressedBlockBytes bounds a single zlib/ZRLE rectangle's declared
// compressed length, per spec.md §4.5 ("refuse compressed blocks larger
// than ~100 MiB").
const maxCompressedBlockBytes = 100 << 20

// ZlibDecoder implements the zlib (6) encoding: a uint32 compressed-length
// prefix followed by that many deflate bytes, inflated through a stream
// that persists for the whole connection (servers reset the dictionary
// only by reconnecting).
type ZlibDecoder struct {
	reader io.ReadCloser // persists across rects; reset only by ResetConnection

	rect   Rect
	format wire.PixelFormat

	lenBuf    [4]byte
	lenGot    int
	compLen   uint32
	compBuf   []byte
	compGot   int

	raw RawDecoder
}

func (d *ZlibDecoder) BeginRect(rect Rect, format wire.PixelFormat) error {
	d.rect = rect
	d.format = format
	d.lenGot = 0
	d.compGot = 0
	return nil
}

func (d *ZlibDecoder) Consume(buf []byte) (int, error) {
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
			return total, fmt.Errorf("zlib rect declares %d compressed bytes, exceeds %d byte cap", d.compLen, maxCompressedBlockBytes)
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

func (d *ZlibDecoder) CanFinish() bool {
	return d.lenGot == 4 && d.compGot >= int(d.compLen)
}

func (d *ZlibDecoder) Finish(fb *Framebuffer, cursor *Cursor) error {
	if d.rect.W == 0 || d.rect.H == 0 {
		return nil
	}
	expected := int(d.rect.W) * int(d.rect.H) * d.format.BytesPerPixel()
	if expected > maxRectBufferBytes {
		return fmt.Errorf("zlib rect %dx%d at %d bytes/pixel exceeds %d byte cap", d.rect.W, d.rect.H, d.format.BytesPerPixel(), maxRectBufferBytes)
	}

	if d.reader == nil {
		r, err := zlib.NewReader(bytes.NewReader(d.compBuf))
		if err != nil {
			return fmt.Errorf("opening persistent zlib stream: %w", err)
		}
		d.reader = r
	} else if resetter, ok := d.reader.(zlib.Resetter); ok {
		if err := resetter.Reset(bytes.NewReader(d.compBuf), nil); err != nil {
			return fmt.Errorf("feeding zlib stream: %w", err)
		}
	}

	out := make([]byte, expected)
	if _, err := io.ReadFull(d.reader, out); err != nil {
		return fmt.Errorf("inflating zlib rect: %w", err)
	}

	if err := d.raw.BeginRect(d.rect, d.format); err != nil {
		return err
	}
	if _, err := d.raw.Consume(out); err != nil {
		return err
	}
	return d.raw.Finish(fb, cursor)
}

func (d *ZlibDecoder) ResetConnection() {
	if d.reader != nil {
		_ = d.reader.Close()
		d.reader = nil
	}
}
