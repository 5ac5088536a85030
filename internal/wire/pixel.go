package wire

import "fmt"

// PixelFormat mirrors orv_communication_pixel_format_t: the 16-byte
// ServerInit/SetPixelFormat structure each side uses to describe how a
// pixel is packed on the wire.
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColor    bool
	ColorMax     [3]uint16 // R, G, B
	ColorShift   [3]uint8  // R, G, B
}

const PixelFormatWireSize = 16

// ValidForReceive reports whether a format the server sent is usable.
func (f PixelFormat) ValidForReceive() bool {
	switch f.BitsPerPixel {
	case 8, 16, 32:
	default:
		return false
	}
	if f.Depth == 0 || f.Depth > f.BitsPerPixel {
		return false
	}
	return true
}

// ValidForSend additionally requires every channel shift to be below depth,
// since a format the client declares must be self-consistent for servers
// that pack pixels according to it.
func (f PixelFormat) ValidForSend() bool {
	if !f.ValidForReceive() {
		return false
	}
	for _, s := range f.ColorShift {
		if uint8(s) >= f.Depth {
			return false
		}
	}
	return true
}

// DecodePixelFormat parses the 16-byte wire representation written by ServerInit or
// SetPixelFormat.
func DecodePixelFormat(buf []byte) (PixelFormat, error) {
	if len(buf) < PixelFormatWireSize {
		return PixelFormat{}, fmt.Errorf("pixel format requires %d bytes, got %d", PixelFormatWireSize, len(buf))
	}
	var f PixelFormat
	f.BitsPerPixel = buf[0]
	f.Depth = buf[1]
	f.BigEndian = buf[2] != 0
	f.TrueColor = buf[3] != 0
	f.ColorMax[0] = ReadU16(buf[4:6])
	f.ColorMax[1] = ReadU16(buf[6:8])
	f.ColorMax[2] = ReadU16(buf[8:10])
	f.ColorShift[0] = buf[10]
	f.ColorShift[1] = buf[11]
	f.ColorShift[2] = buf[12]
	// buf[13:16] is padding.
	return f, nil
}

// Encode writes the 16-byte wire representation of f into buf, which must
// be at least PixelFormatWireSize bytes.
func (f PixelFormat) Encode(buf []byte) {
	buf[0] = f.BitsPerPixel
	buf[1] = f.Depth
	if f.BigEndian {
		buf[2] = 1
	} else {
		buf[2] = 0
	}
	if f.TrueColor {
		buf[3] = 1
	} else {
		buf[3] = 0
	}
	WriteU16(buf[4:6], f.ColorMax[0])
	WriteU16(buf[6:8], f.ColorMax[1])
	WriteU16(buf[8:10], f.ColorMax[2])
	buf[10] = f.ColorShift[0]
	buf[11] = f.ColorShift[1]
	buf[12] = f.ColorShift[2]
	buf[13], buf[14], buf[15] = 0, 0, 0
}

// Presets mirror the quality-profile formats from the handshake driver.
func PresetLowRGB332() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 8, Depth: 8, BigEndian: false, TrueColor: true,
		ColorMax:   [3]uint16{7, 7, 3},
		ColorShift: [3]uint8{5, 2, 0},
	}
}

func PresetMediumRGB565() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 16, Depth: 16, BigEndian: false, TrueColor: true,
		ColorMax:   [3]uint16{31, 63, 31},
		ColorShift: [3]uint8{11, 5, 0},
	}
}

func PresetBestXRGB8888() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 32, Depth: 24, BigEndian: false, TrueColor: true,
		ColorMax:   [3]uint16{255, 255, 255},
		ColorShift: [3]uint8{16, 8, 0},
	}
}

// BytesPerPixel is BitsPerPixel/8, the unit every rect-size computation in
// the decoder pipeline is expressed in.
func (f PixelFormat) BytesPerPixel() int {
	return int(f.BitsPerPixel) / 8
}

// channelValue extracts and quantises one colour channel of a raw pixel
// value to the 0..255 range used by the internal RGB888 framebuffer,
// following the quantisation rule: round(channel * 255 / max).
func channelValue(raw uint32, shift uint8, max uint16) uint8 {
	if max == 0 {
		return 0
	}
	c := uint32(raw>>shift) & uint32(max)
	return uint8((c*255 + uint32(max)/2) / uint32(max))
}

// UnpackPixel converts one pixel read from buf (in f's wire format) to
// three RGB888 bytes written to out[0:3].
func UnpackPixel(out []byte, buf []byte, f PixelFormat) {
	var raw uint32
	switch f.BitsPerPixel {
	case 8:
		raw = uint32(buf[0])
	case 16:
		if f.BigEndian {
			raw = uint32(buf[0])<<8 | uint32(buf[1])
		} else {
			raw = uint32(buf[1])<<8 | uint32(buf[0])
		}
	case 32:
		if f.BigEndian {
			raw = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		} else {
			raw = uint32(buf[3])<<24 | uint32(buf[2])<<16 | uint32(buf[1])<<8 | uint32(buf[0])
		}
	}
	out[0] = channelValue(raw, f.ColorShift[0], f.ColorMax[0])
	out[1] = channelValue(raw, f.ColorShift[1], f.ColorMax[1])
	out[2] = channelValue(raw, f.ColorShift[2], f.ColorMax[2])
}

// PackPixel is the inverse of UnpackPixel's channel extraction: it returns
// the raw pixel value, not its wire bytes. No code in this module calls it.
func PackPixel(rgb [3]byte, f PixelFormat) uint32 {
	r := uint32(rgb[0]) * uint32(f.ColorMax[0]) / 255
	g := uint32(rgb[1]) * uint32(f.ColorMax[1]) / 255
	b := uint32(rgb[2]) * uint32(f.ColorMax[2]) / 255
	return (r << f.ColorShift[0]) | (g << f.ColorShift[1]) | (b << f.ColorShift[2])
}
