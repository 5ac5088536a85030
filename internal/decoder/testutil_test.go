package decoder

// packColourXRGB8888 encodes an RGB triple the way PresetBestXRGB8888 packs
// it on the wire: little-endian 32-bit with shifts R=16,G=8,B=0, so the byte
// order is [B, G, R, 0].
func packColourXRGB8888(r, g, b uint8) []byte {
	return []byte{b, g, r, 0}
}
