// Package keymap maps Unicode code points to X11 keysyms for
// SendKeyEventUnicode, mirroring libopenrv/keys.cpp's UnicodeToXKeyTable
// without the generated hash table: the Latin-1 range of X11 keysyms is
// defined to equal the Unicode code point directly, and the remaining
// control/function keys are a small fixed table of keysymdef.h values.
package keymap

// ToKeysym resolves r to an X11 keysym, or ok=false if there is no
// reasonable mapping (e.g. most of the Unicode astral planes).
func ToKeysym(r rune) (keysym uint32, ok bool) {
	if ks, found := special[r]; found {
		return ks, true
	}
	return latin1Keysym(r)
}

// latin1Keysym implements the X11 convention that keysyms 0x0020-0x00ff are
// numerically identical to the Latin-1 code point they represent (see
// X11's keysymdef.h header comment on the Latin-1 block).
func latin1Keysym(r rune) (uint32, bool) {
	if r >= 0x0020 && r <= 0x00ff {
		return uint32(r), true
	}
	return 0, false
}
