package keymap

// X11 keysym values for control and function keys, from X11's keysymdef.h.
const (
	XKBackSpace = 0xff08
	XKTab       = 0xff09
	XKReturn    = 0xff0d
	XKEscape    = 0xff1b
	XKDelete    = 0xffff

	XKHome     = 0xff50
	XKLeft     = 0xff51
	XKUp       = 0xff52
	XKRight    = 0xff53
	XKDown     = 0xff54
	XKPageUp   = 0xff55
	XKPageDown = 0xff56
	XKEnd      = 0xff57
	XKInsert   = 0xff63

	XKShiftL   = 0xffe1
	XKShiftR   = 0xffe2
	XKControlL = 0xffe3
	XKControlR = 0xffe4
	XKAltL     = 0xffe9
	XKAltR     = 0xffea

	XKF1  = 0xffbe
	XKF2  = 0xffbf
	XKF3  = 0xffc0
	XKF4  = 0xffc1
	XKF5  = 0xffc2
	XKF6  = 0xffc3
	XKF7  = 0xffc4
	XKF8  = 0xffc5
	XKF9  = 0xffc6
	XKF10 = 0xffc7
	XKF11 = 0xffc8
	XKF12 = 0xffc9
)

// special maps the rune values Go's unicode/utf8 decoding uses for non-
// printable control characters a host is likely to send through
// SendKeyEventUnicode (backspace, tab, return, escape, delete) to their X11
// keysym. Named keys without a natural rune (arrows, function keys,
// modifiers) have no entry here; a host sends those through the raw-keysym
// SendKeyEvent using the XK* constants above directly.
var special = map[rune]uint32{
	0x0008: XKBackSpace,
	0x0009: XKTab,
	0x000d: XKReturn,
	0x001b: XKEscape,
	0x007f: XKDelete,
}
