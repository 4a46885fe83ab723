package desktop

import "fmt"

// Key codes on the wire are X11 keysyms. Platforms without a keysym-based
// injection API map them to key names.
var keysymNames = map[int]string{
	0x0020: "space",
	0xff08: "backspace",
	0xff09: "tab",
	0xff0d: "enter",
	0xff1b: "esc",
	0xffff: "delete",
	0xff50: "home",
	0xff51: "left",
	0xff52: "up",
	0xff53: "right",
	0xff54: "down",
	0xff55: "pageup",
	0xff56: "pagedown",
	0xff57: "end",
	0xff63: "insert",
	0xffe1: "shift",
	0xffe2: "rshift",
	0xffe3: "ctrl",
	0xffe4: "rctrl",
	0xffe5: "capslock",
	0xffe9: "alt",
	0xffea: "ralt",
	0xffeb: "cmd",
	0xffec: "rcmd",
}

// keysymName returns the key name for an X11 keysym.
func keysymName(code int) (string, error) {
	if name, ok := keysymNames[code]; ok {
		return name, nil
	}
	switch {
	case code >= 0xffbe && code <= 0xffc9: // F1..F12
		return fmt.Sprintf("f%d", code-0xffbe+1), nil
	case code >= 'A' && code <= 'Z':
		return string(rune(code - 'A' + 'a')), nil
	case code > 0x20 && code < 0x7f:
		return string(rune(code)), nil
	}
	return "", fmt.Errorf("no key name for keysym %#x", code)
}
