package input

import (
	"fmt"
	"strings"
)

// Windows virtual-key codes keyed by lower-case key name. Names follow the
// browser KeyboardEvent.key values plus a few common aliases.
var keyCodes = map[string]uint16{
	"backspace":  0x08,
	"tab":        0x09,
	"enter":      0x0D,
	"return":     0x0D,
	"shift":      0x10,
	"control":    0x11,
	"ctrl":       0x11,
	"alt":        0x12,
	"option":     0x12,
	"capslock":   0x14,
	"escape":     0x1B,
	"esc":        0x1B,
	" ":          0x20,
	"space":      0x20,
	"pageup":     0x21,
	"pagedown":   0x22,
	"end":        0x23,
	"home":       0x24,
	"arrowleft":  0x25,
	"left":       0x25,
	"arrowup":    0x26,
	"up":         0x26,
	"arrowright": 0x27,
	"right":      0x27,
	"arrowdown":  0x28,
	"down":       0x28,
	"insert":     0x2D,
	"delete":     0x2E,
	"meta":       0x5B,
	"cmd":        0x5B,
	"command":    0x5B,
	"win":        0x5B,

	";":  0xBA,
	"=":  0xBB,
	",":  0xBC,
	"-":  0xBD,
	".":  0xBE,
	"/":  0xBF,
	"`":  0xC0,
	"[":  0xDB,
	"\\": 0xDC,
	"]":  0xDD,
	"'":  0xDE,
}

func init() {
	for c := 'a'; c <= 'z'; c++ {
		keyCodes[string(c)] = uint16('A' + (c - 'a'))
	}
	for c := '0'; c <= '9'; c++ {
		keyCodes[string(c)] = uint16(c)
	}
	for i := 1; i <= 12; i++ {
		keyCodes[fmt.Sprintf("f%d", i)] = uint16(0x70 + i - 1)
	}
}

// KeyCode returns the Windows virtual-key code for a key name.
func KeyCode(name string) (uint16, bool) {
	if name == " " {
		return keyCodes[" "], true
	}
	code, ok := keyCodes[strings.ToLower(strings.TrimSpace(name))]
	return code, ok
}

func keyCodesFor(key string, modifiers []string) (uint16, []uint16, error) {
	code, ok := KeyCode(key)
	if !ok {
		return 0, nil, fmt.Errorf("unknown key %q", key)
	}
	mods := make([]uint16, 0, len(modifiers))
	for _, m := range modifiers {
		mc, ok := KeyCode(m)
		if !ok {
			return 0, nil, fmt.Errorf("unknown modifier %q", m)
		}
		mods = append(mods, mc)
	}
	return code, mods, nil
}

// keySequence presses the modifiers then the key, and releases them in
// reverse order. press and release select which half runs.
func keySequence(send func(code uint16, down bool) error, key string, modifiers []string, press, release bool) error {
	code, mods, err := keyCodesFor(key, modifiers)
	if err != nil {
		return err
	}
	if press {
		for _, m := range mods {
			if err := send(m, true); err != nil {
				return err
			}
		}
		if err := send(code, true); err != nil {
			return err
		}
	}
	if release {
		if err := send(code, false); err != nil {
			return err
		}
		for i := len(mods) - 1; i >= 0; i-- {
			if err := send(mods[i], false); err != nil {
				return err
			}
		}
	}
	return nil
}
