// Package input injects pointer and keyboard events into the local desktop.
package input

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned by injectors on platforms without an
// implementation.
var ErrUnsupported = errors.New("input injection not supported on this platform")

// Button is a pointer button name as sent by controllers
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// ParseButton accepts "left", "right" and "middle" in any case. An empty
// name is the left button.
func ParseButton(name string) (Button, error) {
	switch b := Button(strings.ToLower(name)); b {
	case "":
		return ButtonLeft, nil
	case ButtonLeft, ButtonRight, ButtonMiddle:
		return b, nil
	default:
		return "", fmt.Errorf("unknown button %q", name)
	}
}

// Injector drives the local pointer and keyboard. Coordinates are absolute
// screen pixels. For Scroll, positive dy scrolls the content down and
// positive dx scrolls it right.
type Injector interface {
	MoveTo(x, y int) error
	Click(button Button, double bool) error
	Scroll(dx, dy int) error
	Toggle(button Button, down bool) error
	KeyTap(key string, modifiers ...string) error
	KeyToggle(key string, down bool, modifiers ...string) error
	ScreenSize() (width, height int, err error)
}
