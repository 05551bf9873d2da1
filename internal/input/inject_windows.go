//go:build windows

package input

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procSendInput        = user32.NewProc("SendInput")
	procSetCursorPos     = user32.NewProc("SetCursorPos")
	procGetSystemMetrics = user32.NewProc("GetSystemMetrics")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseeventfLeftDown   = 0x0002
	mouseeventfLeftUp     = 0x0004
	mouseeventfRightDown  = 0x0008
	mouseeventfRightUp    = 0x0010
	mouseeventfMiddleDown = 0x0020
	mouseeventfMiddleUp   = 0x0040
	mouseeventfWheel      = 0x0800
	mouseeventfHWheel     = 0x1000

	keyeventfKeyUp = 0x0002

	smCXScreen = 0
	smCYScreen = 1

	wheelDelta = 120
)

type mouseInput struct {
	dx, dy    int32
	mouseData uint32
	flags     uint32
	time      uint32
	extraInfo uintptr
}

type keybdInput struct {
	vk        uint16
	scan      uint16
	flags     uint32
	time      uint32
	extraInfo uintptr
}

// INPUT is a tagged union; the mouse variant is the largest member.
type mouseRecord struct {
	typ uint32
	mi  mouseInput
}

type keyRecord struct {
	typ uint32
	ki  keybdInput
	_   [8]byte
}

// DesktopInjector drives the Windows desktop through SendInput
type DesktopInjector struct{}

// NewInjector creates the platform injector
func NewInjector() *DesktopInjector {
	return &DesktopInjector{}
}

func sendMouse(flags uint32, data int32) error {
	rec := mouseRecord{typ: inputMouse, mi: mouseInput{flags: flags, mouseData: uint32(data)}}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&rec)), unsafe.Sizeof(rec))
	if n != 1 {
		return fmt.Errorf("SendInput: %v", err)
	}
	return nil
}

func buttonFlags(b Button) (down, up uint32, err error) {
	switch b {
	case ButtonLeft:
		return mouseeventfLeftDown, mouseeventfLeftUp, nil
	case ButtonRight:
		return mouseeventfRightDown, mouseeventfRightUp, nil
	case ButtonMiddle:
		return mouseeventfMiddleDown, mouseeventfMiddleUp, nil
	}
	return 0, 0, fmt.Errorf("unknown button %q", b)
}

func (i *DesktopInjector) MoveTo(x, y int) error {
	ok, _, err := procSetCursorPos.Call(uintptr(x), uintptr(y))
	if ok == 0 {
		return fmt.Errorf("SetCursorPos: %v", err)
	}
	return nil
}

func (i *DesktopInjector) Click(button Button, double bool) error {
	down, up, err := buttonFlags(button)
	if err != nil {
		return err
	}
	clicks := 1
	if double {
		clicks = 2
	}
	for n := 0; n < clicks; n++ {
		if err := sendMouse(down, 0); err != nil {
			return err
		}
		if err := sendMouse(up, 0); err != nil {
			return err
		}
	}
	return nil
}

// Scroll takes browser deltas; a positive wheel value scrolls up
func (i *DesktopInjector) Scroll(dx, dy int) error {
	if dy != 0 {
		if err := sendMouse(mouseeventfWheel, int32(-dy*wheelDelta)); err != nil {
			return err
		}
	}
	if dx != 0 {
		if err := sendMouse(mouseeventfHWheel, int32(dx*wheelDelta)); err != nil {
			return err
		}
	}
	return nil
}

func (i *DesktopInjector) Toggle(button Button, down bool) error {
	d, u, err := buttonFlags(button)
	if err != nil {
		return err
	}
	if down {
		return sendMouse(d, 0)
	}
	return sendMouse(u, 0)
}

func (i *DesktopInjector) KeyTap(key string, modifiers ...string) error {
	return keySequence(sendKey, key, modifiers, true, true)
}

func (i *DesktopInjector) KeyToggle(key string, down bool, modifiers ...string) error {
	return keySequence(sendKey, key, modifiers, down, !down)
}

func (i *DesktopInjector) ScreenSize() (int, int, error) {
	w, _, _ := procGetSystemMetrics.Call(smCXScreen)
	h, _, _ := procGetSystemMetrics.Call(smCYScreen)
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("GetSystemMetrics returned %dx%d", w, h)
	}
	return int(w), int(h), nil
}

func sendKey(code uint16, down bool) error {
	var flags uint32
	if !down {
		flags = keyeventfKeyUp
	}
	rec := keyRecord{typ: inputKeyboard, ki: keybdInput{vk: code, flags: flags}}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&rec)), unsafe.Sizeof(rec))
	if n != 1 {
		return fmt.Errorf("SendInput: %v", err)
	}
	return nil
}
