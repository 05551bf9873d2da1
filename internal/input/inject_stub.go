//go:build !darwin && !windows

package input

// DesktopInjector is a stub on platforms without an injector
type DesktopInjector struct{}

// NewInjector creates the platform injector
func NewInjector() *DesktopInjector {
	return &DesktopInjector{}
}

func (i *DesktopInjector) MoveTo(x, y int) error                        { return ErrUnsupported }
func (i *DesktopInjector) Click(button Button, double bool) error       { return ErrUnsupported }
func (i *DesktopInjector) Scroll(dx, dy int) error                      { return ErrUnsupported }
func (i *DesktopInjector) Toggle(button Button, down bool) error        { return ErrUnsupported }
func (i *DesktopInjector) KeyTap(key string, modifiers ...string) error { return ErrUnsupported }
func (i *DesktopInjector) ScreenSize() (int, int, error)                { return 0, 0, ErrUnsupported }

func (i *DesktopInjector) KeyToggle(key string, down bool, modifiers ...string) error {
	return ErrUnsupported
}
