package input

import (
	"fmt"
	"strings"
	"sync"
)

// Recorder is an Injector that records calls instead of touching the
// desktop. The agent uses it when injection is disabled.
type Recorder struct {
	Width, Height int

	mu    sync.Mutex
	calls []string
}

// NewRecorder creates a recorder reporting the given screen size
func NewRecorder(width, height int) *Recorder {
	return &Recorder{Width: width, Height: height}
}

func (r *Recorder) record(format string, args ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return nil
}

// Calls returns the recorded calls in order
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Reset forgets recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) MoveTo(x, y int) error { return r.record("move %d,%d", x, y) }

func (r *Recorder) Click(button Button, double bool) error {
	return r.record("click %s double=%t", button, double)
}

func (r *Recorder) Scroll(dx, dy int) error { return r.record("scroll %d,%d", dx, dy) }

func (r *Recorder) Toggle(button Button, down bool) error {
	return r.record("toggle %s down=%t", button, down)
}

func (r *Recorder) KeyTap(key string, modifiers ...string) error {
	return r.record("tap %s [%s]", key, strings.Join(modifiers, "+"))
}

func (r *Recorder) KeyToggle(key string, down bool, modifiers ...string) error {
	return r.record("keytoggle %s down=%t [%s]", key, down, strings.Join(modifiers, "+"))
}

func (r *Recorder) ScreenSize() (int, int, error) {
	return r.Width, r.Height, nil
}
