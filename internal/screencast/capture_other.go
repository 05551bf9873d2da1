//go:build !darwin && !windows && !linux

package screencast

import (
	"context"
	"errors"
	"image"
	"runtime"
)

// ScreenCapturer is unavailable on this platform
type ScreenCapturer struct{}

func NewScreenCapturer() *ScreenCapturer {
	return &ScreenCapturer{}
}

func (c *ScreenCapturer) Capture(ctx context.Context) (image.Image, error) {
	return nil, errors.New("screen capture not supported on " + runtime.GOOS)
}
