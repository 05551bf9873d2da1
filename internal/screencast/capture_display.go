//go:build windows || linux

package screencast

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenCapturer grabs the primary display through GDI on Windows and X11 on
// Linux.
type ScreenCapturer struct {
	display int
}

func NewScreenCapturer() *ScreenCapturer {
	return &ScreenCapturer{}
}

func (c *ScreenCapturer) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if screenshot.NumActiveDisplays() <= c.display {
		return nil, errors.New("no active display")
	}
	img, err := screenshot.CaptureDisplay(c.display)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %v", c.display, err)
	}
	// The capture itself cannot be interrupted
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return img, nil
}
