//go:build darwin

package screencast

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
)

// ScreenCapturer shells out to screencapture for the main display
type ScreenCapturer struct{}

func NewScreenCapturer() *ScreenCapturer {
	return &ScreenCapturer{}
}

func (c *ScreenCapturer) Capture(ctx context.Context) (image.Image, error) {
	dir, err := os.MkdirTemp("", "labwatch-capture")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "screen.png")
	// -x: no sound, -m: main display only
	cmd := exec.CommandContext(ctx, "screencapture", "-x", "-m", "-t", "png", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("screencapture failed: %v (%s)", err, bytes.TrimSpace(stderr.Bytes()))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
