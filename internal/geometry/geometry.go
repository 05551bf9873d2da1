// Package geometry maps pointer coordinates between a controller's viewport
// and a controlled device's screen.
package geometry

import "math"

// Point is a position in some coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the extent of a viewport or screen in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Map converts p from viewport space to screen space as
// (x*sw/vw, y*sh/vh). An axis with a non-positive viewport extent is
// passed through unchanged.
func Map(p Point, viewport, screen Size) Point {
	out := p
	if viewport.Width > 0 {
		out.X = p.X * screen.Width / viewport.Width
	}
	if viewport.Height > 0 {
		out.Y = p.Y * screen.Height / viewport.Height
	}
	return out
}

// Pixel rounds a mapped point to integer screen pixels.
func Pixel(p Point) (int, int) {
	return int(math.Round(p.X)), int(math.Round(p.Y))
}
