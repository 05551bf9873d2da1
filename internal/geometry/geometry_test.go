package geometry

import "testing"

func TestMapScalesToScreen(t *testing.T) {
	got := Map(Point{X: 100, Y: 50}, Size{Width: 200, Height: 100}, Size{Width: 1920, Height: 1080})
	if got.X != 960 || got.Y != 540 {
		t.Errorf("Expected (960, 540), got (%v, %v)", got.X, got.Y)
	}
}

func TestMapZeroViewportPassesThrough(t *testing.T) {
	got := Map(Point{X: 12, Y: 34}, Size{}, Size{Width: 1920, Height: 1080})
	if got.X != 12 || got.Y != 34 {
		t.Errorf("Expected point unchanged, got (%v, %v)", got.X, got.Y)
	}
}

func TestMapIsConsistentForBothEndpoints(t *testing.T) {
	viewport := Size{Width: 640, Height: 360}
	screen := Size{Width: 2560, Height: 1440}

	cases := []Point{{0, 0}, {640, 360}, {320, 180}, {1, 359}}
	for _, p := range cases {
		a := Map(p, viewport, screen)
		b := Map(p, viewport, screen)
		if a != b {
			t.Errorf("Map(%v) not deterministic: %v vs %v", p, a, b)
		}
	}
}

func TestPixelRounds(t *testing.T) {
	x, y := Pixel(Point{X: 10.5, Y: 3.49})
	if x != 11 || y != 3 {
		t.Errorf("Expected (11, 3), got (%d, %d)", x, y)
	}
}
