package input

import (
	"fmt"
	"reflect"
	"testing"
)

func TestParseButton(t *testing.T) {
	cases := map[string]Button{"": ButtonLeft, "left": ButtonLeft, "RIGHT": ButtonRight, "Middle": ButtonMiddle}
	for in, want := range cases {
		got, err := ParseButton(in)
		if err != nil || got != want {
			t.Errorf("ParseButton(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseButton("back"); err == nil {
		t.Error("Expected error for unknown button")
	}
}

func TestKeyCode(t *testing.T) {
	cases := map[string]uint16{
		"a":         0x41,
		"Z":         0x5A,
		"7":         0x37,
		"Enter":     0x0D,
		"Control":   0x11,
		"F12":       0x7B,
		" ":         0x20,
		"ArrowLeft": 0x25,
		"/":         0xBF,
	}
	for name, want := range cases {
		got, ok := KeyCode(name)
		if !ok || got != want {
			t.Errorf("KeyCode(%q) = 0x%X, %t; want 0x%X", name, got, ok, want)
		}
	}
	if _, ok := KeyCode("hyper"); ok {
		t.Error("Expected unknown key to be rejected")
	}
}

func TestKeySequenceOrder(t *testing.T) {
	var got []string
	send := func(code uint16, down bool) error {
		got = append(got, fmt.Sprintf("0x%X:%t", code, down))
		return nil
	}

	if err := keySequence(send, "c", []string{"Control", "Shift"}, true, true); err != nil {
		t.Fatal(err)
	}
	want := []string{"0x11:true", "0x10:true", "0x43:true", "0x43:false", "0x10:false", "0x11:false"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	got = nil
	if err := keySequence(send, "c", []string{"Control"}, true, false); err != nil {
		t.Fatal(err)
	}
	if want := []string{"0x11:true", "0x43:true"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected press half %v, got %v", want, got)
	}
}

func TestKeySequenceUnknownModifier(t *testing.T) {
	called := false
	send := func(uint16, bool) error { called = true; return nil }
	if err := keySequence(send, "a", []string{"hyper"}, true, true); err == nil {
		t.Error("Expected error for unknown modifier")
	}
	if called {
		t.Error("Expected nothing to be sent when a key is unknown")
	}
}

func TestRecorder(t *testing.T) {
	var inj Injector = NewRecorder(800, 600)
	inj.MoveTo(1, 2)
	inj.KeyTap("a", "shift")
	rec := inj.(*Recorder)
	want := []string{"move 1,2", "tap a [shift]"}
	if !reflect.DeepEqual(rec.Calls(), want) {
		t.Errorf("Expected %v, got %v", want, rec.Calls())
	}
	if w, h, _ := inj.ScreenSize(); w != 800 || h != 600 {
		t.Errorf("Expected 800x600, got %dx%d", w, h)
	}
}
