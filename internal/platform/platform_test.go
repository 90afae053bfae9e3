package platform

import (
	"errors"
	"testing"
)

func TestFixedScreen(t *testing.T) {
	w, h, err := Fixed{Width: 1080, Height: 1920}.ScreenSize()
	if err != nil || w != 1080 || h != 1920 {
		t.Errorf("ScreenSize = %d,%d,%v", w, h, err)
	}
	if _, _, err := (Fixed{}).ScreenSize(); !errors.Is(err, ErrNoDisplay) {
		t.Errorf("zero size err = %v", err)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    Fixed
		wantErr bool
	}{
		{"1080x1920", Fixed{1080, 1920}, false},
		{" 800X600 ", Fixed{800, 600}, false},
		{"800", Fixed{}, true},
		{"0x600", Fixed{}, true},
		{"axb", Fixed{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSize(%q) = %+v", tt.in, got)
		}
	}
}

func TestCompositorStatusString(t *testing.T) {
	tests := []struct {
		status CompositorStatus
		want   string
	}{
		{CompositorUnknown, "unknown"},
		{CompositorActive, "active"},
		{CompositorInactive, "inactive"},
		{CompositorStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("CompositorStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestIsWayland(t *testing.T) {
	t.Setenv("XDG_SESSION_TYPE", "Wayland")
	if !IsWayland() {
		t.Error("XDG_SESSION_TYPE=Wayland not detected")
	}
	t.Setenv("XDG_SESSION_TYPE", "x11")
	t.Setenv("WAYLAND_DISPLAY", "")
	if IsWayland() {
		t.Error("x11 session detected as wayland")
	}
}

func TestScreenWithoutDisplay(t *testing.T) {
	t.Setenv("DISPLAY", "")
	t.Setenv("XDG_SESSION_TYPE", "")
	t.Setenv("WAYLAND_DISPLAY", "")
	s := NewScreen()
	defer s.Close()
	if _, _, err := s.ScreenSize(); err == nil {
		t.Skip("a display is reachable without $DISPLAY")
	} else if !errors.Is(err, ErrNoDisplay) {
		t.Errorf("err = %v, want ErrNoDisplay", err)
	}
	s.DetectCompositor()
}
