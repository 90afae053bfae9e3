// Package platform queries the display the demo runs on: the physical
// screen size reported to the engine and whether a compositing manager is
// present.
package platform

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoDisplay is returned when no display server can be reached.
var ErrNoDisplay = errors.New("platform: no display available")

// ScreenSizer reports the physical screen size in pixels.
type ScreenSizer interface {
	ScreenSize() (width, height int, err error)
}

// Fixed is a screen of a configured size.
type Fixed struct {
	Width, Height int
}

// ScreenSize implements ScreenSizer.
func (f Fixed) ScreenSize() (int, int, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: fixed size %dx%d", ErrNoDisplay, f.Width, f.Height)
	}
	return f.Width, f.Height, nil
}

// ParseSize parses a "WIDTHxHEIGHT" string such as "1080x1920".
func ParseSize(s string) (Fixed, error) {
	var f Fixed
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return f, fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", s)
	}
	if _, err := fmt.Sscanf(w+" "+h, "%d %d", &f.Width, &f.Height); err != nil {
		return f, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return f, fmt.Errorf("invalid size %q: dimensions must be positive", s)
	}
	return f, nil
}

// CompositorStatus is the detected compositing manager state.
type CompositorStatus int

const (
	CompositorUnknown CompositorStatus = iota
	CompositorActive
	CompositorInactive
)

func (cs CompositorStatus) String() string {
	switch cs {
	case CompositorActive:
		return "active"
	case CompositorInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// IsWayland reports whether the session runs on Wayland.
func IsWayland() bool {
	if strings.EqualFold(os.Getenv("XDG_SESSION_TYPE"), "wayland") {
		return true
	}
	return os.Getenv("WAYLAND_DISPLAY") != ""
}
