//go:build !linux

package platform

// Screen has no display backend on this platform; callers fall back to a
// configured size.
type Screen struct{}

// NewScreen returns a Screen.
func NewScreen() *Screen { return &Screen{} }

// ScreenSize implements ScreenSizer.
func (s *Screen) ScreenSize() (int, int, error) {
	return 0, 0, ErrNoDisplay
}

// DetectCompositor returns CompositorActive: the desktop window managers
// on other platforms always composite.
func (s *Screen) DetectCompositor() CompositorStatus {
	return CompositorActive
}

// Close is a no-op.
func (s *Screen) Close() error { return nil }
