//go:build linux

package platform

import (
	"fmt"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// Screen queries the X11 root window. The connection is opened on first use
// and reopened after an error.
type Screen struct {
	mu   sync.Mutex
	conn *xgb.Conn
	dial func() (*xgb.Conn, error)
}

// NewScreen returns a Screen for $DISPLAY.
func NewScreen() *Screen {
	return &Screen{dial: xgb.NewConn}
}

func (s *Screen) connect() (*xgb.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.dial()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDisplay, err)
	}
	s.conn = conn
	return conn, nil
}

func (s *Screen) root(conn *xgb.Conn) (*xproto.ScreenInfo, error) {
	setup := xproto.Setup(conn)
	if setup == nil || len(setup.Roots) == 0 {
		return nil, fmt.Errorf("%w: no root screens", ErrNoDisplay)
	}
	idx := conn.DefaultScreen
	if idx < 0 || idx >= len(setup.Roots) {
		idx = 0
	}
	return &setup.Roots[idx], nil
}

// ScreenSize implements ScreenSizer.
func (s *Screen) ScreenSize() (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.connect()
	if err != nil {
		return 0, 0, err
	}
	root, err := s.root(conn)
	if err != nil {
		s.closeLocked()
		return 0, 0, err
	}
	return int(root.WidthInPixels), int(root.HeightInPixels), nil
}

// DetectCompositor checks for an owner of the _NET_WM_CM_Sn selection,
// which EWMH compositing managers claim.
func (s *Screen) DetectCompositor() CompositorStatus {
	if IsWayland() {
		return CompositorActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.connect()
	if err != nil {
		return CompositorUnknown
	}
	atomName := fmt.Sprintf("_NET_WM_CM_S%d", conn.DefaultScreen)
	atom, err := xproto.InternAtom(conn, false, uint16(len(atomName)), atomName).Reply()
	if err != nil || atom == nil {
		s.closeLocked()
		return CompositorUnknown
	}
	owner, err := xproto.GetSelectionOwner(conn, atom.Atom).Reply()
	if err != nil {
		s.closeLocked()
		return CompositorUnknown
	}
	if owner.Owner != xproto.WindowNone {
		return CompositorActive
	}
	return CompositorInactive
}

// Close releases the X connection.
func (s *Screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Screen) closeLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
