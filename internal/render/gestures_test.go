package render

import (
	"math"
	"testing"

	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/pointer"
)

type recordedZoom struct {
	factor float64
	focus  geom.PointF
}

type recordingHandler struct {
	resizes  [][2]int
	scrolls  []geom.PointF
	zooms    []recordedZoom
	pointers []PointerInput
}

func (r *recordingHandler) Resize(w, h int)        { r.resizes = append(r.resizes, [2]int{w, h}) }
func (r *recordingHandler) Scroll(dx, dy float64)  { r.scrolls = append(r.scrolls, geom.PointF{X: dx, Y: dy}) }
func (r *recordingHandler) Pointer(p PointerInput) { r.pointers = append(r.pointers, p) }
func (r *recordingHandler) Zoom(f float64, p geom.PointF) {
	r.zooms = append(r.zooms, recordedZoom{f, p})
}

func newTestTracker() *gestureTracker {
	cfg := DefaultConfig()
	cfg.ScrollStep = 10
	cfg.ZoomStep = 2
	return newGestureTracker(cfg)
}

func TestKeyboardAndWheel(t *testing.T) {
	tests := []struct {
		name   string
		in     InputSnapshot
		scroll []geom.PointF
		zooms  []float64
	}{
		{"arrows", InputSnapshot{Left: true, Down: true}, []geom.PointF{{X: -10, Y: 10}}, nil},
		{"wheel", InputSnapshot{WheelY: 1}, []geom.PointF{{X: 0, Y: -10}}, nil},
		{"ctrl wheel zooms", InputSnapshot{Ctrl: true, WheelY: -1}, nil, []float64{0.5}},
		{"zoom keys", InputSnapshot{ZoomIn: true, ZoomOut: true}, nil, []float64{2, 0.5}},
		{"idle", InputSnapshot{}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			newTestTracker().apply(tt.in, h)
			if len(h.scrolls) != len(tt.scroll) {
				t.Fatalf("scrolls = %v, want %v", h.scrolls, tt.scroll)
			}
			for i := range tt.scroll {
				if h.scrolls[i] != tt.scroll[i] {
					t.Errorf("scroll %d = %v, want %v", i, h.scrolls[i], tt.scroll[i])
				}
			}
			if len(h.zooms) != len(tt.zooms) {
				t.Fatalf("zooms = %v, want %v", h.zooms, tt.zooms)
			}
			for i := range tt.zooms {
				if math.Abs(h.zooms[i].factor-tt.zooms[i]) > 1e-9 {
					t.Errorf("zoom %d = %v, want %v", i, h.zooms[i].factor, tt.zooms[i])
				}
			}
		})
	}
}

func TestMouseDragPans(t *testing.T) {
	g := newTestTracker()
	h := &recordingHandler{}

	g.apply(InputSnapshot{Cursor: geom.PointF{X: 10, Y: 10}, MousePressed: true, MouseDown: true}, h)
	g.apply(InputSnapshot{Cursor: geom.PointF{X: 20, Y: 15}, MouseDown: true}, h)
	g.apply(InputSnapshot{Cursor: geom.PointF{X: 20, Y: 15}, MouseReleased: true}, h)
	g.apply(InputSnapshot{Cursor: geom.PointF{X: 30, Y: 30}}, h)

	want := []pointer.MouseAction{pointer.MousePress, pointer.MouseMove, pointer.MouseRelease, pointer.MouseMove}
	if len(h.pointers) != len(want) {
		t.Fatalf("pointer events = %+v", h.pointers)
	}
	for i, a := range want {
		if h.pointers[i].Touch || h.pointers[i].Mouse != a {
			t.Errorf("event %d = %+v, want %v", i, h.pointers[i], a)
		}
	}
	if len(h.scrolls) != 1 || h.scrolls[0] != (geom.PointF{X: -10, Y: -5}) {
		t.Errorf("scrolls = %v, want one drag of (-10,-5)", h.scrolls)
	}
}

func TestTouchPanAndPinch(t *testing.T) {
	g := newTestTracker()
	h := &recordingHandler{}

	g.apply(InputSnapshot{Touches: []TouchSample{{ID: 1, X: 50, Y: 50, Pressed: true}}}, h)
	g.apply(InputSnapshot{Touches: []TouchSample{{ID: 1, X: 40, Y: 45}}}, h)
	if len(h.scrolls) != 1 || h.scrolls[0] != (geom.PointF{X: 10, Y: 5}) {
		t.Fatalf("one finger pan = %v", h.scrolls)
	}

	g.apply(InputSnapshot{Touches: []TouchSample{{ID: 1, X: 0, Y: 0}, {ID: 2, X: 100, Y: 0, Pressed: true}}}, h)
	g.apply(InputSnapshot{Touches: []TouchSample{{ID: 1, X: 0, Y: 0}, {ID: 2, X: 200, Y: 0}}}, h)
	if len(h.zooms) != 1 || h.zooms[0].factor != 2 || h.zooms[0].focus != (geom.PointF{X: 100, Y: 0}) {
		t.Errorf("pinch = %+v", h.zooms)
	}

	g.apply(InputSnapshot{Touches: []TouchSample{{ID: 2, X: 200, Y: 0, Released: true}}}, h)
	last := h.pointers[len(h.pointers)-1]
	if !last.Touch || last.ID != 2 || last.Phase != pointer.PhaseRemove {
		t.Errorf("release = %+v", last)
	}
	if len(g.touches) != 1 {
		t.Errorf("tracked touches = %d", len(g.touches))
	}
}
