package render

import (
	"math"

	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/pointer"
)

// PointerInput is a touch or mouse event in view coordinates.
type PointerInput struct {
	Touch bool
	// ID and Phase describe touch input.
	ID    int
	Phase pointer.Phase
	// Mouse describes mouse input.
	Mouse pointer.MouseAction
	X, Y  float64
}

// TouchSample is one touch point polled in a tick.
type TouchSample struct {
	ID       int
	X, Y     float64
	Pressed  bool
	Released bool
}

// InputSnapshot is the input state polled in one tick.
type InputSnapshot struct {
	Left, Right, Up, Down bool
	ZoomIn, ZoomOut       bool
	Ctrl                  bool
	WheelX, WheelY        float64

	Cursor        geom.PointF
	MouseDown     bool
	MousePressed  bool
	MouseReleased bool

	Touches []TouchSample
}

// gestureTracker turns input snapshots into gestures. Dragging with the
// mouse or one finger pans; two fingers pinch zoom.
type gestureTracker struct {
	scrollStep float64
	zoomStep   float64

	cursor    geom.PointF
	hasCursor bool
	dragging  bool
	touches   map[int]geom.PointF
}

func newGestureTracker(cfg Config) *gestureTracker {
	return &gestureTracker{
		scrollStep: cfg.ScrollStep,
		zoomStep:   cfg.ZoomStep,
		touches:    make(map[int]geom.PointF),
	}
}

func (g *gestureTracker) apply(in InputSnapshot, h GestureHandler) {
	var scroll geom.PointF
	if in.Left {
		scroll.X -= g.scrollStep
	}
	if in.Right {
		scroll.X += g.scrollStep
	}
	if in.Up {
		scroll.Y -= g.scrollStep
	}
	if in.Down {
		scroll.Y += g.scrollStep
	}

	if in.Ctrl && in.WheelY != 0 {
		h.Zoom(math.Pow(g.zoomStep, in.WheelY), in.Cursor)
	} else {
		scroll.X -= in.WheelX * g.scrollStep
		scroll.Y -= in.WheelY * g.scrollStep
	}
	if in.ZoomIn {
		h.Zoom(g.zoomStep, in.Cursor)
	}
	if in.ZoomOut {
		h.Zoom(1/g.zoomStep, in.Cursor)
	}

	scroll = scroll.Add(g.applyMouse(in, h))
	scroll = scroll.Add(g.applyTouches(in.Touches, h))
	if !scroll.IsZero() {
		h.Scroll(scroll.X, scroll.Y)
	}
}

// applyMouse reports mouse events and returns the drag distance to pan.
func (g *gestureTracker) applyMouse(in InputSnapshot, h GestureHandler) geom.PointF {
	var pan geom.PointF
	if in.MousePressed {
		g.dragging = true
		h.Pointer(PointerInput{Mouse: pointer.MousePress, X: in.Cursor.X, Y: in.Cursor.Y})
	}
	if g.hasCursor && in.Cursor != g.cursor {
		h.Pointer(PointerInput{Mouse: pointer.MouseMove, X: in.Cursor.X, Y: in.Cursor.Y})
		if g.dragging && in.MouseDown {
			pan = g.cursor.Sub(in.Cursor)
		}
	}
	if in.MouseReleased {
		g.dragging = false
		h.Pointer(PointerInput{Mouse: pointer.MouseRelease, X: in.Cursor.X, Y: in.Cursor.Y})
	}
	g.cursor, g.hasCursor = in.Cursor, true
	return pan
}

// applyTouches reports touch transitions. One moving finger pans; two
// fingers zoom by the change in their distance around their midpoint.
func (g *gestureTracker) applyTouches(samples []TouchSample, h GestureHandler) geom.PointF {
	var pan geom.PointF
	if len(g.touches) == 2 && len(samples) == 2 && !samples[0].Pressed && !samples[1].Pressed {
		a0, b0 := g.touches[samples[0].ID], g.touches[samples[1].ID]
		a1 := geom.PointF{X: samples[0].X, Y: samples[0].Y}
		b1 := geom.PointF{X: samples[1].X, Y: samples[1].Y}
		if d0, d1 := distance(a0, b0), distance(a1, b1); d0 > 0 && d1 > 0 && d0 != d1 {
			h.Zoom(d1/d0, a1.Add(b1).Scale(0.5))
		}
	}

	for _, s := range samples {
		p := geom.PointF{X: s.X, Y: s.Y}
		prev, known := g.touches[s.ID]
		switch {
		case s.Released:
			h.Pointer(PointerInput{Touch: true, ID: s.ID, Phase: pointer.PhaseRemove, X: s.X, Y: s.Y})
			delete(g.touches, s.ID)
			continue
		case s.Pressed || !known:
			h.Pointer(PointerInput{Touch: true, ID: s.ID, Phase: pointer.PhaseContact, X: s.X, Y: s.Y})
		case p != prev:
			h.Pointer(PointerInput{Touch: true, ID: s.ID, Phase: pointer.PhaseContact, X: s.X, Y: s.Y})
			if len(samples) == 1 {
				pan = prev.Sub(p)
			}
		}
		g.touches[s.ID] = p
	}
	return pan
}

func distance(a, b geom.PointF) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
