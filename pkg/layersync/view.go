package layersync

import (
	"math"
	"sync/atomic"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/layer"
	"github.com/opd-ai/go-layersync/internal/uithread"
)

// flingDecay is the per frame velocity multiplier after a scroll gesture.
const flingDecay = 0.9

// flingStop is the speed in device pixels per frame under which a fling
// ends.
const flingStop = 0.05

// hostView implements layer.View on top of the UI loop and the compositor
// controller.
type hostView struct {
	loop    *uithread.Loop
	ctrl    *compositor.Controller
	paint   atomic.Int32
	renders atomic.Uint64
}

func (v *hostView) Post(fn func())                   { v.loop.Post(fn) }
func (v *hostView) RequestRender()                   { v.renders.Add(1) }
func (v *hostView) Renders() uint64                  { return v.renders.Load() }
func (v *hostView) PaintState() layer.PaintState     { return layer.PaintState(v.paint.Load()) }
func (v *hostView) SetPaintState(s layer.PaintState) { v.paint.Store(int32(s)) }

// NativeWindow returns nil until the controller has seen a surface.
func (v *hostView) NativeWindow() layer.NativeWindow {
	if w, h := v.ctrl.Size(); w <= 0 || h <= 0 {
		return nil
	}
	return controllerWindow{v.ctrl}
}

type controllerWindow struct{ ctrl *compositor.Controller }

func (w controllerWindow) Size() (int, int) { return w.ctrl.Size() }

// panZoom implements layer.PanZoom. Scroll gestures set a velocity that
// decays every frame, a minimal fling.
type panZoom struct {
	vx, vy  atomic.Uint64
	aborts  atomic.Uint64
	shifted atomic.Uint64
}

func (p *panZoom) Velocity() geom.PointF {
	return geom.PointF{
		X: math.Float64frombits(p.vx.Load()),
		Y: math.Float64frombits(p.vy.Load()),
	}
}

func (p *panZoom) setVelocity(v geom.PointF) {
	p.vx.Store(math.Float64bits(v.X))
	p.vy.Store(math.Float64bits(v.Y))
}

func (p *panZoom) AbortAnimation() {
	p.setVelocity(geom.PointF{})
	p.aborts.Add(1)
}

// AdjustScrollForSurfaceShift moves the fling origin with the surface;
// the velocity is relative and stays as it is.
func (p *panZoom) AdjustScrollForSurfaceShift(delta geom.PointF) {
	p.shifted.Add(1)
}

// scrolled records a scroll gesture of (dx, dy).
func (p *panZoom) scrolled(dx, dy float64) {
	p.setVelocity(geom.PointF{X: dx, Y: dy})
}

// decay runs once per composited frame.
func (p *panZoom) decay() {
	v := p.Velocity()
	if v.IsZero() {
		return
	}
	v = v.Scale(flingDecay)
	if math.Hypot(v.X, v.Y) < flingStop {
		v = geom.PointF{}
	}
	p.setVelocity(v)
}

// fixedTab is the single foreground tab.
type fixedTab int

func (t fixedTab) SelectedTabID() int { return int(t) }
