package layersync

import (
	"context"
	"fmt"

	"github.com/opd-ai/go-layersync/internal/engine"
	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/layer"
	"github.com/opd-ai/go-layersync/internal/render"
)

// dispatch moves engine notifications onto the UI loop until ctx is
// cancelled. It waits for room in the UI queue rather than dropping an
// event. Resume acknowledgements go straight to the controller, which is
// safe to call from any goroutine.
func (s *session) dispatch(ctx context.Context, c *components) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.sim.Events():
			s.metrics.IncrementEngineEvents()
			if err := s.handleEngineEvent(ctx, c, ev); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("engine event not delivered", "event", engine.Name(ev), "error", err)
			}
		}
	}
}

func (s *session) handleEngineEvent(ctx context.Context, c *components, ev engine.Event) error {
	switch ev := ev.(type) {
	case engine.Ready:
		return c.loop.Send(ctx, func() {
			c.client.SetEngineReady()
			c.ctrl.EngineReady()
			s.emitEvent(EventEngineReady, "Engine ready")
		})
	case engine.FirstPaintViewport:
		return c.loop.Send(ctx, func() {
			if err := c.client.SetFirstPaintViewport(ev.OffsetX, ev.OffsetY, ev.Zoom, ev.CSSPageRect, ev.IsRTL); err != nil {
				s.notifyError(err)
				return
			}
			c.client.AbortPanZoomAnimation()
			s.emitEvent(EventFirstPaint, fmt.Sprintf("Document painted at zoom %.3f", ev.Zoom))
		})
	case engine.PageRectChanged:
		return c.loop.Send(ctx, func() {
			if err := c.client.SetPageRect(ev.CSSPageRect); err != nil {
				s.notifyError(err)
			}
			c.echoPaintSyncID(ev.PaintSyncID)
		})
	case engine.GeometryChanged:
		return c.loop.Send(ctx, func() {
			c.client.AbortPanZoomAnimation()
			c.echoPaintSyncID(ev.PaintSyncID)
		})
	case engine.ViewportUpdate:
		return c.loop.Send(ctx, func() {
			c.client.GetSyncedDisplayPort(ev, true)
			c.echoPaintSyncID(ev.PaintSyncID)
		})
	case engine.CompositorResumed:
		if c.ctrl.ResumeAcknowledged(ev.Generation) {
			s.emitEvent(EventCompositorResumed, "Compositor resumed")
		}
	default:
		s.logger.Debug("unhandled engine event", "event", engine.Name(ev))
	}
	return nil
}

// echoPaintSyncID hands an id the engine echoed to the next frame, which
// completes the matching resize.
func (c *components) echoPaintSyncID(id uint32) {
	if id != 0 {
		c.host.pipeline().SetPaintSyncID(id)
	}
}

// resize applies a new viewport size on the UI loop and replaces the
// surface, pausing the compositor until the engine acknowledges the
// resume.
func (s *session) resize(c *components, width, height int) {
	c.loop.Post(func() {
		if !c.client.SetViewportSize(width, height, nil) {
			return
		}
		c.ctrl.SurfaceDestroyed()
		s.emitEvent(EventCompositorPaused, "Surface destroyed")
		c.ctrl.SurfaceChanged(width, height)
		s.metrics.IncrementSurfaceCycles()
	})
}

func (s *session) scroll(c *components, dx, dy float64) {
	c.loop.Post(func() {
		c.pz.scrolled(dx, dy)
		c.client.ScrollBy(dx, dy)
	})
}

func (s *session) zoom(c *components, factor float64, focus geom.PointF) {
	c.loop.Post(func() {
		zoom := c.client.ViewportMetrics().ZoomFactor * factor
		if err := c.client.SetZoom(zoom, focus); err != nil {
			s.notifyError(err)
		}
	})
}

// gestureSink routes compositor input into a running stack.
type gestureSink struct {
	s *session
	c *components
}

var _ render.GestureHandler = gestureSink{}

func (g gestureSink) Resize(width, height int) {
	g.s.metrics.IncrementGestures()
	g.s.resize(g.c, width, height)
}

func (g gestureSink) Scroll(dx, dy float64) {
	g.s.metrics.IncrementGestures()
	g.s.scroll(g.c, dx, dy)
}

func (g gestureSink) Zoom(factor float64, focus geom.PointF) {
	g.s.metrics.IncrementGestures()
	g.s.zoom(g.c, factor, focus)
}

func (g gestureSink) Pointer(p render.PointerInput) {
	g.s.metrics.IncrementGestures()
	g.c.loop.Post(func() {
		var err error
		if p.Touch {
			err = g.c.ptr.SynthesizeTouch(p.ID, p.Phase, p.X, p.Y, 1, 0)
		} else {
			err = g.c.ptr.SynthesizeMouse(p.Mouse, p.X, p.Y)
		}
		if err != nil {
			g.s.notifyError(err)
		}
	})
}

// ScrollBy scrolls by (dx, dy) device pixels.
func (s *session) ScrollBy(dx, dy float64) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	gestureSink{s: s, c: c}.Scroll(dx, dy)
	return nil
}

// Zoom multiplies the zoom factor around a view point.
func (s *session) Zoom(factor, focusX, focusY float64) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	if !geom.IsFinite(factor) || factor <= 0 {
		return fmt.Errorf("zoom factor must be positive: %v", factor)
	}
	gestureSink{s: s, c: c}.Zoom(factor, geom.PointF{X: focusX, Y: focusY})
	return nil
}

// Resize changes the viewport size.
func (s *session) Resize(width, height int) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("viewport size must be positive: %dx%d", width, height)
	}
	gestureSink{s: s, c: c}.Resize(width, height)
	return nil
}

// LoadDocument navigates the engine to a new document. The next first
// paint resets the per-document state.
func (s *session) LoadDocument() error {
	c, err := s.current()
	if err != nil {
		return err
	}
	c.view.SetPaintState(layer.PaintStart)
	c.sim.LoadDocument()
	return nil
}

// Touch injects a touch point.
func (s *session) Touch(id int, phase TouchPhase, x, y, pressure float64) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	if ierr := c.loop.Invoke(context.Background(), func() {
		err = c.ptr.SynthesizeTouch(id, phase, x, y, pressure, 0)
	}); ierr != nil {
		return ierr
	}
	return err
}

// Mouse injects a mouse event.
func (s *session) Mouse(action MouseAction, x, y float64) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	if ierr := c.loop.Invoke(context.Background(), func() {
		err = c.ptr.SynthesizeMouse(action, x, y)
	}); ierr != nil {
		return ierr
	}
	return err
}

// Suspend reports the surface as destroyed and waits for the pause.
func (s *session) Suspend() error {
	c, err := s.current()
	if err != nil {
		return err
	}
	if err := c.loop.Invoke(context.Background(), c.ctrl.SurfaceDestroyed); err != nil {
		return err
	}
	s.emitEvent(EventCompositorPaused, "Surface destroyed")
	return nil
}

// Resume reports the surface as available at the current viewport size.
func (s *session) Resume() error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.loop.Invoke(context.Background(), func() {
		size := c.client.ViewportMetrics().ViewportSize
		c.ctrl.SurfaceChanged(size.Width, size.Height)
	})
}

// Viewport returns the current viewport state.
func (s *session) Viewport() ViewportState {
	c, err := s.current()
	if err != nil {
		return ViewportState{Document: layer.NoDocument.String()}
	}
	m := c.client.ViewportMetrics()
	dp := c.client.DisplayPort()
	return ViewportState{
		OriginX:     m.Origin.X,
		OriginY:     m.Origin.Y,
		Zoom:        m.ZoomFactor,
		Width:       m.ViewportSize.Width,
		Height:      m.ViewportSize.Height,
		PageWidth:   m.PageWidth(),
		PageHeight:  m.PageHeight(),
		DisplayPort: [4]float64{dp.Left, dp.Top, dp.Right, dp.Bottom},
		Resolution:  dp.Resolution,
		Document:    c.client.DocumentState().String(),
		InDanger:    c.client.Governor().InDanger(),
	}
}
