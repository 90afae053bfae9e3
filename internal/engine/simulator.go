package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	rt "github.com/arnodel/golua/runtime"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/lua"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// ErrStopped is returned by bridge calls once the simulator has stopped.
var ErrStopped = errors.New("engine simulator stopped")

// DefaultLayoutScript lays out a 980 CSS pixel wide document zoomed to fit
// the viewport width.
const DefaultLayoutScript = `
function layout(viewport_width, viewport_height)
  local width = 980
  return {
    width = width,
    height = 4000,
    rtl = false,
    zoom = viewport_width / width,
  }
end
`

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	// Script is Lua source defining layout(viewport_width, viewport_height)
	// and optionally on_motion(action, x, y). Empty uses DefaultLayoutScript.
	Script []byte
	// ScriptName names the script in errors.
	ScriptName string
	// Limits bounds every script call.
	Limits lua.Limits
	// TabID is reported in viewport updates.
	TabID int
	// QueueSize bounds pending engine work.
	QueueSize int
}

// Layout is the page geometry produced by the layout script.
type Layout struct {
	CSSPageRect geom.RectF
	Zoom        float64
	IsRTL       bool
}

// SimStats counts engine side traffic.
type SimStats struct {
	Resizes        uint64
	ViewportEvents uint64
	ScrollChanges  uint64
	MotionEvents   uint64
	Pauses         uint64
	Resumes        uint64
	ScriptErrors   uint64
}

// Simulator is an in-process engine. All work runs on the goroutine that
// calls Run, in the order it was requested.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger
	script *lua.Sandbox

	queue    chan func(ctx context.Context)
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once

	// Engine goroutine state.
	viewportW, viewportH int
	layout               Layout
	loaded               bool
	lastDisplayPort      viewport.DisplayPort

	resizes, viewportEvents, scrollChanges atomic.Uint64
	motionEvents, pauses, resumes          atomic.Uint64
	scriptErrors                           atomic.Uint64
}

// NewSimulator compiles the layout script.
func NewSimulator(cfg SimulatorConfig, logger *slog.Logger) (*Simulator, error) {
	if len(cfg.Script) == 0 {
		cfg.Script = []byte(DefaultLayoutScript)
		cfg.ScriptName = "default_layout"
	}
	if cfg.ScriptName == "" {
		cfg.ScriptName = "layout"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sandbox := lua.NewSandbox(cfg.Limits)
	if err := sandbox.Run(cfg.ScriptName, cfg.Script); err != nil {
		sandbox.Close()
		return nil, fmt.Errorf("load layout script: %w", err)
	}
	if !sandbox.HasFunction("layout") {
		sandbox.Close()
		return nil, fmt.Errorf("layout script %s: %w: layout", cfg.ScriptName, lua.ErrNoFunction)
	}

	return &Simulator{
		cfg:    cfg,
		logger: logger.With("component", "engine"),
		script: sandbox,
		queue:  make(chan func(ctx context.Context), cfg.QueueSize),
		events: make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}, nil
}

// Events delivers inbound notifications. It is never closed.
func (s *Simulator) Events() <-chan Event { return s.events }

// Run processes engine work until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.stop()
	for {
		select {
		case task := <-s.queue:
			task(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Simulator) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.script.Close()
	})
}

// Stats returns traffic counters.
func (s *Simulator) Stats() SimStats {
	return SimStats{
		Resizes:        s.resizes.Load(),
		ViewportEvents: s.viewportEvents.Load(),
		ScrollChanges:  s.scrollChanges.Load(),
		MotionEvents:   s.motionEvents.Load(),
		Pauses:         s.pauses.Load(),
		Resumes:        s.resumes.Load(),
		ScriptErrors:   s.scriptErrors.Load(),
	}
}

// post queues fire and forget work. Work is dropped when the queue is full
// or the simulator has stopped.
func (s *Simulator) post(name string, fn func(ctx context.Context)) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- fn:
	default:
		s.logger.Warn("engine queue full, dropping request", "request", name)
	}
}

// call queues work and waits until the engine goroutine has processed it.
func (s *Simulator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	task := func(ctx context.Context) { result <- fn(ctx) }
	select {
	case s.queue <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

func (s *Simulator) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Start reports the engine ready and loads the first document for a
// viewport of the given size.
func (s *Simulator) Start(width, height int) {
	s.post("start", func(ctx context.Context) {
		s.viewportW, s.viewportH = width, height
		s.emit(ctx, Ready{})
		s.loadDocument(ctx)
	})
}

// LoadDocument simulates navigation: the layout script runs again and a
// first paint is reported for the new document.
func (s *Simulator) LoadDocument() {
	s.post("load", s.loadDocument)
}

// SetScript replaces the layout script and reloads the document.
func (s *Simulator) SetScript(name string, code []byte) error {
	if err := s.script.Run(name, code); err != nil {
		return err
	}
	s.LoadDocument()
	return nil
}

func (s *Simulator) loadDocument(ctx context.Context) {
	s.layout = s.runLayout()
	s.loaded = true
	s.emit(ctx, FirstPaintViewport{
		Zoom:        s.layout.Zoom,
		CSSPageRect: s.layout.CSSPageRect,
		IsRTL:       s.layout.IsRTL,
	})
}

// runLayout calls the script. A failing script falls back to a page the
// size of the viewport.
func (s *Simulator) runLayout() Layout {
	fallback := Layout{
		CSSPageRect: geom.Rect(0, 0, float64(s.viewportW), float64(s.viewportH)),
		Zoom:        1,
	}
	v, err := s.script.Call("layout", rt.IntValue(int64(s.viewportW)), rt.IntValue(int64(s.viewportH)))
	if err != nil {
		s.scriptErrors.Add(1)
		s.logger.Error("layout script failed", "error", err)
		return fallback
	}
	tbl, ok := v.TryTable()
	if !ok {
		s.scriptErrors.Add(1)
		s.logger.Error("layout script returned a non-table value")
		return fallback
	}
	out := fallback
	w, okW := lua.TableFloat(tbl, "width")
	h, okH := lua.TableFloat(tbl, "height")
	if okW && okH {
		out.CSSPageRect = geom.Rect(0, 0, w, h)
	}
	if z, ok := lua.TableFloat(tbl, "zoom"); ok && z > 0 {
		out.Zoom = z
	}
	if rtl, ok := lua.TableBool(tbl, "rtl"); ok {
		out.IsRTL = rtl
	}
	return out
}

// NotifyResize implements Engine. Before the first document is loaded only
// a synced resize is answered, with a bare GeometryChanged.
func (s *Simulator) NotifyResize(width, height, screenWidth, screenHeight int, paintSyncID uint32) {
	s.resizes.Add(1)
	s.post("resize", func(ctx context.Context) {
		s.viewportW, s.viewportH = width, height
		if !s.loaded {
			if paintSyncID != 0 {
				s.emit(ctx, GeometryChanged{PaintSyncID: paintSyncID})
			}
			return
		}
		next := s.runLayout()
		if !next.CSSPageRect.Equal(s.layout.CSSPageRect) {
			s.layout.CSSPageRect = next.CSSPageRect
			s.emit(ctx, PageRectChanged{CSSPageRect: next.CSSPageRect, PaintSyncID: paintSyncID})
			return
		}
		s.emit(ctx, GeometryChanged{PaintSyncID: paintSyncID})
	})
}

// SendViewportEvent implements Engine. The engine echoes the viewport with
// its own page geometry.
func (s *Simulator) SendViewportEvent(m viewport.Metrics, dp viewport.DisplayPort) {
	s.viewportEvents.Add(1)
	s.post("viewport", func(ctx context.Context) {
		s.lastDisplayPort = dp
		s.emit(ctx, ViewportUpdate{Metrics: s.engineMetrics(m), TabID: s.cfg.TabID})
	})
}

// SendScrollChanged implements Engine.
func (s *Simulator) SendScrollChanged(payload []byte) {
	s.scrollChanges.Add(1)
	change, err := DecodeScrollChange(payload)
	if err != nil {
		s.logger.Warn("bad scroll payload", "error", err)
		return
	}
	s.post("scroll", func(ctx context.Context) {
		if !s.loaded {
			return
		}
		zoom := s.layout.Zoom
		m := viewport.New(s.viewportW, s.viewportH).
			WithZoomFactor(zoom).
			WithOrigin(change.X*zoom, change.Y*zoom)
		s.emit(ctx, ViewportUpdate{
			Metrics:     s.engineMetrics(m),
			TabID:       s.cfg.TabID,
			PaintSyncID: change.ID,
		})
	})
}

// SendMotionEvent implements Engine. When the script defines on_motion it
// is called with the action code and the changed pointer's position.
func (s *Simulator) SendMotionEvent(ev MotionEvent) {
	s.motionEvents.Add(1)
	if ev.Index < 0 || ev.Index >= len(ev.Pointers) {
		return
	}
	p := ev.Pointers[ev.Index]
	s.post("motion", func(ctx context.Context) {
		if !s.script.HasFunction("on_motion") {
			return
		}
		if _, err := s.script.Call("on_motion", rt.IntValue(int64(ev.Action)), rt.FloatValue(p.X), rt.FloatValue(p.Y)); err != nil {
			s.scriptErrors.Add(1)
			s.logger.Warn("on_motion failed", "error", err)
		}
	})
}

// engineMetrics splices the engine's page geometry into m.
func (s *Simulator) engineMetrics(m viewport.Metrics) viewport.Metrics {
	css := s.layout.CSSPageRect
	return m.WithPageRect(css.Scale(m.ZoomFactor), css)
}

// LastDisplayPort returns the most recent display port the engine was
// asked to rasterize. Only meaningful from the engine goroutine or after
// Run has returned.
func (s *Simulator) LastDisplayPort() viewport.DisplayPort { return s.lastDisplayPort }

type simCompositor struct {
	disposed atomic.Bool
}

func (c *simCompositor) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return errors.New("compositor already disposed")
	}
	return nil
}

// CreateCompositor implements compositor.Bridge.
func (s *Simulator) CreateCompositor(ctx context.Context, surface compositor.Surface, width, height int) (compositor.NativeCompositorHandle, error) {
	var handle compositor.NativeCompositorHandle
	err := s.call(ctx, func(context.Context) error {
		s.logger.Debug("compositor created", "surface", surface.ID(), "width", width, "height", height)
		handle = &simCompositor{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// PauseCompositor implements compositor.Bridge. It returns after the pause
// went through the engine queue, behind every request queued before it.
func (s *Simulator) PauseCompositor(ctx context.Context) error {
	return s.call(ctx, func(context.Context) error {
		s.pauses.Add(1)
		return nil
	})
}

// ResumeCompositor implements compositor.Bridge.
func (s *Simulator) ResumeCompositor(surface compositor.Surface, width, height int, generation uint64) {
	s.post("resume", func(ctx context.Context) {
		s.resumes.Add(1)
		s.emit(ctx, CompositorResumed{Generation: generation})
	})
}
