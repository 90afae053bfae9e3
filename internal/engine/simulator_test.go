package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/lua"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

func runSimulator(t *testing.T, cfg SimulatorConfig) *Simulator {
	t.Helper()
	if cfg.Limits == (lua.Limits{}) {
		cfg.Limits = lua.DefaultLimits()
	}
	sim, err := NewSimulator(cfg, nil)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sim
}

func nextEvent(t *testing.T, sim *Simulator) Event {
	t.Helper()
	select {
	case ev := <-sim.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an engine event")
		return nil
	}
}

func TestStartReportsReadyThenFirstPaint(t *testing.T) {
	sim := runSimulator(t, SimulatorConfig{})
	sim.Start(490, 800)

	if _, ok := nextEvent(t, sim).(Ready); !ok {
		t.Fatal("first event is not Ready")
	}
	fp, ok := nextEvent(t, sim).(FirstPaintViewport)
	if !ok {
		t.Fatal("second event is not FirstPaintViewport")
	}
	if fp.Zoom != 0.5 {
		t.Errorf("Zoom = %v, want 0.5", fp.Zoom)
	}
	if fp.CSSPageRect != geom.Rect(0, 0, 980, 4000) {
		t.Errorf("CSSPageRect = %v", fp.CSSPageRect)
	}
}

func TestResizeReportsPageRectChange(t *testing.T) {
	script := []byte(`
		function layout(w, h)
			return { width = w, height = h * 4 }
		end
	`)
	sim := runSimulator(t, SimulatorConfig{Script: script})
	sim.Start(640, 480)
	nextEvent(t, sim)
	nextEvent(t, sim)

	sim.NotifyResize(640, 480, 1080, 1920, 0)
	if gc, ok := nextEvent(t, sim).(GeometryChanged); !ok || gc.PaintSyncID != 0 {
		t.Errorf("same size resize = %+v, want an unsynced GeometryChanged", gc)
	}

	sim.NotifyResize(800, 600, 1080, 1920, 5)
	ev, ok := nextEvent(t, sim).(PageRectChanged)
	if !ok {
		t.Fatal("resize did not report PageRectChanged")
	}
	if ev.CSSPageRect != geom.Rect(0, 0, 800, 2400) {
		t.Errorf("CSSPageRect = %v", ev.CSSPageRect)
	}
	if ev.PaintSyncID != 5 {
		t.Errorf("PaintSyncID = %d, want the resize's id 5", ev.PaintSyncID)
	}
	if sim.Stats().Resizes != 2 {
		t.Errorf("Resizes = %d, want 2", sim.Stats().Resizes)
	}
}

func TestResizeBeforeLoadEchoesSyncID(t *testing.T) {
	sim := runSimulator(t, SimulatorConfig{})
	sim.NotifyResize(640, 480, 1080, 1920, 3)
	if gc, ok := nextEvent(t, sim).(GeometryChanged); !ok || gc.PaintSyncID != 3 {
		t.Errorf("resize before load = %+v, want GeometryChanged with id 3", gc)
	}
}

func TestScrollChangeEchoesSyncID(t *testing.T) {
	sim := runSimulator(t, SimulatorConfig{TabID: 7})
	sim.Start(980, 800)
	nextEvent(t, sim)
	nextEvent(t, sim)

	payload, err := ScrollChange{X: 10, Y: 20, ID: 42}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	sim.SendScrollChanged(payload)
	up, ok := nextEvent(t, sim).(ViewportUpdate)
	if !ok {
		t.Fatal("scroll change did not produce a ViewportUpdate")
	}
	if up.PaintSyncID != 42 || up.TabID != 7 {
		t.Errorf("update = %+v", up)
	}
	if up.Metrics.Origin != (geom.PointF{X: 10, Y: 20}) {
		t.Errorf("Origin = %v, want (10,20) at zoom 1", up.Metrics.Origin)
	}
	if up.Metrics.CSSPageRect != geom.Rect(0, 0, 980, 4000) {
		t.Errorf("CSSPageRect = %v", up.Metrics.CSSPageRect)
	}
}

func TestViewportEventEchoesEnginePage(t *testing.T) {
	sim := runSimulator(t, SimulatorConfig{})
	sim.Start(980, 800)
	nextEvent(t, sim)
	nextEvent(t, sim)

	m := viewport.New(980, 800).WithZoomFactor(2)
	dp := viewport.DisplayPort{Right: 1024, Bottom: 1024, Resolution: 2}
	sim.SendViewportEvent(m, dp)
	up := nextEvent(t, sim).(ViewportUpdate)
	if up.Metrics.PageRect != geom.Rect(0, 0, 1960, 8000) {
		t.Errorf("PageRect = %v, want css page at zoom 2", up.Metrics.PageRect)
	}
	if up.PaintSyncID != 0 {
		t.Errorf("PaintSyncID = %d, want 0", up.PaintSyncID)
	}
}

func TestBridgeCallsWaitForEngine(t *testing.T) {
	sim := runSimulator(t, SimulatorConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	h, err := sim.CreateCompositor(ctx, stubSurface{}, 640, 480)
	if err != nil {
		t.Fatalf("CreateCompositor: %v", err)
	}
	if err := sim.PauseCompositor(ctx); err != nil {
		t.Fatalf("PauseCompositor: %v", err)
	}
	if sim.Stats().Pauses != 1 {
		t.Errorf("Pauses = %d, want 1", sim.Stats().Pauses)
	}
	sim.ResumeCompositor(stubSurface{}, 640, 480, 9)
	if ack, ok := nextEvent(t, sim).(CompositorResumed); !ok || ack.Generation != 9 {
		t.Errorf("resume ack = %+v", ack)
	}
	if err := h.Dispose(); err != nil {
		t.Errorf("Dispose: %v", err)
	}
	if err := h.Dispose(); err == nil {
		t.Error("second Dispose should fail")
	}
}

func TestBridgeCallAfterStop(t *testing.T) {
	sim, err := NewSimulator(SimulatorConfig{Limits: lua.DefaultLimits()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim.Run(ctx)
	if err := sim.PauseCompositor(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("PauseCompositor after stop = %v, want ErrStopped", err)
	}
}

func TestScriptErrors(t *testing.T) {
	if _, err := NewSimulator(SimulatorConfig{Script: []byte("not lua at all")}, nil); err == nil {
		t.Error("expected compile error")
	}
	if _, err := NewSimulator(SimulatorConfig{Script: []byte("x = 1")}, nil); !errors.Is(err, lua.ErrNoFunction) {
		t.Errorf("missing layout = %v, want ErrNoFunction", err)
	}
}

func TestRunawayLayoutFallsBack(t *testing.T) {
	script := []byte(`
		function layout(w, h)
			while true do end
		end
	`)
	sim := runSimulator(t, SimulatorConfig{Script: script, Limits: lua.Limits{CPULimit: 10_000}})
	sim.Start(320, 240)
	nextEvent(t, sim)
	fp := nextEvent(t, sim).(FirstPaintViewport)
	if fp.CSSPageRect != geom.Rect(0, 0, 320, 240) || fp.Zoom != 1 {
		t.Errorf("fallback layout = %+v", fp)
	}
	if sim.Stats().ScriptErrors != 1 {
		t.Errorf("ScriptErrors = %d, want 1", sim.Stats().ScriptErrors)
	}
}

func TestMotionHook(t *testing.T) {
	script := []byte(DefaultLayoutScript + `
		taps = 0
		function on_motion(action, x, y)
			if action == 0 then taps = taps + 1 end
		end
	`)
	sim := runSimulator(t, SimulatorConfig{Script: script})
	sim.SendMotionEvent(MotionEvent{Action: ActionDown, Pointers: []Pointer{{X: 1, Y: 2}}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// A bridge call is a barrier behind the queued motion event.
	if err := sim.PauseCompositor(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := sim.script.Global("taps").TryInt(); n != 1 {
		t.Errorf("taps = %v, want 1", sim.script.Global("taps"))
	}
	sim.SendMotionEvent(MotionEvent{Index: 3})
	if sim.Stats().MotionEvents != 2 {
		t.Errorf("MotionEvents = %d, want 2", sim.Stats().MotionEvents)
	}
}

func TestScrollChangeRoundTrip(t *testing.T) {
	b, err := ScrollChange{X: 1.5, Y: -2, ID: 3}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"x":1.5,"y":-2,"id":3}` {
		t.Errorf("payload = %s", b)
	}
	if _, err := DecodeScrollChange([]byte("{")); err == nil {
		t.Error("expected decode error")
	}
}

func TestActionNames(t *testing.T) {
	if ActionPointerDown.String() != "pointer_down" || Action(42).String() != "action(42)" {
		t.Error("unexpected action names")
	}
	if Name(Ready{}) != "ready" || Name(nil) != "nil" {
		t.Error("unexpected event names")
	}
}

type stubSurface struct{}

func (stubSurface) ID() uint64       { return 1 }
func (stubSurface) Size() (int, int) { return 640, 480 }
func (stubSurface) Release()         {}

type countedSurface struct {
	id       uint64
	released atomic.Bool
}

func (s *countedSurface) ID() uint64       { return s.id }
func (s *countedSurface) Size() (int, int) { return 640, 480 }
func (s *countedSurface) Release()         { s.released.Store(true) }

func TestPauseWaitsForOpenFrame(t *testing.T) {
	sim := runSimulator(t, SimulatorConfig{})

	var mu sync.Mutex
	made := map[uint64]*countedSurface{}
	factory := compositor.SurfaceFactoryFunc(func(w, h int) (compositor.Surface, error) {
		mu.Lock()
		defer mu.Unlock()
		s := &countedSurface{id: uint64(len(made) + 1)}
		made[s.id] = s
		return s, nil
	})
	ctrl := compositor.NewController(compositor.NewGraphicsContext(factory), sim, nil, compositor.DefaultConfig(), nil)
	ctrl.SurfaceChanged(640, 480)
	ctrl.EngineReady()
	if ctrl.State() != compositor.Created {
		t.Fatalf("State() = %v, want created", ctrl.State())
	}

	// The compositor opens a frame and starts drawing.
	ctrl.BeginFrame()
	current := ctrl.Surface()
	if current == nil {
		t.Fatal("no surface inside the frame")
	}
	mu.Lock()
	drawn := made[current.ID()]
	mu.Unlock()

	paused := make(chan struct{})
	go func() {
		ctrl.SurfaceDestroyed()
		close(paused)
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-paused:
		t.Fatal("SurfaceDestroyed returned while a frame was drawing")
	default:
	}
	if drawn.released.Load() {
		t.Fatal("surface released under an open frame")
	}
	if ctrl.Surface() != nil {
		t.Error("a pausing controller still hands out its surface")
	}

	ctrl.EndFrame()
	select {
	case <-paused:
	case <-time.After(2 * time.Second):
		t.Fatal("SurfaceDestroyed did not return after the frame ended")
	}
	if !drawn.released.Load() {
		t.Error("surface not released after the frame ended")
	}
	if sim.Stats().Pauses != 1 {
		t.Errorf("engine pauses = %d, want 1", sim.Stats().Pauses)
	}
}
