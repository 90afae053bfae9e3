package compositor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSurface struct {
	id       uint64
	w, h     int
	released atomic.Bool
}

func (s *fakeSurface) ID() uint64      { return s.id }
func (s *fakeSurface) Size() (int, int) { return s.w, s.h }
func (s *fakeSurface) Release()        { s.released.Store(true) }

type fakeFactory struct {
	mu       sync.Mutex
	fail     bool
	calls    int
	surfaces []*fakeSurface
}

func (f *fakeFactory) CreateSurface(w, h int) (Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("no egl config")
	}
	s := &fakeSurface{id: uint64(len(f.surfaces) + 1), w: w, h: h}
	f.surfaces = append(f.surfaces, s)
	return s, nil
}

func (f *fakeFactory) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHandle struct {
	disposed atomic.Int32
	err      error
}

func (h *fakeHandle) Dispose() error {
	h.disposed.Add(1)
	return h.err
}

type fakeBridge struct {
	mu         sync.Mutex
	createErr  error
	handle     *fakeHandle
	pauses     int
	resumeGens []uint64
	disposeErr error

	// When createGate is set, CreateCompositor signals createEntered and
	// waits for the gate before returning.
	createGate    chan struct{}
	createEntered chan struct{}

	// When pauseGate is set, PauseCompositor signals pauseEntered and
	// waits for the gate before returning.
	pauseGate    chan struct{}
	pauseEntered chan struct{}
}

func (b *fakeBridge) CreateCompositor(ctx context.Context, s Surface, w, h int) (NativeCompositorHandle, error) {
	b.mu.Lock()
	if b.createErr != nil {
		b.mu.Unlock()
		return nil, b.createErr
	}
	b.handle = &fakeHandle{err: b.disposeErr}
	h, gate, entered := b.handle, b.createGate, b.createEntered
	b.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return h, nil
}

func (b *fakeBridge) PauseCompositor(ctx context.Context) error {
	b.mu.Lock()
	b.pauses++
	gate, entered := b.pauseGate, b.pauseEntered
	b.mu.Unlock()
	if gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *fakeBridge) ResumeCompositor(s Surface, w, h int, gen uint64) {
	b.mu.Lock()
	b.resumeGens = append(b.resumeGens, gen)
	b.mu.Unlock()
}

func (b *fakeBridge) lastResume() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.resumeGens) == 0 {
		return 0
	}
	return b.resumeGens[len(b.resumeGens)-1]
}

type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *taskQueue) Post(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
}

func (q *taskQueue) drain() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

func newTestController(t *testing.T) (*Controller, *fakeFactory, *fakeBridge, *taskQueue) {
	t.Helper()
	factory := &fakeFactory{}
	bridge := &fakeBridge{}
	ui := &taskQueue{}
	cfg := DefaultConfig()
	cfg.PauseTimeout = time.Second
	c := NewController(NewGraphicsContext(factory), bridge, ui, cfg, nil)
	return c, factory, bridge, ui
}

func createdController(t *testing.T) (*Controller, *fakeFactory, *fakeBridge, *taskQueue) {
	t.Helper()
	c, f, b, ui := newTestController(t)
	c.SurfaceChanged(640, 480)
	c.EngineReady()
	if c.State() != Created {
		t.Fatalf("State() = %v, want created", c.State())
	}
	return c, f, b, ui
}

func TestCreateNeedsSurfaceAndEngine(t *testing.T) {
	c, _, _, _ := newTestController(t)
	c.EngineReady()
	if c.State() != Uncreated {
		t.Fatalf("created without a surface: %v", c.State())
	}
	c.SurfaceChanged(640, 480)
	if c.State() != Created {
		t.Fatalf("State() = %v, want created", c.State())
	}
	if c.Surface() == nil {
		t.Fatal("Surface() = nil after creation")
	}
	if c.Stats().Creations != 1 {
		t.Errorf("Creations = %d, want 1", c.Stats().Creations)
	}
}

func TestSurfaceDestroyedPausesAndReleases(t *testing.T) {
	c, f, b, _ := createdController(t)
	c.SurfaceDestroyed()
	if c.State() != Paused {
		t.Fatalf("State() = %v, want paused", c.State())
	}
	if c.Surface() != nil {
		t.Error("paused controller still exposes a surface")
	}
	if !f.surfaces[0].released.Load() {
		t.Error("surface in use was not released")
	}
	if b.pauses != 1 {
		t.Errorf("pauses = %d, want 1", b.pauses)
	}
}

func TestResumeCompletesOnlyOnAck(t *testing.T) {
	c, _, b, _ := createdController(t)
	c.SurfaceDestroyed()
	c.SurfaceChanged(640, 480)
	if c.State() != Paused {
		t.Fatalf("resume completed before ack: %v", c.State())
	}
	gen := b.lastResume()
	if gen == 0 {
		t.Fatal("no resume was requested")
	}
	if !c.ResumeAcknowledged(gen) {
		t.Fatal("current generation ack rejected")
	}
	if c.State() != Resumed || c.Surface() == nil {
		t.Errorf("State() = %v surface = %v, want resumed with surface", c.State(), c.Surface())
	}
}

func TestStaleResumeStaysPaused(t *testing.T) {
	c, _, b, _ := createdController(t)
	c.SurfaceDestroyed()
	c.SurfaceChanged(640, 480)
	gen := b.lastResume()
	c.SurfaceDestroyed()
	if c.ResumeAcknowledged(gen) {
		t.Error("ack after the surface went away was accepted")
	}
	if c.State() != Paused || c.Surface() != nil {
		t.Errorf("State() = %v, want paused without surface", c.State())
	}
	if c.Stats().StaleResumes != 1 {
		t.Errorf("StaleResumes = %d, want 1", c.Stats().StaleResumes)
	}
}

func TestChangedDuringPauseEndsPaused(t *testing.T) {
	c, f, b, _ := createdController(t)
	b.mu.Lock()
	b.pauseGate = make(chan struct{})
	b.pauseEntered = make(chan struct{})
	gate, entered := b.pauseGate, b.pauseEntered
	b.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.SurfaceDestroyed()
	}()
	<-entered
	go func() {
		defer wg.Done()
		c.SurfaceChanged(800, 600)
	}()
	// The pause is still outstanding; let the changed call queue up.
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	if c.State() != Paused {
		t.Fatalf("State() = %v, want paused", c.State())
	}
	if c.Surface() != nil {
		t.Error("paused controller exposes a surface")
	}
	if !f.surfaces[0].released.Load() {
		t.Error("original surface not released")
	}
}

func TestPauseTimeoutLeaksDrawnSurface(t *testing.T) {
	f := &fakeFactory{}
	cfg := DefaultConfig()
	cfg.PauseTimeout = 20 * time.Millisecond
	gfx := NewGraphicsContext(f)
	c := NewController(gfx, &fakeBridge{}, nil, cfg, nil)
	c.SurfaceChanged(640, 480)
	c.EngineReady()

	c.BeginFrame()
	if c.Surface() == nil {
		t.Fatal("no surface inside the frame")
	}
	c.SurfaceDestroyed()
	if f.surfaces[0].released.Load() {
		t.Error("surface released while a frame still held it")
	}
	if got := c.Stats().LeakedSurfaces; got != 1 {
		t.Errorf("LeakedSurfaces = %d, want 1", got)
	}
	if c.State() != Paused {
		t.Errorf("State() = %v, want paused", c.State())
	}
	c.EndFrame()
}

func TestDestroyWaitsForOpenFrame(t *testing.T) {
	c, f, _, ui := createdController(t)
	c.BeginFrame()
	c.Destroy()

	done := make(chan struct{})
	go func() {
		ui.drain()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	if f.surfaces[0].released.Load() {
		t.Fatal("destroy released the surface under an open frame")
	}
	c.EndFrame()
	<-done
	if !f.surfaces[0].released.Load() {
		t.Error("surface not released after the frame ended")
	}
}

func TestSurfaceFailureIsRetried(t *testing.T) {
	c, f, _, _ := newTestController(t)
	f.setFail(true)
	c.SurfaceChanged(640, 480)
	c.EngineReady()
	if c.State() != Uncreated {
		t.Fatalf("State() = %v, want uncreated", c.State())
	}
	if c.Stats().SurfaceFailures == 0 {
		t.Error("failure not counted")
	}
	f.setFail(false)
	c.SurfaceChanged(640, 480)
	if c.State() != Created {
		t.Errorf("State() = %v, want created after retry", c.State())
	}
}

func TestBreakerSuppressesRetries(t *testing.T) {
	factory := &fakeFactory{fail: true}
	cfg := DefaultConfig()
	cfg.BreakerThreshold = 1
	cfg.BreakerCooldown = time.Hour
	c := NewController(NewGraphicsContext(factory), &fakeBridge{}, nil, cfg, nil)
	c.SurfaceChanged(640, 480)
	c.SurfaceChanged(640, 480)
	if n := factory.callCount(); n != 1 {
		t.Errorf("factory calls = %d, want 1", n)
	}
	if c.Breaker().State() != BreakerOpen {
		t.Errorf("breaker = %v, want open", c.Breaker().State())
	}
}

func TestCreateErrorReleasesSurface(t *testing.T) {
	c, f, b, _ := newTestController(t)
	b.createErr = errors.New("engine gone")
	c.SurfaceChanged(640, 480)
	c.EngineReady()
	if c.State() != Uncreated {
		t.Fatalf("State() = %v, want uncreated", c.State())
	}
	if !f.surfaces[0].released.Load() {
		t.Error("surface leaked after failed creation")
	}
}

func TestDestroyIsIdempotentAndDisposesOnUI(t *testing.T) {
	factory := &fakeFactory{}
	bridge := &fakeBridge{}
	ui := &taskQueue{}
	gfx := NewGraphicsContext(factory)
	c := NewController(gfx, bridge, ui, DefaultConfig(), nil)
	c.SurfaceChanged(640, 480)
	c.EngineReady()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Destroy()
		}()
	}
	wg.Wait()

	if c.State() != Destroyed {
		t.Fatalf("State() = %v, want destroyed", c.State())
	}
	if bridge.handle.disposed.Load() != 0 {
		t.Error("native handle disposed off the UI loop")
	}
	if n := ui.drain(); n != 1 {
		t.Fatalf("posted %d disposal tasks, want 1", n)
	}
	if bridge.handle.disposed.Load() != 1 {
		t.Errorf("Dispose called %d times, want 1", bridge.handle.disposed.Load())
	}
	if gfx.LiveSurfaces() != 0 {
		t.Errorf("LiveSurfaces() = %d after destroy", gfx.LiveSurfaces())
	}

	c.SurfaceChanged(640, 480)
	if c.State() != Destroyed {
		t.Error("destroyed controller came back to life")
	}
}

func TestCreateAfterDestroyLogsDisposeError(t *testing.T) {
	factory := &fakeFactory{}
	bridge := &fakeBridge{
		disposeErr:    errors.New("context lost"),
		createGate:    make(chan struct{}),
		createEntered: make(chan struct{}),
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := NewController(NewGraphicsContext(factory), bridge, &taskQueue{}, DefaultConfig(), logger)
	c.SurfaceChanged(640, 480)

	done := make(chan struct{})
	go func() {
		c.EngineReady()
		close(done)
	}()
	<-bridge.createEntered
	c.Destroy()
	close(bridge.createGate)
	<-done

	if c.State() != Destroyed {
		t.Fatalf("State() = %v, want destroyed", c.State())
	}
	if bridge.handle.disposed.Load() != 1 {
		t.Errorf("Dispose called %d times, want 1", bridge.handle.disposed.Load())
	}
	if !factory.surfaces[0].released.Load() {
		t.Error("surface of the late compositor was not released")
	}
	if !strings.Contains(buf.String(), "context lost") {
		t.Errorf("dispose error not logged, log = %q", buf.String())
	}
}

func TestProvideSurfaceEmptiesCache(t *testing.T) {
	c, f, _, _ := newTestController(t)
	c.SurfaceChanged(320, 240)
	s := c.ProvideSurface()
	if s == nil {
		t.Fatal("ProvideSurface() = nil")
	}
	if w, h := s.Size(); w != 320 || h != 240 {
		t.Errorf("surface size = %dx%d", w, h)
	}
	before := f.callCount()
	if c.ProvideSurface() == nil {
		t.Fatal("second ProvideSurface() = nil")
	}
	if f.callCount() != before+1 {
		t.Error("second call should allocate a new surface")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Uncreated: "uncreated",
		Created:   "created",
		Paused:    "paused",
		Resumed:   "resumed",
		Destroyed: "destroyed",
		State(99): "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
