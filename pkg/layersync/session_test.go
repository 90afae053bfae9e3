package layersync

import (
	"context"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/go-layersync/internal/config"
	"github.com/opd-ai/go-layersync/internal/pointer"
	"github.com/opd-ai/go-layersync/internal/profiling"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

//go:embed testdata/*
var testFS embed.FS

const testConfig = `# headless test session
window_width 320
window_height 480
strategy velocity_bias
`

// headlessOptions returns options for a fast headless session with its own
// metrics and error tracker.
func headlessOptions() *Options {
	return &Options{
		Headless:        true,
		FrameInterval:   5 * time.Millisecond,
		ScreenSize:      "1080x1920",
		ShutdownTimeout: 5 * time.Second,
		Metrics:         NewMetrics(),
		ErrorTracker:    NewErrorTracker(DefaultErrorTrackerConfig()),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startHeadless(t *testing.T, content string) Session {
	t.Helper()
	s, err := NewFromReader(strings.NewReader(content), FormatText, headlessOptions())
	if err != nil {
		t.Fatalf("NewFromReader failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	waitFor(t, "first paint", func() bool {
		return s.Status().Document == "active"
	})
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventStarted, "started"},
		{EventStopped, "stopped"},
		{EventRestarted, "restarted"},
		{EventConfigReloaded, "config_reloaded"},
		{EventError, "error"},
		{EventEngineReady, "engine_ready"},
		{EventFirstPaint, "first_paint"},
		{EventCompositorPaused, "compositor_paused"},
		{EventCompositorResumed, "compositor_resumed"},
		{EventType(100), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.expected {
				t.Errorf("EventType.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Headless {
		t.Error("Headless should default to false")
	}
	if opts.FrameInterval != DefaultFrameInterval {
		t.Errorf("FrameInterval = %v, want %v", opts.FrameInterval, DefaultFrameInterval)
	}
	if opts.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v, want %v", opts.ShutdownTimeout, DefaultShutdownTimeout)
	}
	if opts.WatchConfig {
		t.Error("WatchConfig should default to false")
	}
}

func TestNewWithInvalidPath(t *testing.T) {
	s, err := New("/nonexistent/path/layersync.conf", nil)
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
	if s != nil {
		t.Error("failed constructor should return a nil Session")
	}
}

func TestNewFromReaderWithInvalidFormat(t *testing.T) {
	_, err := NewFromReader(strings.NewReader("window_width 320"), "invalid_format", nil)
	if err == nil {
		t.Fatal("expected error for invalid format, got nil")
	}
	if !strings.Contains(err.Error(), "invalid format") {
		t.Errorf("error should mention invalid format, got: %v", err)
	}
}

func TestNewFromReaderWithInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"zero width", "window_width 0\n", "window_width"},
		{"unknown strategy", "strategy sideways\n", "strategy"},
		{"missing script", "engine_script /nonexistent/layout.lua\n", "engine_script"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromReader(strings.NewReader(tt.content), FormatText, nil)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error should mention %s, got: %v", tt.field, err)
			}
		})
	}
}

func TestNewFromReaderWithLuaConfig(t *testing.T) {
	content, err := testFS.ReadFile("testdata/session.lua")
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewFromReader(strings.NewReader(string(content)), FormatLua, nil)
	if err != nil {
		t.Fatalf("NewFromReader failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("new session should not be running")
	}
	if got := s.(*session).cfg.DisplayPort.Strategy; got != viewport.StrategyNoMargin {
		t.Errorf("strategy = %q, want %q", got, viewport.StrategyNoMargin)
	}
}

func TestNewFromFS(t *testing.T) {
	s, err := NewFromFS(testFS, "testdata/embedded.conf", nil)
	if err != nil {
		t.Fatalf("NewFromFS failed: %v", err)
	}
	status := s.Status()
	if !strings.HasPrefix(status.ConfigSource, "embedded:") {
		t.Errorf("ConfigSource should start with 'embedded:', got %s", status.ConfigSource)
	}
	if status.Running {
		t.Error("new session should not be running")
	}
	if status.Document != "no_document" {
		t.Errorf("Document = %q, want no_document", status.Document)
	}
}

func TestNewFromFSWithInvalidPath(t *testing.T) {
	if _, err := NewFromFS(testFS, "testdata/missing.conf", nil); err == nil {
		t.Error("expected error for missing embedded file, got nil")
	}
}

func TestNewFromFSRunsEmbeddedLayout(t *testing.T) {
	s, err := NewFromFS(testFS, "testdata/embedded.conf", headlessOptions())
	if err != nil {
		t.Fatalf("NewFromFS failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	// testdata/layout.lua lays the page out at zoom 1, four screens tall.
	waitFor(t, "embedded layout", func() bool {
		v := s.Viewport()
		return v.Document == "active" && v.Zoom == 1 && v.PageHeight == 4*480
	})
}

func TestLifecycleHeadless(t *testing.T) {
	opts := headlessOptions()
	s, err := NewFromReader(strings.NewReader(testConfig), FormatText, opts)
	if err != nil {
		t.Fatalf("NewFromReader failed: %v", err)
	}

	if err := s.ScrollBy(0, 10); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ScrollBy before Start = %v, want ErrNotRunning", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("session should be running after Start")
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	status := s.Status()
	if status.StartTime.IsZero() {
		t.Error("StartTime should be set")
	}
	if status.RunID == "" {
		t.Error("RunID should be set")
	}
	if status.ConfigSource != "reader" {
		t.Errorf("ConfigSource = %q, want reader", status.ConfigSource)
	}

	waitFor(t, "document and compositor", func() bool {
		st := s.Status()
		return st.Document == "active" && (st.Compositor == "created" || st.Compositor == "resumed")
	})
	waitFor(t, "frames", func() bool { return s.Status().Frames > 0 })

	v := s.Viewport()
	if v.Width != 320 || v.Height != 480 {
		t.Errorf("viewport size = %dx%d, want 320x480", v.Width, v.Height)
	}
	wantZoom := 320.0 / 980.0
	if diff := v.Zoom - wantZoom; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Zoom = %v, want %v", v.Zoom, wantZoom)
	}

	if err := s.ScrollBy(0, 100); err != nil {
		t.Fatalf("ScrollBy failed: %v", err)
	}
	waitFor(t, "scroll", func() bool { return s.Viewport().OriginY > 0 })

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("session should not be running after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}

	snap := opts.Metrics.Snapshot()
	if snap.Starts != 1 || snap.Stops != 1 {
		t.Errorf("Starts/Stops = %d/%d, want 1/1", snap.Starts, snap.Stops)
	}
	if snap.Running {
		t.Error("metrics should report not running")
	}
	if err := s.ScrollBy(0, 10); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ScrollBy after Stop = %v, want ErrNotRunning", err)
	}
	if got := s.Viewport().Document; got != "no_document" {
		t.Errorf("Viewport().Document after Stop = %q, want no_document", got)
	}
}

func TestZoomAndResize(t *testing.T) {
	s := startHeadless(t, testConfig)
	before := s.Viewport().Zoom

	if err := s.Zoom(0, 0, 0); err == nil {
		t.Error("Zoom(0) should fail")
	}
	if err := s.Zoom(2, 160, 240); err != nil {
		t.Fatalf("Zoom failed: %v", err)
	}
	waitFor(t, "zoom", func() bool { return s.Viewport().Zoom > before*1.5 })

	if err := s.Resize(0, 100); err == nil {
		t.Error("Resize to zero width should fail")
	}
	if err := s.Resize(400, 600); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	waitFor(t, "surface cycle", func() bool {
		return s.Metrics().Snapshot().SurfaceCycles == 1
	})
	waitFor(t, "compositor resume", func() bool {
		return s.Status().Compositor == "resumed"
	})
	if v := s.Viewport(); v.Width != 400 || v.Height != 600 {
		t.Errorf("viewport size = %dx%d, want 400x600", v.Width, v.Height)
	}
}

func TestSuspendResume(t *testing.T) {
	s := startHeadless(t, testConfig)
	waitFor(t, "compositor", func() bool { return s.Status().Compositor != "uncreated" })

	if err := s.Suspend(); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if got := s.Status().Compositor; got != "paused" {
		t.Errorf("Compositor after Suspend = %q, want paused", got)
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	waitFor(t, "compositor resume", func() bool {
		return s.Status().Compositor == "resumed"
	})
}

func TestPointerInput(t *testing.T) {
	s := startHeadless(t, testConfig)

	if err := s.Touch(1, TouchContact, 10, 10, 1); err != nil {
		t.Errorf("touch contact failed: %v", err)
	}
	if err := s.Touch(1, TouchRemove, 10, 12, 1); err != nil {
		t.Errorf("touch remove failed: %v", err)
	}
	if err := s.Touch(9, TouchRemove, 0, 0, 1); !errors.Is(err, pointer.ErrUnknownPointer) {
		t.Errorf("removing an unknown touch = %v, want ErrUnknownPointer", err)
	}

	for _, action := range []MouseAction{MousePress, MouseMove, MouseRelease} {
		if err := s.Mouse(action, 20, 20); err != nil {
			t.Errorf("Mouse(%v) failed: %v", action, err)
		}
	}
}

func TestLoadDocument(t *testing.T) {
	s, err := NewFromReader(strings.NewReader(testConfig), FormatText, headlessOptions())
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var paints int
	s.SetEventHandler(func(ev Event) {
		if ev.Type == EventFirstPaint {
			mu.Lock()
			paints++
			mu.Unlock()
		}
	})
	painted := func(n int) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			return paints == n
		}
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	waitFor(t, "first paint", painted(1))

	if err := s.LoadDocument(); err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}
	waitFor(t, "second first paint", painted(2))
	if s.Viewport().Document != "active" {
		t.Error("document should be active after reload")
	}
}

func TestEventHandlerReceivesLifecycle(t *testing.T) {
	s, err := NewFromReader(strings.NewReader(testConfig), FormatText, headlessOptions())
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	seen := make(map[EventType]bool)
	s.SetEventHandler(func(ev Event) {
		mu.Lock()
		seen[ev.Type] = true
		mu.Unlock()
	})
	has := func(types ...EventType) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, et := range types {
				if !seen[et] {
					return false
				}
			}
			return true
		}
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "start events", has(EventStarted, EventEngineReady, EventFirstPaint))

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "stop event", has(EventStopped))
}

func TestEventHandlerPanicRecovered(t *testing.T) {
	s := startHeadless(t, testConfig)

	errCh := make(chan error, 8)
	s.SetErrorHandler(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	s.SetEventHandler(func(Event) { panic("boom") })

	if err := s.LoadDocument(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errCh:
		if !strings.Contains(err.Error(), "panic in event handler") {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("panic was not reported to the error handler")
	}
	if !s.IsRunning() {
		t.Error("session should survive a panicking handler")
	}
}

func TestRestart(t *testing.T) {
	opts := headlessOptions()
	s, err := NewFromReader(strings.NewReader(testConfig), FormatText, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	firstRun := s.Status().RunID

	if err := s.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("session should be running after Restart")
	}
	if s.Status().RunID == firstRun {
		t.Error("Restart should start a new run")
	}

	snap := opts.Metrics.Snapshot()
	if snap.Starts != 2 || snap.Stops != 1 || snap.Restarts != 1 {
		t.Errorf("Starts/Stops/Restarts = %d/%d/%d, want 2/1/1", snap.Starts, snap.Stops, snap.Restarts)
	}
	waitFor(t, "first paint after restart", func() bool {
		return s.Viewport().Document == "active"
	})
}

func TestStartWithInvalidStrategyOption(t *testing.T) {
	opts := headlessOptions()
	opts.Strategy = "sideways"
	s, err := NewFromReader(strings.NewReader(testConfig), FormatText, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err == nil {
		_ = s.Stop()
		t.Fatal("Start should reject an unknown strategy")
	}
	if s.IsRunning() {
		t.Error("failed Start should leave the session stopped")
	}
}

func TestReloadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layersync.conf")
	writeFile(t, path, testConfig)

	opts := headlessOptions()
	s, err := New(path, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReloadConfig(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ReloadConfig before Start = %v, want ErrNotRunning", err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	waitFor(t, "first paint", func() bool { return s.Viewport().Document == "active" })

	layout, err := testFS.ReadFile("testdata/layout.lua")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "layout.lua"), string(layout))
	writeFile(t, path, "window_width 320\nwindow_height 480\nstrategy no_margin\nengine_script layout.lua\n")

	if err := s.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if got := s.(*session).comp.calc.Strategy().Name(); got != viewport.StrategyNoMargin {
		t.Errorf("strategy after reload = %q, want %q", got, viewport.StrategyNoMargin)
	}
	waitFor(t, "new layout", func() bool { return s.Viewport().Zoom == 1 })
	if got := opts.Metrics.Snapshot().ConfigReloads; got != 1 {
		t.Errorf("ConfigReloads = %d, want 1", got)
	}

	writeFile(t, path, "window_width -5\n")
	if err := s.ReloadConfig(); err == nil {
		t.Error("ReloadConfig should reject an invalid file")
	}
	if !s.IsRunning() {
		t.Error("a rejected reload should keep the session running")
	}
	if s.Status().LastError == nil {
		t.Error("rejected reload should be recorded as LastError")
	}
}

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layersync.conf")
	writeFile(t, path, testConfig)

	opts := headlessOptions()
	opts.WatchConfig = true
	opts.WatchDebounce = 20 * time.Millisecond
	s, err := New(path, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	writeFile(t, path, "window_width 320\nwindow_height 480\nstrategy fixed_margin\n")
	waitFor(t, "watched reload", func() bool {
		return opts.Metrics.Snapshot().ConfigReloads >= 1
	})
	if got := s.(*session).comp.calc.Strategy().Name(); got != viewport.StrategyFixedMargin {
		t.Errorf("strategy after watched reload = %q, want %q", got, viewport.StrategyFixedMargin)
	}
}

func TestHealth(t *testing.T) {
	s, err := NewFromReader(strings.NewReader(testConfig), FormatText, headlessOptions())
	if err != nil {
		t.Fatal(err)
	}
	if h := s.Health(); !h.IsUnhealthy() {
		t.Errorf("stopped session health = %s, want unhealthy", h.Status)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	waitFor(t, "healthy session", func() bool { return s.Health().IsHealthy() })

	h := s.Health()
	for _, name := range []string{"session", "engine", "compositor", "viewport", "errors"} {
		if _, ok := h.Components[name]; !ok {
			t.Errorf("health is missing component %q", name)
		}
	}
	if h.Uptime <= 0 {
		t.Error("running session should report uptime")
	}
}

func TestStatusMetricsIncludeComponents(t *testing.T) {
	opts := headlessOptions()
	s, err := NewFromReader(strings.NewReader(testConfig), FormatText, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, "component counters", func() bool {
		snap := opts.Metrics.Snapshot()
		return snap.CompositorCreations >= 1 && snap.ViewportMessages >= 1 && snap.EngineEvents >= 1
	})
	snap := opts.Metrics.Snapshot()
	if !snap.Running {
		t.Error("metrics should report running")
	}
	if snap.LiveSurfaces < 1 {
		t.Errorf("LiveSurfaces = %d, want at least 1", snap.LiveSurfaces)
	}
}

func TestStopReleasesGoroutines(t *testing.T) {
	baseline := profiling.TakeBaseline()

	s, err := NewFromReader(strings.NewReader(testConfig), FormatText, headlessOptions())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Start(); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "first paint", func() bool { return s.Viewport().Document == "active" })
		_ = s.ScrollBy(0, 50)
		if err := s.Stop(); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := baseline.Settled(ctx, 2); err != nil {
		t.Error(err)
	}
}
