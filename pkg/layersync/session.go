package layersync

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/config"
	"github.com/opd-ai/go-layersync/internal/engine"
	"github.com/opd-ai/go-layersync/internal/layer"
	"github.com/opd-ai/go-layersync/internal/lua"
	"github.com/opd-ai/go-layersync/internal/platform"
	"github.com/opd-ai/go-layersync/internal/pointer"
	"github.com/opd-ai/go-layersync/internal/render"
	"github.com/opd-ai/go-layersync/internal/uithread"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// session is the Session implementation.
type session struct {
	cfg          *config.Config
	opts         Options
	configSource string
	configLoader func() (*config.Config, error)
	// configPath is set for configurations on disk, fsys for embedded ones.
	configPath string
	fsys       fs.FS

	logger  *slog.Logger
	metrics *Metrics
	tracker *ErrorTracker

	running   atomic.Bool
	startTime time.Time
	runID     string
	lastError atomic.Value // stores error

	errorHandler ErrorHandler
	eventHandler EventHandler

	mu     sync.RWMutex
	comp   *components
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Session = (*session)(nil)

// components is one running stack. A restart builds a new one.
type components struct {
	loop    *uithread.Loop
	sim     *engine.Simulator
	calc    *viewport.Calculator
	view    *hostView
	pz      *panZoom
	client  *layer.Client
	gfx     *compositor.GraphicsContext
	ctrl    *compositor.Controller
	ptr     *pointer.Synthesizer
	host    host
	watcher *fileWatcher

	closeScreen func() error
	// script is the layout script the engine runs, nil for the built-in
	// one.
	script []byte

	workers     sync.WaitGroup
	releaseOnce sync.Once
}

// release destroys the compositor while the UI loop still runs, so native
// disposal is not dropped, and waits for the loop to drain it. The host
// must have stopped compositing.
func (c *components) release(timeout time.Duration) {
	c.releaseOnce.Do(func() {
		c.ctrl.Destroy()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = c.loop.Invoke(ctx, func() {})
	})
}

func (c *components) source() *componentSource {
	return &componentSource{
		layer:      c.client.Stats,
		compositor: c.ctrl.Stats,
		surfaces:   c.gfx.LiveSurfaces,
		breaker:    c.ctrl.Breaker().State,
		frames:     func() render.FrameSnapshot { return c.host.pipeline().Stats().Snapshot() },
		engine:     c.sim.Stats,
		uiDropped:  c.loop.Dropped,
	}
}

// Start begins the session.
func (s *session) Start() error {
	s.mu.Lock()

	if s.running.Load() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	runID := newRunID()
	logger := s.logger.With("run_id", runID)
	comp, err := s.build(logger)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to initialize: %w", err)
	}

	// The host stops first; the workers outlive it until the compositor
	// has been released.
	ctx, cancel := context.WithCancel(context.Background())
	hostCtx, stopHost := context.WithCancel(context.Background())
	s.ctx, s.cancel, s.comp = hostCtx, stopHost, comp
	s.runID = runID
	s.running.Store(true)
	s.startTime = time.Now()

	s.metrics.attach(comp.source())
	s.metrics.IncrementStarts()
	s.metrics.SetRunning(true)

	comp.workers.Add(3)
	go func() {
		defer comp.workers.Done()
		_ = comp.loop.Run(ctx)
	}()
	go func() {
		defer comp.workers.Done()
		_ = comp.sim.Run(ctx)
	}()
	go func() {
		defer comp.workers.Done()
		s.dispatch(ctx, comp)
	}()

	if s.opts.WatchConfig && s.configPath != "" {
		s.startWatcher(comp, logger)
	}

	timeout := s.shutdownTimeout()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer s.metrics.SetRunning(false)

		if err := comp.host.run(hostCtx); err != nil {
			s.notifyError(fmt.Errorf("compositor loop: %w", err))
		}

		// The host also returns when its window is closed.
		if comp.watcher != nil {
			comp.watcher.stop()
		}
		comp.release(timeout)
		cancel()
		stopHost()
		comp.workers.Wait()
		comp.loop.Stop()
		if comp.closeScreen != nil {
			if err := comp.closeScreen(); err != nil {
				logger.Debug("close screen", "error", err)
			}
		}
		s.metrics.detach()
		s.emitEvent(EventStopped, "Session stopped")
	}()

	w, h := s.cfg.Window.Width, s.cfg.Window.Height
	comp.loop.Post(func() { comp.ctrl.SurfaceChanged(w, h) })
	comp.sim.Start(w, h)

	s.mu.Unlock()

	logger.Info("session started", "source", s.configSource, "width", w, "height", h, "headless", s.opts.Headless)
	s.emitEvent(EventStarted, "Session started")
	return nil
}

// build creates the components of one run. Nothing is started.
func (s *session) build(logger *slog.Logger) (*components, error) {
	cfg := s.cfg

	strategy, err := s.strategy(cfg)
	if err != nil {
		return nil, err
	}
	name, code, err := s.loadScript(cfg)
	if err != nil {
		return nil, err
	}
	screen, closeScreen, err := s.screenSizer(logger)
	if err != nil {
		return nil, err
	}

	sim, err := engine.NewSimulator(engine.SimulatorConfig{
		Script:     code,
		ScriptName: name,
		Limits: lua.Limits{
			CPULimit:    cfg.Engine.CPULimit,
			MemoryLimit: cfg.Engine.MemoryLimit,
		},
		TabID:     cfg.Engine.TabID,
		QueueSize: cfg.Engine.QueueSize,
	}, logger)
	if err != nil {
		if closeScreen != nil {
			_ = closeScreen()
		}
		return nil, err
	}

	c := &components{
		loop:        uithread.NewLoop(cfg.Window.UIQueueSize, logger.With("component", "ui")),
		sim:         sim,
		calc:        viewport.NewCalculator(strategy),
		pz:          &panZoom{},
		closeScreen: closeScreen,
		script:      code,
	}
	c.gfx = compositor.NewGraphicsContext(surfaceFactory(s.opts.Headless))
	c.ctrl = compositor.NewController(c.gfx, sim, c.loop, compositor.Config{
		CreateTimeout:    cfg.Compositor.CreateTimeout,
		PauseTimeout:     cfg.Compositor.PauseTimeout,
		BreakerThreshold: cfg.Compositor.BreakerThreshold,
		BreakerCooldown:  cfg.Compositor.BreakerCooldown,
	}, logger)
	c.view = &hostView{loop: c.loop, ctrl: c.ctrl}

	vp := cfg.Viewport
	c.client, err = layer.New(viewport.New(cfg.Window.Width, cfg.Window.Height), layer.Options{
		Engine:               sim,
		PanZoom:              c.pz,
		View:                 c.view,
		Tabs:                 fixedTab(cfg.Engine.TabID),
		Screen:               screen,
		Calculator:           c.calc,
		Logger:               logger.With("component", "layer"),
		ZoomEpsilon:          vp.ZoomEpsilon,
		ProgressiveTolerance: vp.ProgressiveTolerance,
		VisibleSlack:         vp.VisibleSlack,
		RecordDrawTimes:      vp.RecordDrawTimes,
		DrawTimingCapacity:   vp.DrawTimingCapacity,
		ScreenFallbackWidth:  vp.ScreenFallbackWidth,
		ScreenFallbackHeight: vp.ScreenFallbackHeight,
	})
	if err != nil {
		c.discard()
		return nil, err
	}
	c.ptr = pointer.New(sim, c.client, pointer.WithLogger(logger))

	if c.host, err = s.newHost(c); err != nil {
		c.discard()
		return nil, fmt.Errorf("compositor: %w", err)
	}
	c.host.pipeline().SetLogger(logger)
	c.host.pipeline().SetFrameCallback(c.pz.decay)
	return c, nil
}

// discard frees a stack that never started.
func (c *components) discard() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = c.sim.Run(ctx)
	if c.closeScreen != nil {
		_ = c.closeScreen()
	}
}

// strategy builds the display port strategy, applying Options.Strategy.
func (s *session) strategy(cfg *config.Config) (viewport.Strategy, error) {
	cc := cfg.CalculatorConfig()
	if s.opts.Strategy != "" {
		cc.Strategy = s.opts.Strategy
	}
	return viewport.NewStrategy(cc)
}

// scriptPath resolves the layout script on disk. Relative paths are
// relative to the configuration file.
func (s *session) scriptPath(cfg *config.Config) string {
	return s.resolve(cfg.Engine.Script)
}

func (s *session) resolve(path string) string {
	if path == "" || s.fsys != nil {
		return path
	}
	if !filepath.IsAbs(path) && s.configPath != "" {
		path = filepath.Join(filepath.Dir(s.configPath), path)
	}
	return path
}

// checkFile is the validator's file check.
func (s *session) checkFile(path string) error {
	var err error
	if s.fsys != nil {
		_, err = fs.Stat(s.fsys, path)
	} else {
		_, err = os.Stat(s.resolve(path))
	}
	return err
}

// loadScript reads the configured layout script. No script selects the
// engine's built-in layout.
func (s *session) loadScript(cfg *config.Config) (string, []byte, error) {
	path := s.scriptPath(cfg)
	if path == "" {
		return "", nil, nil
	}
	var code []byte
	var err error
	if s.fsys != nil {
		code, err = fs.ReadFile(s.fsys, path)
	} else {
		code, err = os.ReadFile(path)
	}
	if err != nil {
		return "", nil, fmt.Errorf("read layout script: %w", err)
	}
	return filepath.Base(path), code, nil
}

// screenSizer picks the screen size source. A fixed size wins; headless
// sessions use the configured fallback; windows ask the display server.
func (s *session) screenSizer(logger *slog.Logger) (layer.ScreenSizer, func() error, error) {
	switch {
	case s.opts.ScreenSize != "":
		fixed, err := platform.ParseSize(s.opts.ScreenSize)
		if err != nil {
			return nil, nil, err
		}
		return fixed, nil, nil
	case s.opts.Headless:
		return nil, nil, nil
	default:
		screen := platform.NewScreen()
		logger.Debug("display", "compositor", screen.DetectCompositor().String(), "wayland", platform.IsWayland())
		return screen, screen.Close, nil
	}
}

func (s *session) shutdownTimeout() time.Duration {
	if s.opts.ShutdownTimeout > 0 {
		return s.opts.ShutdownTimeout
	}
	return DefaultShutdownTimeout
}

// Stop gracefully shuts the session down.
func (s *session) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.mu.Lock()
	comp, stopHost := s.comp, s.cancel
	s.mu.Unlock()

	timeout := s.shutdownTimeout()
	if comp != nil && comp.watcher != nil {
		comp.watcher.stop()
	}
	// The host goroutine releases the compositor once the host is gone.
	if stopHost != nil {
		stopHost()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.metrics.IncrementStops()
		return nil
	case <-time.After(timeout):
		err := fmt.Errorf("shutdown timeout after %v: some goroutines did not stop", timeout)
		s.notifyError(err)
		return err
	}
}

// Restart performs a stop, a configuration reload and a start.
func (s *session) Restart() error {
	if err := s.Stop(); err != nil {
		wrapped := fmt.Errorf("stop failed: %w", err)
		s.notifyError(wrapped)
		return wrapped
	}

	cfg, err := s.loadConfig()
	if err != nil {
		wrapped := fmt.Errorf("config reload failed: %w", err)
		s.notifyError(wrapped)
		return wrapped
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.emitEvent(EventConfigReloaded, "Configuration reloaded")

	if err := s.Start(); err != nil {
		wrapped := fmt.Errorf("start failed: %w", err)
		s.notifyError(wrapped)
		return wrapped
	}

	s.metrics.IncrementRestarts()
	s.emitEvent(EventRestarted, "Session restarted")
	return nil
}

// ReloadConfig reloads the configuration in place.
func (s *session) ReloadConfig() error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	start := time.Now()

	cfg, err := s.loadConfig()
	if err != nil {
		wrapped := fmt.Errorf("config reload failed: %w", err)
		s.notifyError(wrapped)
		return wrapped
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	comp := s.comp
	s.mu.Unlock()

	if err := s.apply(comp, old, cfg); err != nil {
		wrapped := fmt.Errorf("config reload failed: %w", err)
		s.notifyError(wrapped)
		return wrapped
	}

	s.metrics.RecordReloadLatency(time.Since(start))
	s.metrics.IncrementConfigReloads()
	s.emitEvent(EventConfigReloaded, "Configuration reloaded in-place")
	return nil
}

// apply swaps the parts of a running stack that can change in place.
func (s *session) apply(comp *components, old, cfg *config.Config) error {
	strategy, err := s.strategy(cfg)
	if err != nil {
		return err
	}
	comp.calc.SetStrategy(strategy)

	name, code, err := s.loadScript(cfg)
	if err != nil {
		return err
	}
	if !bytes.Equal(code, comp.script) {
		if len(code) == 0 {
			name, code = "default_layout", []byte(engine.DefaultLayoutScript)
		}
		if err := comp.sim.SetScript(name, code); err != nil {
			return fmt.Errorf("layout script: %w", err)
		}
		comp.script = code
	}

	if s.opts.Headless && (cfg.Window.Width != old.Window.Width || cfg.Window.Height != old.Window.Height) {
		s.resize(comp, cfg.Window.Width, cfg.Window.Height)
	}
	if cfg.Compositor != old.Compositor || cfg.Engine.QueueSize != old.Engine.QueueSize {
		s.logger.Info("compositor and queue settings take effect on restart")
	}
	return nil
}

// IsRunning returns true if the session is currently running.
func (s *session) IsRunning() bool {
	return s.running.Load()
}

// Status returns detailed status information about the session.
func (s *session) Status() Status {
	s.mu.RLock()
	startTime := s.startTime
	configSource := s.configSource
	runID := s.runID
	comp := s.comp
	s.mu.RUnlock()

	st := Status{
		Running:      s.running.Load(),
		StartTime:    startTime,
		RunID:        runID,
		LastError:    s.getError(),
		ConfigSource: configSource,
		Document:     layer.NoDocument.String(),
		Compositor:   compositor.Uncreated.String(),
	}
	if comp != nil {
		st.Frames = comp.host.pipeline().Stats().Snapshot().Frames
		st.Document = comp.client.DocumentState().String()
		st.Compositor = comp.ctrl.State().String()
	}
	return st
}

// SetErrorHandler registers a callback for runtime errors.
func (s *session) SetErrorHandler(handler ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// SetEventHandler registers a callback for lifecycle events.
func (s *session) SetEventHandler(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandler = handler
}

// Metrics returns the metrics collector for this session.
func (s *session) Metrics() *Metrics {
	return s.metrics
}

// ErrorTracker returns the error tracker for this session.
func (s *session) ErrorTracker() *ErrorTracker {
	return s.tracker
}

// current returns the running stack, or ErrNotRunning.
func (s *session) current() (*components, error) {
	if !s.running.Load() {
		return nil, ErrNotRunning
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.comp == nil {
		return nil, ErrNotRunning
	}
	return s.comp, nil
}

func (s *session) getError() error {
	if v := s.lastError.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// notifyError records err with the tracker and invokes the error handler.
func (s *session) notifyError(err error) {
	categorized := Categorize(err)
	s.lastError.Store(err)
	s.metrics.IncrementErrors()
	s.tracker.Record(categorized)

	s.mu.RLock()
	handler := s.errorHandler
	s.mu.RUnlock()

	s.logger.Warn("session error", "error", err, "category", categorized.Category.String())
	if handler != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("error handler panicked", "panic", r, "original_error", err)
				}
			}()
			handler(err)
		}()
	}

	s.emitEvent(EventError, err.Error())
}

// emitEvent sends an event to the event handler if configured.
func (s *session) emitEvent(eventType EventType, message string) {
	s.metrics.IncrementEventsEmitted()

	s.mu.RLock()
	handler := s.eventHandler
	s.mu.RUnlock()

	if handler == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.mu.RLock()
				errHandler := s.errorHandler
				s.mu.RUnlock()
				if errHandler != nil {
					if err, ok := r.(error); ok {
						errHandler(fmt.Errorf("panic in event handler: %w", err))
					} else {
						errHandler(fmt.Errorf("panic in event handler: %v", r))
					}
				}
			}
		}()
		handler(Event{
			Type:      eventType,
			Timestamp: time.Now(),
			Message:   message,
		})
	}()
}

// Health returns a health check result for the session.
func (s *session) Health() HealthCheck {
	now := time.Now()
	components := make(map[string]ComponentHealth)
	running := s.running.Load()

	s.mu.RLock()
	var uptime time.Duration
	if running && !s.startTime.IsZero() {
		uptime = now.Sub(s.startTime)
	}
	comp := s.comp
	s.mu.RUnlock()

	component := func(name string, status HealthStatus, msg string) {
		components[name] = ComponentHealth{Status: status, Message: msg, LastUpdated: now}
	}

	if !running || comp == nil {
		component("session", HealthUnhealthy, "Session is not running")
		return HealthCheck{
			Status:     HealthUnhealthy,
			Timestamp:  now,
			Components: components,
			Message:    "Session is not running",
		}
	}
	component("session", HealthOK, "Session is running")

	if comp.client.EngineReady() {
		component("engine", HealthOK, "Engine ready")
	} else {
		component("engine", HealthDegraded, "Waiting for the engine")
	}

	switch state := comp.ctrl.State(); {
	case comp.ctrl.Breaker().State() == compositor.BreakerOpen:
		component("compositor", HealthUnhealthy, "Surface allocation suppressed after repeated failures")
	case state == compositor.Created || state == compositor.Resumed:
		component("compositor", HealthOK, "Compositor "+state.String())
	default:
		component("compositor", HealthDegraded, "Compositor "+state.String())
	}

	if doc := comp.client.DocumentState(); doc == layer.Active {
		component("viewport", HealthOK, "Document active")
	} else {
		component("viewport", HealthDegraded, "Document "+doc.String())
	}

	if lastErr := s.getError(); lastErr != nil {
		component("errors", HealthDegraded, lastErr.Error())
	} else {
		component("errors", HealthOK, "No recent errors")
	}

	status := worst(components)
	message := "All components healthy"
	if status != HealthOK {
		message = "Some components are not healthy"
	}
	return HealthCheck{
		Status:     status,
		Timestamp:  now,
		Uptime:     uptime,
		Components: components,
		Message:    message,
	}
}

// newRunID returns a random id tagging the log lines of one run.
func newRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
