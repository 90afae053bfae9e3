// Package compositor owns the GPU surface and the compositor lifecycle:
// creation, pause, resume and destruction.
//
// The compositor goroutine draws between BeginFrame and EndFrame. A surface
// handed out by Surface inside an open frame stays allocated until that
// frame ends.
//
// Creation and pause block the calling UI goroutine until the engine has
// acknowledged them and, for a pause, every open frame has ended. Resume is best effort: it completes only when the
// engine acknowledges the latest resume generation while the surface is
// still valid, and otherwise the controller silently stays paused.
package compositor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the compositor lifecycle state.
type State int

const (
	Uncreated State = iota
	Created
	Paused
	Resumed
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uncreated:
		return "uncreated"
	case Created:
		return "created"
	case Paused:
		return "paused"
	case Resumed:
		return "resumed"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Config tunes the controller.
type Config struct {
	// CreateTimeout bounds the wait for the engine to create the compositor.
	CreateTimeout time.Duration
	// PauseTimeout bounds the wait for the engine to process a pause and
	// for open frames to end. A surface still in use when it expires is
	// leaked, not released.
	PauseTimeout time.Duration
	// BreakerThreshold and BreakerCooldown configure the surface
	// allocation breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns five second timeouts and a 3 failure / 2 second
// breaker.
func DefaultConfig() Config {
	return Config{
		CreateTimeout:    5 * time.Second,
		PauseTimeout:     5 * time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  2 * time.Second,
	}
}

// Stats counts lifecycle transitions.
type Stats struct {
	Creations       uint64
	Pauses          uint64
	Resumes         uint64
	StaleResumes    uint64
	SurfaceFailures uint64
	LeakedSurfaces  uint64
}

// Controller drives the compositor state machine. All exported methods are
// safe for concurrent use. SurfaceChanged, SurfaceDestroyed and EngineReady
// are meant to be called from the UI loop; ResumeAcknowledged from the
// engine; BeginFrame, Surface and EndFrame from the compositor.
type Controller struct {
	gfx     *GraphicsContext
	bridge  Bridge
	ui      Poster
	cfg     Config
	logger  *slog.Logger
	breaker *Breaker

	// transition serializes the blocking transitions. It is never held by
	// the accessors used on the render side.
	transition sync.Mutex

	// frames is read locked for every open compositor frame.
	frames sync.RWMutex

	mu            sync.Mutex
	state         State
	surfaceValid  bool
	engineReady   bool
	width, height int
	current       Surface
	pending       Surface
	cached        Surface
	handle        NativeCompositorHandle
	resumeGen     uint64

	creations       atomic.Uint64
	pauses          atomic.Uint64
	resumes         atomic.Uint64
	staleResumes    atomic.Uint64
	surfaceFailures atomic.Uint64
	leaked          atomic.Uint64
}

// NewController builds a controller in the Uncreated state. ui receives
// native disposal work; when nil, disposal runs inline.
func NewController(gfx *GraphicsContext, bridge Bridge, ui Poster, cfg Config, logger *slog.Logger) *Controller {
	def := DefaultConfig()
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = def.CreateTimeout
	}
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = def.PauseTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		gfx:     gfx,
		bridge:  bridge,
		ui:      ui,
		cfg:     cfg,
		logger:  logger.With("component", "compositor"),
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Surface returns the surface the compositor may draw on, or nil unless
// the state is Created or Resumed.
func (c *Controller) Surface() Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Created && c.state != Resumed {
		return nil
	}
	return c.current
}

// Size returns the last size reported by SurfaceChanged.
func (c *Controller) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Breaker exposes the surface allocation breaker.
func (c *Controller) Breaker() *Breaker { return c.breaker }

// Stats returns transition counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Creations:       c.creations.Load(),
		Pauses:          c.pauses.Load(),
		Resumes:         c.resumes.Load(),
		StaleResumes:    c.staleResumes.Load(),
		SurfaceFailures: c.surfaceFailures.Load(),
		LeakedSurfaces:  c.leaked.Load(),
	}
}

// BeginFrame opens a compositor frame. Surfaces obtained from Surface are
// not released before the matching EndFrame.
func (c *Controller) BeginFrame() { c.frames.RLock() }

// EndFrame closes the frame opened by BeginFrame.
func (c *Controller) EndFrame() { c.frames.RUnlock() }

// awaitFrames returns once no frame is open. Callers make the surface
// unreachable first, so frames opened afterwards cannot pick it up.
func (c *Controller) awaitFrames(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if c.frames.TryLock() {
			c.frames.Unlock()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SurfaceChanged reports that the view's drawing surface is valid at the
// given size. It preallocates a GPU surface, creates the compositor when
// the engine is ready, or schedules a resume when paused.
func (c *Controller) SurfaceChanged(width, height int) {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	if c.state == Destroyed {
		c.mu.Unlock()
		return
	}
	resized := width != c.width || height != c.height
	c.surfaceValid = true
	c.width, c.height = width, height
	var stale Surface
	if resized {
		stale, c.cached = c.cached, nil
	}
	state := c.state
	c.mu.Unlock()
	release(stale)

	c.preallocate()

	switch state {
	case Uncreated:
		c.tryCreate()
	case Paused:
		c.scheduleResume()
	default:
		c.logger.Debug("surface changed", "state", state, "width", width, "height", height)
	}
}

// EngineReady records that the engine can accept a compositor and creates
// one if a surface is available.
func (c *Controller) EngineReady() {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	c.engineReady = true
	c.mu.Unlock()
	c.tryCreate()
}

// SurfaceDestroyed pauses the compositor and releases its surface. It
// returns after the engine has processed the pause and every frame that
// could still draw on the surface has ended. When either wait times out the
// surface is leaked rather than released under a running draw.
func (c *Controller) SurfaceDestroyed() {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	c.surfaceValid = false
	c.resumeGen++
	state := c.state
	pending, cached := c.pending, c.cached
	c.pending, c.cached = nil, nil
	var surface Surface
	if state == Created || state == Resumed {
		// From here on Surface returns nil to new frames.
		c.state = Paused
		surface, c.current = c.current, nil
	}
	c.mu.Unlock()
	release(pending)
	release(cached)

	if state != Created && state != Resumed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PauseTimeout)
	err := c.bridge.PauseCompositor(ctx)
	if err == nil {
		err = c.awaitFrames(ctx)
	}
	cancel()
	c.pauses.Add(1)
	if err != nil {
		c.leak(surface, "pause", err)
		return
	}
	release(surface)
	c.logger.Debug("compositor paused")
}

func (c *Controller) leak(s Surface, op string, err error) {
	if s == nil {
		return
	}
	c.leaked.Add(1)
	c.logger.Error("surface may still be in use, leaking it", "op", op, "surface", s.ID(), "error", err)
}

// ResumeAcknowledged completes a resume. It reports false, leaving the
// controller paused, when generation is not the latest scheduled resume or
// the surface went away in the meantime.
func (c *Controller) ResumeAcknowledged(generation uint64) bool {
	c.mu.Lock()
	if c.state != Paused || generation != c.resumeGen || !c.surfaceValid || c.pending == nil {
		state, current := c.state, c.resumeGen
		c.mu.Unlock()
		c.staleResumes.Add(1)
		c.logger.Debug("ignoring resume ack", "generation", generation, "current", current, "state", state)
		return false
	}
	c.current, c.pending = c.pending, nil
	c.state = Resumed
	c.mu.Unlock()
	c.resumes.Add(1)
	return true
}

// ProvideSurface hands the preallocated surface to the caller, allocating
// one if the cache is empty. The cache is left empty. It returns nil when
// no surface can be allocated right now.
func (c *Controller) ProvideSurface() Surface {
	if s := c.takeCached(); s != nil {
		return s
	}
	c.preallocate()
	return c.takeCached()
}

// Destroy tears the compositor down. It may be called from any goroutine
// and more than once; native disposal runs on the UI loop. The drawn
// surface is released once open frames have ended.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if c.state == Destroyed {
		c.mu.Unlock()
		return
	}
	c.state = Destroyed
	c.surfaceValid = false
	c.resumeGen++
	handle := c.handle
	surfaces := []Surface{c.current, c.pending, c.cached}
	c.handle, c.current, c.pending, c.cached = nil, nil, nil, nil
	c.mu.Unlock()

	dispose := func() {
		if handle != nil {
			if err := handle.Dispose(); err != nil {
				c.logger.Warn("dispose compositor", "error", err)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PauseTimeout)
		err := c.awaitFrames(ctx)
		cancel()
		if err != nil {
			c.leak(surfaces[0], "destroy", err)
			surfaces[0] = nil
		}
		for _, s := range surfaces {
			release(s)
		}
	}
	if c.ui != nil {
		c.ui.Post(dispose)
	} else {
		dispose()
	}
}

func (c *Controller) takeCached() Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.cached
	c.cached = nil
	return s
}

// preallocate fills the single surface cache. Failures are logged and
// retried on the next trigger.
func (c *Controller) preallocate() {
	c.mu.Lock()
	if c.cached != nil || !c.surfaceValid || c.state == Destroyed {
		c.mu.Unlock()
		return
	}
	w, h := c.width, c.height
	c.mu.Unlock()

	var s Surface
	err := c.breaker.Execute(func() error {
		var err error
		s, err = c.gfx.CreateSurface(w, h)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrBreakerOpen) {
			c.logger.Debug("surface allocation suppressed", "breaker", c.breaker.State())
			return
		}
		c.surfaceFailures.Add(1)
		c.logger.Warn("surface allocation failed, will retry", "error", err)
		return
	}

	c.mu.Lock()
	if c.cached == nil && c.surfaceValid && c.state != Destroyed && c.width == w && c.height == h {
		c.cached, s = s, nil
	}
	c.mu.Unlock()
	release(s)
}

func (c *Controller) tryCreate() {
	c.mu.Lock()
	ready := c.state == Uncreated && c.surfaceValid && c.engineReady
	w, h := c.width, c.height
	c.mu.Unlock()
	if !ready {
		return
	}

	s := c.ProvideSurface()
	if s == nil {
		c.logger.Debug("compositor creation deferred, no surface")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CreateTimeout)
	handle, err := c.bridge.CreateCompositor(ctx, s, w, h)
	cancel()
	if err != nil {
		release(s)
		c.logger.Error("create compositor", "error", err)
		return
	}

	c.mu.Lock()
	if c.state != Uncreated {
		c.mu.Unlock()
		c.logger.Debug("compositor created after destroy, disposing")
		if handle != nil {
			if err := handle.Dispose(); err != nil {
				c.logger.Warn("dispose compositor", "error", err)
			}
		}
		release(s)
		return
	}
	c.state = Created
	c.current = s
	c.handle = handle
	c.mu.Unlock()
	c.creations.Add(1)
	c.logger.Info("compositor created", "width", w, "height", h)
}

func (c *Controller) scheduleResume() {
	s := c.ProvideSurface()
	if s == nil {
		c.logger.Debug("resume deferred, no surface")
		return
	}

	c.mu.Lock()
	if c.state != Paused || !c.surfaceValid {
		c.mu.Unlock()
		release(s)
		return
	}
	old := c.pending
	c.pending = s
	c.resumeGen++
	gen := c.resumeGen
	w, h := c.width, c.height
	c.mu.Unlock()
	release(old)

	c.bridge.ResumeCompositor(s, w, h, gen)
}

func release(s Surface) {
	if s != nil {
		s.Release()
	}
}
