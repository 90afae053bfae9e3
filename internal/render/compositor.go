//go:build !noebiten

package render

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/opd-ai/go-layersync/internal/viewport"
)

// ErrTerminated is returned from Update when the context is cancelled.
var ErrTerminated = errors.New("compositor terminated")

// Compositor implements ebiten.Game. Update polls input on the logic side;
// Draw is the compositor context.
type Compositor struct {
	cfg      Config
	renderer *PageRenderer
	text     *TextRenderer
	pipe     *Pipeline
	surfaces SurfaceSource
	tracker  *gestureTracker
	touch    touchPoller
	now      func() time.Time

	mu       sync.RWMutex
	ctx      context.Context
	gestures GestureHandler
	danger   func() bool
	status   func() string
	running  bool

	// Compositor goroutine state.
	width, height int
}

// NewCompositor creates a compositor drawing frames produced by client
// into the surfaces handed out by surfaces. The returned renderer must be
// attached to the client with SetRenderer.
func NewCompositor(cfg Config, client Client, surfaces SurfaceSource) (*Compositor, *PageRenderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	var text *TextRenderer
	if cfg.ShowHUD {
		var err error
		if text, err = NewTextRenderer(); err != nil {
			return nil, nil, err
		}
	}
	renderer := NewPageRenderer(cfg, surfaces)
	return &Compositor{
		cfg:      cfg,
		renderer: renderer,
		text:     text,
		pipe:     NewPipeline(client, renderer, NewFrameStats(time.Second), cfg.TileSize),
		surfaces: surfaces,
		tracker:  newGestureTracker(cfg),
		now:      time.Now,
		status:   func() string { return "unknown" },
	}, renderer, nil
}

// SetContext stops the game loop when ctx is cancelled.
func (c *Compositor) SetContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
}

// SetGestureHandler routes input gestures and window resizes.
func (c *Compositor) SetGestureHandler(h GestureHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gestures = h
}

// SetStatus sets the HUD's danger flag and compositor state sources.
func (c *Compositor) SetStatus(danger func() bool, state func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.danger = danger
	if state != nil {
		c.status = state
	}
}

// SetLogger sets the logger.
func (c *Compositor) SetLogger(l *slog.Logger) {
	c.pipe.SetLogger(l.With("component", "render"))
}

// Pipeline returns the frame pipeline. Paint sync ids are handed to it.
func (c *Compositor) Pipeline() *Pipeline { return c.pipe }

// Stats returns the frame statistics.
func (c *Compositor) Stats() *FrameStats { return c.pipe.Stats() }

// Renderer returns the page renderer.
func (c *Compositor) Renderer() *PageRenderer { return c.renderer }

// Update implements ebiten.Game.
func (c *Compositor) Update() error {
	c.mu.RLock()
	ctx, h := c.ctx, c.gestures
	c.mu.RUnlock()

	if ctx != nil {
		select {
		case <-ctx.Done():
			return ErrTerminated
		default:
		}
	}
	if h != nil {
		c.tracker.apply(c.touch.pollInput(), h)
	}
	return nil
}

// Draw implements ebiten.Game. It runs one compositor frame. The frame
// stays open until the rendered surface was composited to the screen.
func (c *Compositor) Draw(screen *ebiten.Image) {
	start := c.now()
	c.surfaces.BeginFrame()
	defer c.surfaces.EndFrame()
	screen.Fill(c.cfg.BackgroundColor)

	vt, ok := c.pipe.Compose()
	if target := c.renderer.Target(); ok && target != nil {
		screen.DrawImage(target, nil)
	}
	if c.text != nil {
		c.text.DrawHUD(screen, c.hudState(vt), c.cfg.HUDColor)
	}
	c.pipe.Stats().RecordFrame(c.now().Sub(start))
}

func (c *Compositor) hudState(vt viewport.ViewTransform) HUDState {
	c.mu.RLock()
	danger, status := c.danger, c.status
	c.mu.RUnlock()
	s := HUDState{
		Transform:   vt,
		DisplayPort: c.pipe.LastDisplayPort(),
		Coverage:    c.renderer.Coverage(),
		Stats:       c.pipe.Stats().Snapshot(),
		LastRule:    c.pipe.LastRule(),
		Compositor:  status(),
	}
	if danger != nil {
		s.Danger = danger()
	}
	return s
}

// Layout implements ebiten.Game. The logical screen is the window, so a
// window resize is a viewport resize.
func (c *Compositor) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != c.width || outsideHeight != c.height {
		c.width, c.height = outsideWidth, outsideHeight
		c.mu.RLock()
		h := c.gestures
		c.mu.RUnlock()
		if h != nil {
			h.Resize(outsideWidth, outsideHeight)
		}
	}
	return c.width, c.height
}

// Run opens the window and blocks until it is closed or the context is
// cancelled.
func (c *Compositor) Run() error {
	ebiten.SetWindowSize(c.cfg.Width, c.cfg.Height)
	ebiten.SetWindowTitle(c.cfg.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	err := ebiten.RunGame(c)

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	if errors.Is(err, ErrTerminated) {
		return nil
	}
	return err
}

// IsRunning reports whether the game loop is running.
func (c *Compositor) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
