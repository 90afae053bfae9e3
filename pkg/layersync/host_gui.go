//go:build !noebiten

package layersync

import (
	"context"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/render"
)

// surfaceFactory returns GPU image surfaces for a window and memory
// surfaces otherwise.
func surfaceFactory(headless bool) compositor.SurfaceFactory {
	if headless {
		return memorySurfaces()
	}
	return render.NewSurfaceFactory()
}

// windowHost runs the compositor in an ebiten window.
type windowHost struct {
	comp *render.Compositor
}

func (s *session) newHost(c *components) (host, error) {
	if s.opts.Headless {
		return newHeadlessHost(c.client, c.ctrl, s.cfg.DisplayPort.TileSize, s.opts.FrameInterval), nil
	}

	rc := render.DefaultConfig()
	rc.Width, rc.Height = s.cfg.Window.Width, s.cfg.Window.Height
	rc.Title = s.cfg.Window.Title
	if s.opts.WindowTitle != "" {
		rc.Title = s.opts.WindowTitle
	}
	rc.ShowHUD = s.cfg.Window.ShowHUD
	if s.cfg.DisplayPort.TileSize > 0 {
		rc.TileSize = s.cfg.DisplayPort.TileSize
	}

	comp, renderer, err := render.NewCompositor(rc, c.client, c.ctrl)
	if err != nil {
		return nil, err
	}
	c.client.SetRenderer(renderer)
	comp.SetGestureHandler(gestureSink{s: s, c: c})
	comp.SetStatus(c.client.Governor().InDanger, func() string { return c.ctrl.State().String() })
	comp.SetLogger(s.logger)
	return &windowHost{comp: comp}, nil
}

func (h *windowHost) pipeline() *render.Pipeline { return h.comp.Pipeline() }

func (h *windowHost) run(ctx context.Context) error {
	h.comp.SetContext(ctx)
	return h.comp.Run()
}
