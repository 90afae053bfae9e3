package layersync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/layer"
	"github.com/opd-ai/go-layersync/internal/render"
)

// host drives the compositor context of a session.
type host interface {
	// run blocks until ctx is cancelled or the host goes away on its own,
	// for example when the window is closed.
	run(ctx context.Context) error
	pipeline() *render.Pipeline
}

// memorySurface is a surface without pixels.
type memorySurface struct {
	id   uint64
	w, h int
}

func (s *memorySurface) ID() uint64       { return s.id }
func (s *memorySurface) Size() (int, int) { return s.w, s.h }
func (s *memorySurface) Release()         {}

func memorySurfaces() compositor.SurfaceFactory {
	var next atomic.Uint64
	return compositor.SurfaceFactoryFunc(func(width, height int) (compositor.Surface, error) {
		return &memorySurface{id: next.Add(1), w: width, h: height}, nil
	})
}

// headlessHost composites on a ticker. Frames are planned into tiles but
// never drawn.
type headlessHost struct {
	surfaces render.SurfaceSource
	pipe     *render.Pipeline
	recorder *render.PlanRecorder
	interval time.Duration
}

func newHeadlessHost(client *layer.Client, src render.SurfaceSource, tileSize float64, interval time.Duration) *headlessHost {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	rec := render.NewPlanRecorder(tileSize, src)
	client.SetRenderer(rec)
	return &headlessHost{
		surfaces: src,
		pipe:     render.NewPipeline(client, rec, render.NewFrameStats(time.Second), tileSize),
		recorder: rec,
		interval: interval,
	}
}

func (h *headlessHost) pipeline() *render.Pipeline { return h.pipe }

func (h *headlessHost) run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			h.surfaces.BeginFrame()
			h.pipe.Compose()
			h.surfaces.EndFrame()
			h.pipe.Stats().RecordFrame(time.Since(start))
		}
	}
}
