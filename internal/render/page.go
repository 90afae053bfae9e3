//go:build !noebiten

package render

import (
	"math"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/opd-ai/go-layersync/internal/layer"
)

// PageRenderer implements layer.Renderer by drawing the page's tile grid
// into the compositor's current surface. Tiles without engine content are
// drawn as checkerboard.
type PageRenderer struct {
	cfg      Config
	surfaces SurfaceSource

	target   *ebiten.Image
	plan     TilePlan
	coverage atomic.Uint64
}

// NewPageRenderer draws into the surfaces handed out by src.
func NewPageRenderer(cfg Config, src SurfaceSource) *PageRenderer {
	r := &PageRenderer{cfg: cfg, surfaces: src, plan: TilePlan{Coverage: 1}}
	r.coverage.Store(math.Float64bits(1))
	return r
}

// RenderFrame implements layer.Renderer. It runs on the compositor
// goroutine.
func (r *PageRenderer) RenderFrame(f *layer.Frame) error {
	img := imageOf(r.surfaces.Surface())
	if img == nil {
		r.target = nil
		return ErrNoSurface
	}
	r.plan = PlanTiles(f, r.cfg.TileSize)
	r.coverage.Store(math.Float64bits(r.plan.Coverage))

	img.Fill(r.cfg.BackgroundColor)
	for _, t := range r.plan.Tiles {
		clr := r.cfg.CheckerboardColor
		if t.Painted {
			clr = r.cfg.TileColor
			if t.Alt {
				clr = r.cfg.TileAltColor
			}
		}
		vector.DrawFilledRect(img, float32(t.Rect.Left), float32(t.Rect.Top),
			float32(t.Rect.Width()), float32(t.Rect.Height()), clr, false)
	}
	if r.cfg.ShowHUD {
		dp := r.plan.DisplayPort
		vector.StrokeRect(img, float32(dp.Left), float32(dp.Top),
			float32(dp.Width()), float32(dp.Height()), 2, r.cfg.DisplayPortColor, false)
	}
	r.target = img
	return nil
}

// Target returns the image rendered by the last successful RenderFrame.
// Compositor goroutine only.
func (r *PageRenderer) Target() *ebiten.Image { return r.target }

// Plan returns the tile plan of the last rendered frame. Compositor
// goroutine only.
func (r *PageRenderer) Plan() TilePlan { return r.plan }

// Coverage returns the display port coverage of the last rendered frame.
func (r *PageRenderer) Coverage() float64 {
	return math.Float64frombits(r.coverage.Load())
}
