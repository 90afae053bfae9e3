package render

import (
	"errors"
	"math"
	"sync"

	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/layer"
)

// ErrNoSurface is returned by RenderFrame when the compositor has no
// surface to draw on, for example while paused.
var ErrNoSurface = errors.New("render: no surface")

// Tile is one page tile in view coordinates.
type Tile struct {
	Rect geom.RectF
	// Painted is false when the tile lies outside the display port, so the
	// engine has no content for it and it shows as checkerboard.
	Painted bool
	// Alt selects the alternate tile colour of the page pattern.
	Alt bool
}

// TilePlan is the set of tiles visible in a frame.
type TilePlan struct {
	Tiles []Tile
	// DisplayPort is the display port in view coordinates at the frame's
	// zoom.
	DisplayPort geom.RectF
	// Coverage is the fraction of the visible page inside the display
	// port, 1 when nothing of the page is visible.
	Coverage float64
}

// Checkerboarding reports whether part of the visible page is unpainted.
func (p TilePlan) Checkerboarding() bool { return p.Coverage < 1 }

// PlanTiles lays the page out in tiles of tileSize device pixels and
// classifies those intersecting the viewport. The display port was drawn
// at its own resolution and is rescaled to the frame's zoom.
func PlanTiles(f *layer.Frame, tileSize float64) TilePlan {
	m := f.Metrics
	plan := TilePlan{Coverage: 1}
	if tileSize <= 0 || m.ZoomFactor <= 0 {
		return plan
	}

	dp := f.DisplayPort.Rect()
	if res := f.DisplayPort.Resolution; res > 0 {
		dp = dp.Scale(m.ZoomFactor / res)
	}
	plan.DisplayPort = dp.Offset(-m.Origin.X, -m.Origin.Y)

	visible := m.Viewport().Intersect(m.PageRect)
	if visible.IsEmpty() {
		return plan
	}
	covered := visible.Intersect(dp)
	plan.Coverage = area(covered) / area(visible)

	page := m.PageRect
	col0 := math.Floor((visible.Left - page.Left) / tileSize)
	row0 := math.Floor((visible.Top - page.Top) / tileSize)
	for row := row0; page.Top+row*tileSize < visible.Bottom; row++ {
		for col := col0; page.Left+col*tileSize < visible.Right; col++ {
			r := geom.RectXYWH(page.Left+col*tileSize, page.Top+row*tileSize, tileSize, tileSize).Intersect(page)
			if r.IsEmpty() {
				continue
			}
			plan.Tiles = append(plan.Tiles, Tile{
				Rect:    r.Offset(-m.Origin.X, -m.Origin.Y),
				Painted: dp.Contains(r.Intersect(visible)),
				Alt:     int(row+col)%2 != 0,
			})
		}
	}
	return plan
}

func area(r geom.RectF) float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Width() * r.Height()
}

// PlanRecorder implements layer.Renderer by planning tiles without
// drawing them. It stands in for PageRenderer when there is no window.
type PlanRecorder struct {
	tileSize float64
	surfaces SurfaceSource

	mu     sync.Mutex
	plan   TilePlan
	frames uint64
}

// NewPlanRecorder plans tiles of tileSize device pixels. When src is not
// nil, frames fail with ErrNoSurface while it has no surface.
func NewPlanRecorder(tileSize float64, src SurfaceSource) *PlanRecorder {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return &PlanRecorder{tileSize: tileSize, surfaces: src, plan: TilePlan{Coverage: 1}}
}

// RenderFrame implements layer.Renderer.
func (r *PlanRecorder) RenderFrame(f *layer.Frame) error {
	if r.surfaces != nil && r.surfaces.Surface() == nil {
		return ErrNoSurface
	}
	plan := PlanTiles(f, r.tileSize)
	r.mu.Lock()
	r.plan = plan
	r.frames++
	r.mu.Unlock()
	return nil
}

// Plan returns the plan of the last frame.
func (r *PlanRecorder) Plan() TilePlan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plan
}

// Frames returns the number of frames planned.
func (r *PlanRecorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
