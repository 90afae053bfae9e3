package render

import (
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/opd-ai/go-layersync/internal/layer"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// Planner reports the tile plan of the last rendered frame.
type Planner interface {
	Plan() TilePlan
}

// progressivePass tracks an incremental raster of one display port: one
// high precision callback per band of tiles, then one low precision
// callback when the client reports checkerboard danger. Every callback
// names the whole display port being drawn.
type progressivePass struct {
	active bool
	dp     viewport.DisplayPort
	band   int
	bands  int
	// low is set once the high precision bands are done or aborted.
	low bool
	// partial records that the high precision bands did not finish.
	partial bool
}

// Pipeline runs one compositor frame against a Client: view sync, one step
// of the progressive pass and frame creation. Compose must be called from
// a single goroutine, the compositor context.
type Pipeline struct {
	client   Client
	planner  Planner
	stats    *FrameStats
	tileSize float64
	logger   atomic.Pointer[slog.Logger]

	paintSyncID atomic.Uint32
	lastRule    atomic.Int32
	onFrame     atomic.Pointer[func()]

	lastDP viewport.DisplayPort
	hasDP  bool
	pass   progressivePass
}

// NewPipeline drives client, splitting progressive passes into bands of
// tileSize device pixels. planner may be nil when checkerboard frames need
// not be counted.
func NewPipeline(client Client, planner Planner, stats *FrameStats, tileSize float64) *Pipeline {
	if stats == nil {
		stats = NewFrameStats(0)
	}
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	p := &Pipeline{client: client, planner: planner, stats: stats, tileSize: tileSize}
	p.logger.Store(slog.New(slog.DiscardHandler))
	return p
}

// SetLogger sets the logger.
func (p *Pipeline) SetLogger(l *slog.Logger) {
	if l != nil {
		p.logger.Store(l)
	}
}

// SetPaintSyncID hands the paint sync id of the engine's latest layers
// update to the next frame.
func (p *Pipeline) SetPaintSyncID(id uint32) { p.paintSyncID.Store(id) }

// SetFrameCallback sets a function run on the compositor goroutine after
// every frame the client produced.
func (p *Pipeline) SetFrameCallback(fn func()) {
	if fn == nil {
		p.onFrame.Store(nil)
		return
	}
	p.onFrame.Store(&fn)
}

// Stats returns the frame statistics.
func (p *Pipeline) Stats() *FrameStats { return p.stats }

// LastRule returns the governor rule of the latest progressive callback.
func (p *Pipeline) LastRule() int { return int(p.lastRule.Load()) }

// LastDisplayPort returns the display port of the latest frame.
// Compositor goroutine only.
func (p *Pipeline) LastDisplayPort() viewport.DisplayPort { return p.lastDP }

// Compose synchronizes with the client and renders a frame. It reports
// false when the client produced no frame.
func (p *Pipeline) Compose() (viewport.ViewTransform, bool) {
	dp := p.client.DisplayPort()
	updated := !p.hasDP || dp != p.lastDP
	p.lastDP, p.hasDP = dp, true

	layerRect := dp.Rect()
	vt := p.client.SyncViewportInfo(
		int(math.Round(layerRect.Left)), int(math.Round(layerRect.Top)),
		int(math.Round(layerRect.Width())), int(math.Round(layerRect.Height())),
		dp.Resolution, updated, p.paintSyncID.Swap(0))

	p.progressiveStep(dp, updated)

	if p.client.CreateFrame() == nil {
		p.stats.RecordDropped()
		return vt, false
	}
	if p.planner != nil && p.planner.Plan().Checkerboarding() {
		p.stats.RecordCheckerboard()
	}
	if fn := p.onFrame.Load(); fn != nil {
		(*fn)()
	}
	return vt, true
}

// progressiveStep advances the progressive pass by one callback. A new
// display port restarts the pass.
func (p *Pipeline) progressiveStep(dp viewport.DisplayPort, updated bool) {
	if updated {
		bands := int(math.Ceil(dp.Height() / p.tileSize))
		if bands < 1 {
			bands = 1
		}
		p.pass = progressivePass{active: true, dp: dp, bands: bands}
	}
	pass := &p.pass
	if !pass.active {
		return
	}

	if pass.low {
		// Newer content is pending while the high precision bands are
		// incomplete.
		data := p.client.ProgressiveUpdateCallback(pass.partial, pass.dp.Rect(), pass.dp.Resolution, true)
		p.record(data, true)
		pass.active = false
		return
	}

	pass.band++
	pending := pass.band < pass.bands
	data := p.client.ProgressiveUpdateCallback(pending, pass.dp.Rect(), pass.dp.Resolution, false)
	p.record(data, false)
	if !data.Abort && pending {
		return
	}
	pass.partial = data.Abort
	pass.low = true
	pass.active = p.client.InDanger()
}

func (p *Pipeline) record(data layer.ProgressiveUpdateData, low bool) {
	p.lastRule.Store(int32(data.Rule))
	if data.Abort {
		p.stats.RecordProgressiveAbort()
		p.logger.Load().Debug("progressive pass aborted", "rule", data.Rule, "band", p.pass.band, "low_precision", low)
	}
}
