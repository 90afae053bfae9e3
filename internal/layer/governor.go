package layer

import (
	"sync/atomic"

	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// Governor rules, in the order they are evaluated.
const (
	RuleStaleResolution = 1 // drawing at a zoom that is no longer current
	RuleNotInDanger     = 2 // low precision requested without checkerboard risk
	RuleCommitted       = 3 // region matches the display port last sent
	RuleUncovered       = 4 // region no longer covers the visible page
	RuleStaleLowRes     = 5 // low precision with nothing newer pending
	ruleCount           = 6
)

// ProgressiveInput is everything the governor needs for one decision.
type ProgressiveInput struct {
	Metrics  viewport.Metrics
	Velocity geom.PointF
	// LastSent is the display port last sent to the engine. HasLastSent is
	// false until one was sent.
	LastSent    viewport.DisplayPort
	HasLastSent bool

	Region               geom.RectF
	Resolution           float64
	LowPrecision         bool
	HasPendingNewContent bool
}

// Governor decides whether an incremental raster pass should be aborted.
//
// Update is called from the compositor goroutine only; it neither locks nor
// allocates. Reset may be called from any goroutine: it clears the danger
// flag immediately and bumps an epoch that makes the next Update drop the
// compositor owned bookkeeping.
type Governor struct {
	zoomEps   float64
	tolerance float64
	slack     float64
	checker   func(m viewport.Metrics, velocity geom.PointF, dp viewport.DisplayPort) bool

	danger atomic.Bool
	epoch  atomic.Uint64

	// Owned by the compositor goroutine.
	seenEpoch        uint64
	lastLowPrecision bool
	committed        viewport.DisplayPort
	hasCommitted     bool

	decisions [ruleCount]atomic.Uint64
}

// NewGovernor builds a governor. checker predicts checkerboarding for a
// committed high precision region; it may be nil.
func NewGovernor(zoomEps, tolerance, slack float64, checker func(viewport.Metrics, geom.PointF, viewport.DisplayPort) bool) *Governor {
	return &Governor{zoomEps: zoomEps, tolerance: tolerance, slack: slack, checker: checker}
}

// InDanger reports the sticky danger flag.
func (g *Governor) InDanger() bool { return g.danger.Load() }

// Reset clears the per document state.
func (g *Governor) Reset() {
	g.danger.Store(false)
	g.epoch.Add(1)
}

// Decisions returns how often each rule fired, indexed by rule number.
// Index 0 counts passes where drawing continued without a rule firing.
func (g *Governor) Decisions() [ruleCount]uint64 {
	var out [ruleCount]uint64
	for i := range g.decisions {
		out[i] = g.decisions[i].Load()
	}
	return out
}

// Update applies the rules to one raster pass.
func (g *Governor) Update(in ProgressiveInput) ProgressiveUpdateData {
	if e := g.epoch.Load(); e != g.seenEpoch {
		g.seenEpoch = e
		g.lastLowPrecision = false
		g.hasCommitted = false
		g.committed = viewport.DisplayPort{}
	}

	if !geom.FuzzyEqual(in.Resolution, in.Metrics.ZoomFactor, g.zoomEps) {
		return g.decide(true, RuleStaleResolution)
	}

	// Danger is sticky until Reset; low precision passes do not consume it.
	if in.LowPrecision && !g.lastLowPrecision && !g.danger.Load() {
		return g.decide(true, RuleNotInDanger)
	}
	g.lastLowPrecision = in.LowPrecision

	if !in.LowPrecision {
		drawn := viewport.NewDisplayPort(in.Region, in.Resolution)
		if !g.hasCommitted || !g.committed.FuzzyEquals(drawn, g.zoomEps) {
			g.committed = drawn
			g.hasCommitted = true
		}
		if !g.danger.Load() && g.checker != nil && g.checker(in.Metrics, in.Velocity, g.committed) {
			g.danger.Store(true)
		}
	}

	if g.hasCommitted && in.HasLastSent && in.LastSent.WithinTolerance(g.committed, g.tolerance) {
		return g.decide(false, RuleCommitted)
	}

	visible := in.Metrics.VisiblePage()
	if !visible.IsEmpty() {
		visible = geom.Rect(visible.Left+g.slack, visible.Top+g.slack, visible.Right-g.slack, visible.Bottom-g.slack).Normalize()
	}
	if !in.Region.Contains(visible) {
		g.danger.Store(true)
		return g.decide(true, RuleUncovered)
	}

	if in.LowPrecision && !in.HasPendingNewContent {
		return g.decide(true, RuleStaleLowRes)
	}
	return g.decide(false, 0)
}

func (g *Governor) decide(abort bool, rule int) ProgressiveUpdateData {
	g.decisions[rule].Add(1)
	return ProgressiveUpdateData{Abort: abort, Rule: rule}
}
