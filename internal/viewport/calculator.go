package viewport

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-layersync/internal/geom"
)

// Strategy names accepted by NewStrategy.
const (
	StrategyFixedMargin    = "fixed_margin"
	StrategyVelocityBias   = "velocity_bias"
	StrategyPredictionBias = "prediction_bias"
	StrategyNoMargin       = "no_margin"
)

// CalculatorConfig holds the tunables shared by every display port strategy.
type CalculatorConfig struct {
	// Strategy selects the algorithm; see the Strategy* constants.
	Strategy string
	// TileSize aligns display port edges to the engine's tile grid.
	TileSize float64
	// SizeMultiplier is the display port size relative to the viewport.
	SizeMultiplier float64
	// VelocityThreshold is the speed, in device pixels per frame, above
	// which an axis counts as moving.
	VelocityThreshold float64
	// ReverseBuffer is the fraction of the buffer kept behind a moving
	// viewport.
	ReverseBuffer float64
	// DangerZoneBaseX and DangerZoneBaseY are the danger margins as a
	// fraction of the viewport size.
	DangerZoneBaseX, DangerZoneBaseY float64
	// DangerZoneIncrX and DangerZoneIncrY grow the danger margins per unit
	// of speed.
	DangerZoneIncrX, DangerZoneIncrY float64
	// FixedMargin is the per side margin, as a fraction of the viewport,
	// used by the fixed margin strategy.
	FixedMargin float64
	// PredictionMinFrames and PredictionMaxFrames seed the predicted draw
	// window for the prediction bias strategy. Both reset on every new
	// document.
	PredictionMinFrames, PredictionMaxFrames int
	// PredictionPadding pads the predicted region, in device pixels.
	PredictionPadding float64
}

// DefaultCalculatorConfig returns the velocity bias tuning.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		Strategy:            StrategyVelocityBias,
		TileSize:            256,
		SizeMultiplier:      1.5,
		VelocityThreshold:   4,
		ReverseBuffer:       0.2,
		DangerZoneBaseX:     0.25,
		DangerZoneBaseY:     0.25,
		FixedMargin:         0.25,
		PredictionMinFrames: 0,
		PredictionMaxFrames: 2,
		PredictionPadding:   64,
	}
}

// Strategy computes display ports and judges checkerboarding risk.
// Implementations must be safe for concurrent use: Calculate runs under the
// client's writer lock while AboutToCheckerboard runs on the compositor.
type Strategy interface {
	// Calculate returns the region to rasterize for m moving at velocity.
	Calculate(m Metrics, velocity geom.PointF) DisplayPort
	// AboutToCheckerboard reports whether the viewport plus a velocity
	// dependent danger zone escapes dp.
	AboutToCheckerboard(m Metrics, velocity geom.PointF, dp DisplayPort) bool
	// DrawTimeUpdate feeds a measured draw of pixels that took d. It
	// returns false when the strategy no longer wants samples.
	DrawTimeUpdate(d time.Duration, pixels int) bool
	// ResetPageState discards per-document tuning.
	ResetPageState()
	// Name identifies the strategy.
	Name() string
}

// NewStrategy builds the strategy named by cfg.Strategy.
func NewStrategy(cfg CalculatorConfig) (Strategy, error) {
	if cfg.TileSize <= 0 {
		cfg.TileSize = DefaultCalculatorConfig().TileSize
	}
	switch cfg.Strategy {
	case StrategyVelocityBias, "":
		return &velocityBias{cfg: cfg}, nil
	case StrategyFixedMargin:
		return &fixedMargin{cfg: cfg}, nil
	case StrategyPredictionBias:
		p := &predictionBias{cfg: cfg}
		p.ResetPageState()
		return p, nil
	case StrategyNoMargin:
		return noMargin{}, nil
	default:
		return nil, fmt.Errorf("unknown display port strategy %q", cfg.Strategy)
	}
}

// Calculator is the display port calculator handed to the layer client. The
// active strategy can be replaced at runtime (config hot reload) without
// locking readers.
type Calculator struct {
	strategy atomic.Pointer[strategyBox]
}

type strategyBox struct{ s Strategy }

// NewCalculator wraps s.
func NewCalculator(s Strategy) *Calculator {
	c := &Calculator{}
	c.SetStrategy(s)
	return c
}

// SetStrategy swaps the active strategy.
func (c *Calculator) SetStrategy(s Strategy) {
	c.strategy.Store(&strategyBox{s: s})
}

// Strategy returns the active strategy.
func (c *Calculator) Strategy() Strategy { return c.strategy.Load().s }

// Calculate delegates to the active strategy.
func (c *Calculator) Calculate(m Metrics, velocity geom.PointF) DisplayPort {
	return c.Strategy().Calculate(m, velocity)
}

// AboutToCheckerboard delegates to the active strategy.
func (c *Calculator) AboutToCheckerboard(m Metrics, velocity geom.PointF, dp DisplayPort) bool {
	return c.Strategy().AboutToCheckerboard(m, velocity, dp)
}

// DrawTimeUpdate delegates to the active strategy.
func (c *Calculator) DrawTimeUpdate(d time.Duration, pixels int) bool {
	return c.Strategy().DrawTimeUpdate(d, pixels)
}

// ResetPageState delegates to the active strategy.
func (c *Calculator) ResetPageState() { c.Strategy().ResetPageState() }

// velocityBias sizes the display port as a multiple of the viewport and
// pushes most of the spare area in the direction of travel.
type velocityBias struct {
	cfg CalculatorConfig
}

func (s *velocityBias) Name() string { return StrategyVelocityBias }

func (s *velocityBias) Calculate(m Metrics, velocity geom.PointF) DisplayPort {
	dpWidth := m.Width() * s.cfg.SizeMultiplier
	dpHeight := m.Height() * s.cfg.SizeMultiplier

	// Panning along one axis is most likely axis locked; the other axis
	// gets no margin.
	threshold := s.cfg.VelocityThreshold
	if math.Abs(velocity.X) > threshold && geom.FuzzyEqual(velocity.Y, 0, geom.DefaultEpsilon) {
		dpHeight = m.Height()
	} else if math.Abs(velocity.Y) > threshold && geom.FuzzyEqual(velocity.X, 0, geom.DefaultEpsilon) {
		dpWidth = m.Width()
	}

	dpWidth = math.Min(dpWidth, m.PageWidth())
	dpHeight = math.Min(dpHeight, m.PageHeight())

	margins := velocityBiasedMargins(
		math.Max(0, dpWidth-m.Width()),
		math.Max(0, dpHeight-m.Height()),
		velocity, threshold, s.cfg.ReverseBuffer)
	margins = shiftMarginsForPageBounds(margins, m)
	return tileAligned(margins, m, s.cfg.TileSize)
}

func (s *velocityBias) AboutToCheckerboard(m Metrics, velocity geom.PointF, dp DisplayPort) bool {
	return dangerZoneEscapes(m, velocity, dp, s.cfg)
}

func (s *velocityBias) DrawTimeUpdate(time.Duration, int) bool { return false }

func (s *velocityBias) ResetPageState() {}

// fixedMargin adds the same margin on every side.
type fixedMargin struct {
	cfg CalculatorConfig
}

func (s *fixedMargin) Name() string { return StrategyFixedMargin }

func (s *fixedMargin) Calculate(m Metrics, _ geom.PointF) DisplayPort {
	mx := m.Width() * s.cfg.FixedMargin
	my := m.Height() * s.cfg.FixedMargin
	margins := geom.Rect(mx, my, mx, my)
	margins = shiftMarginsForPageBounds(margins, m)
	return tileAligned(margins, m, s.cfg.TileSize)
}

func (s *fixedMargin) AboutToCheckerboard(m Metrics, velocity geom.PointF, dp DisplayPort) bool {
	return dangerZoneEscapes(m, velocity, dp, s.cfg)
}

func (s *fixedMargin) DrawTimeUpdate(time.Duration, int) bool { return false }

func (s *fixedMargin) ResetPageState() {}

// noMargin requests exactly the viewport.
type noMargin struct{}

func (noMargin) Name() string { return StrategyNoMargin }

func (noMargin) Calculate(m Metrics, _ geom.PointF) DisplayPort {
	return NewDisplayPort(m.Viewport(), m.ZoomFactor)
}

func (noMargin) AboutToCheckerboard(m Metrics, _ geom.PointF, dp DisplayPort) bool {
	return !dp.Contains(m.VisiblePage())
}

func (noMargin) DrawTimeUpdate(time.Duration, int) bool { return false }

func (noMargin) ResetPageState() {}

// predictionBias predicts where the viewport will be once the engine has
// finished drawing, using measured draw times expressed in frames.
type predictionBias struct {
	cfg CalculatorConfig

	pixelArea atomic.Int64
	minFrames atomic.Int64
	maxFrames atomic.Int64
}

func (s *predictionBias) Name() string { return StrategyPredictionBias }

func (s *predictionBias) Calculate(m Metrics, velocity geom.PointF) DisplayPort {
	width, height := m.Width(), m.Height()
	s.pixelArea.Store(int64(width * height))

	if math.Hypot(velocity.X, velocity.Y) < s.cfg.VelocityThreshold {
		mx := width * (s.cfg.SizeMultiplier - 1) / 2
		my := height * (s.cfg.SizeMultiplier - 1) / 2
		margins := shiftMarginsForPageBounds(geom.Rect(mx, my, mx, my), m)
		return tileAligned(margins, m, s.cfg.TileSize)
	}

	minF := float64(s.minFrames.Load())
	maxF := float64(s.maxFrames.Load())
	minDx, maxDx := velocity.X*minF, velocity.X*maxF
	minDy, maxDy := velocity.Y*minF, velocity.Y*maxF

	pad := s.cfg.PredictionPadding
	margins := geom.Rect(
		math.Max(0, -math.Min(minDx, maxDx))+pad,
		math.Max(0, -math.Min(minDy, maxDy))+pad,
		math.Max(0, math.Max(minDx, maxDx))+pad,
		math.Max(0, math.Max(minDy, maxDy))+pad,
	)
	margins = shiftMarginsForPageBounds(margins, m)
	return tileAligned(margins, m, s.cfg.TileSize)
}

func (s *predictionBias) AboutToCheckerboard(m Metrics, velocity geom.PointF, dp DisplayPort) bool {
	return dangerZoneEscapes(m, velocity, dp, s.cfg)
}

// DrawTimeUpdate normalizes the sample to a full viewport and widens the
// predicted window when the sample falls outside it.
func (s *predictionBias) DrawTimeUpdate(d time.Duration, pixels int) bool {
	if pixels <= 0 {
		return true
	}
	area := float64(s.pixelArea.Load())
	normalizedMillis := area * float64(d.Milliseconds()) / float64(pixels)
	frames := int64(math.Ceil(normalizedMillis * 60 / 1000))

	switch {
	case frames <= s.minFrames.Load():
		if s.minFrames.Load() > 0 {
			s.minFrames.Add(-1)
		}
	case frames > s.maxFrames.Load():
		s.maxFrames.Add(1)
	}
	return true
}

func (s *predictionBias) ResetPageState() {
	s.minFrames.Store(int64(s.cfg.PredictionMinFrames))
	s.maxFrames.Store(int64(s.cfg.PredictionMaxFrames))
}

// PredictedFrames reports the current draw window in frames.
func (s *predictionBias) PredictedFrames() (minFrames, maxFrames int) {
	return int(s.minFrames.Load()), int(s.maxFrames.Load())
}

// velocityBiasedMargins splits the spare width and height into per side
// margins, keeping reverse of the buffer behind the direction of travel.
func velocityBiasedMargins(xAmount, yAmount float64, velocity geom.PointF, threshold, reverse float64) geom.RectF {
	var m geom.RectF
	switch {
	case velocity.X > threshold:
		m.Left = xAmount * reverse
	case velocity.X < -threshold:
		m.Left = xAmount * (1 - reverse)
	default:
		m.Left = xAmount / 2
	}
	m.Right = xAmount - m.Left

	switch {
	case velocity.Y > threshold:
		m.Top = yAmount * reverse
	case velocity.Y < -threshold:
		m.Top = yAmount * (1 - reverse)
	default:
		m.Top = yAmount / 2
	}
	m.Bottom = yAmount - m.Top
	return m
}

// shiftMarginsForPageBounds moves margin that would fall outside the page
// to the opposite side of the same axis.
func shiftMarginsForPageBounds(margins geom.RectF, m Metrics) geom.RectF {
	vp := m.Viewport()
	page := m.PageRect

	leftOverflow := page.Left - (vp.Left - margins.Left)
	rightOverflow := (vp.Right + margins.Right) - page.Right
	topOverflow := page.Top - (vp.Top - margins.Top)
	bottomOverflow := (vp.Bottom + margins.Bottom) - page.Bottom

	if leftOverflow > 0 {
		margins.Left -= leftOverflow
		margins.Right += leftOverflow
	} else if rightOverflow > 0 {
		margins.Right -= rightOverflow
		margins.Left += rightOverflow
	}
	if topOverflow > 0 {
		margins.Top -= topOverflow
		margins.Bottom += topOverflow
	} else if bottomOverflow > 0 {
		margins.Bottom -= bottomOverflow
		margins.Top += bottomOverflow
	}
	return margins
}

// tileAligned expands the viewport by margins, snaps the edges outward to
// the tile grid and clamps the result to the page.
func tileAligned(margins geom.RectF, m Metrics, tile float64) DisplayPort {
	r := m.Viewport().Expand(margins)
	page := m.PageRect

	left := math.Max(page.Left, tile*math.Floor(r.Left/tile))
	top := math.Max(page.Top, tile*math.Floor(r.Top/tile))
	right := math.Min(page.Right, tile*math.Ceil(r.Right/tile))
	bottom := math.Min(page.Bottom, tile*math.Ceil(r.Bottom/tile))

	// A page smaller than the viewport still needs a non-inverted port.
	right = math.Max(right, left)
	bottom = math.Max(bottom, top)
	return DisplayPort{Left: left, Top: top, Right: right, Bottom: bottom, Resolution: m.ZoomFactor}
}

// dangerZoneEscapes reports whether the viewport grown by a velocity
// dependent danger zone leaves dp.
func dangerZoneEscapes(m Metrics, velocity geom.PointF, dp DisplayPort, cfg CalculatorConfig) bool {
	dangerX := m.Width() * (cfg.DangerZoneBaseX + math.Abs(velocity.X)*cfg.DangerZoneIncrX)
	dangerY := m.Height() * (cfg.DangerZoneBaseY + math.Abs(velocity.Y)*cfg.DangerZoneIncrY)

	dangerX = clampf(dangerX, 0, math.Max(0, m.PageWidth()-m.Width()))
	dangerY = clampf(dangerY, 0, math.Max(0, m.PageHeight()-m.Height()))

	margins := velocityBiasedMargins(dangerX, dangerY, velocity, cfg.VelocityThreshold, cfg.ReverseBuffer)
	margins = shiftMarginsForPageBounds(margins, m)
	return !dp.Contains(m.Viewport().Expand(margins).Intersect(m.PageRect))
}
