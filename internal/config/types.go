// Package config loads the tunables of the viewport synchronization layer.
// Two formats are accepted: a Lua file assigning a layersync.config table,
// and a plain text file of "key value" lines. Both map onto the same key
// table, so every setting is available in either format.
package config

import (
	"time"

	"github.com/opd-ai/go-layersync/internal/viewport"
)

// Config is the complete set of tunables.
type Config struct {
	// Window configures the demo window hosting the compositor.
	Window WindowConfig
	// Viewport holds the layer client tolerances.
	Viewport ViewportConfig
	// DisplayPort selects and tunes the display port strategy.
	DisplayPort DisplayPortConfig
	// Compositor holds lifecycle timeouts and the surface breaker.
	Compositor CompositorConfig
	// Engine configures the scripted engine simulator.
	Engine EngineConfig

	// Unknown lists keys that no setting recognized, in file order.
	Unknown []string
}

// WindowConfig holds window settings.
type WindowConfig struct {
	Width  int
	Height int
	Title  string
	// ShowHUD draws the zoom/origin/danger overlay.
	ShowHUD bool
	// UIQueueSize bounds the UI loop task queue.
	UIQueueSize int
}

// ViewportConfig holds the tolerances used by the layer client and the
// progressive update governor.
type ViewportConfig struct {
	// ZoomEpsilon is the tolerance for fuzzy zoom and metrics comparison.
	ZoomEpsilon float64
	// ProgressiveTolerance is the per edge distance in device pixels under
	// which a drawn region counts as the committed display port.
	ProgressiveTolerance float64
	// VisibleSlack shrinks the visible page before the coverage check.
	VisibleSlack float64
	// RecordDrawTimes feeds measured draw times to the calculator.
	RecordDrawTimes bool
	// DrawTimingCapacity bounds the draw timing queue.
	DrawTimingCapacity int
	// ScreenFallbackWidth and ScreenFallbackHeight are reported to the
	// engine when the screen cannot be queried.
	ScreenFallbackWidth  int
	ScreenFallbackHeight int
}

// DisplayPortConfig mirrors viewport.CalculatorConfig.
type DisplayPortConfig struct {
	Strategy            string
	TileSize            float64
	SizeMultiplier      float64
	VelocityThreshold   float64
	ReverseBuffer       float64
	DangerZoneBaseX     float64
	DangerZoneBaseY     float64
	DangerZoneIncrX     float64
	DangerZoneIncrY     float64
	FixedMargin         float64
	PredictionMinFrames int
	PredictionMaxFrames int
	PredictionPadding   float64
}

// CompositorConfig holds lifecycle settings.
type CompositorConfig struct {
	CreateTimeout    time.Duration
	PauseTimeout     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// EngineConfig configures the engine simulator.
type EngineConfig struct {
	// Script is the path of a Lua layout script. Empty selects the
	// built-in layout.
	Script      string
	TabID       int
	CPULimit    uint64
	MemoryLimit uint64
	QueueSize   int
}

// CalculatorConfig converts the display port settings.
func (c *Config) CalculatorConfig() viewport.CalculatorConfig {
	dp := c.DisplayPort
	return viewport.CalculatorConfig{
		Strategy:            dp.Strategy,
		TileSize:            dp.TileSize,
		SizeMultiplier:      dp.SizeMultiplier,
		VelocityThreshold:   dp.VelocityThreshold,
		ReverseBuffer:       dp.ReverseBuffer,
		DangerZoneBaseX:     dp.DangerZoneBaseX,
		DangerZoneBaseY:     dp.DangerZoneBaseY,
		DangerZoneIncrX:     dp.DangerZoneIncrX,
		DangerZoneIncrY:     dp.DangerZoneIncrY,
		FixedMargin:         dp.FixedMargin,
		PredictionMinFrames: dp.PredictionMinFrames,
		PredictionMaxFrames: dp.PredictionMaxFrames,
		PredictionPadding:   dp.PredictionPadding,
	}
}

// Strategy builds the configured display port strategy.
func (c *Config) Strategy() (viewport.Strategy, error) {
	return viewport.NewStrategy(c.CalculatorConfig())
}
