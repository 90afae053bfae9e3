package config

import (
	"time"

	"github.com/opd-ai/go-layersync/internal/viewport"
)

// Default values for settings that are not derived from the calculator
// defaults.
const (
	DefaultWidth                = 640
	DefaultHeight               = 480
	DefaultTitle                = "layersync"
	DefaultUIQueueSize          = 256
	DefaultZoomEpsilon          = 1e-4
	DefaultProgressiveTolerance = 2.0
	DefaultVisibleSlack         = 1.0
	DefaultDrawTimingCapacity   = 16
	DefaultScreenWidth          = 1080
	DefaultScreenHeight         = 1920
	DefaultCreateTimeout        = 5 * time.Second
	DefaultPauseTimeout         = 5 * time.Second
	DefaultBreakerThreshold     = 3
	DefaultBreakerCooldown      = 2 * time.Second
	DefaultEngineQueueSize      = 64
	DefaultEngineCPULimit       = 10_000_000
	DefaultEngineMemoryLimit    = 50 * 1024 * 1024
)

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	calc := viewport.DefaultCalculatorConfig()
	return Config{
		Window: WindowConfig{
			Width:       DefaultWidth,
			Height:      DefaultHeight,
			Title:       DefaultTitle,
			ShowHUD:     true,
			UIQueueSize: DefaultUIQueueSize,
		},
		Viewport: ViewportConfig{
			ZoomEpsilon:          DefaultZoomEpsilon,
			ProgressiveTolerance: DefaultProgressiveTolerance,
			VisibleSlack:         DefaultVisibleSlack,
			RecordDrawTimes:      true,
			DrawTimingCapacity:   DefaultDrawTimingCapacity,
			ScreenFallbackWidth:  DefaultScreenWidth,
			ScreenFallbackHeight: DefaultScreenHeight,
		},
		DisplayPort: DisplayPortConfig{
			Strategy:            calc.Strategy,
			TileSize:            calc.TileSize,
			SizeMultiplier:      calc.SizeMultiplier,
			VelocityThreshold:   calc.VelocityThreshold,
			ReverseBuffer:       calc.ReverseBuffer,
			DangerZoneBaseX:     calc.DangerZoneBaseX,
			DangerZoneBaseY:     calc.DangerZoneBaseY,
			DangerZoneIncrX:     calc.DangerZoneIncrX,
			DangerZoneIncrY:     calc.DangerZoneIncrY,
			FixedMargin:         calc.FixedMargin,
			PredictionMinFrames: calc.PredictionMinFrames,
			PredictionMaxFrames: calc.PredictionMaxFrames,
			PredictionPadding:   calc.PredictionPadding,
		},
		Compositor: CompositorConfig{
			CreateTimeout:    DefaultCreateTimeout,
			PauseTimeout:     DefaultPauseTimeout,
			BreakerThreshold: DefaultBreakerThreshold,
			BreakerCooldown:  DefaultBreakerCooldown,
		},
		Engine: EngineConfig{
			TabID:       1,
			CPULimit:    DefaultEngineCPULimit,
			MemoryLimit: DefaultEngineMemoryLimit,
			QueueSize:   DefaultEngineQueueSize,
		},
	}
}
