package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opd-ai/go-layersync/internal/viewport"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError is a problem with one setting.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the results of a configuration validation.
type ValidationResult struct {
	Errors []ValidationError
	// Warnings are non-fatal, such as unknown keys.
	Warnings []ValidationError
}

// IsValid reports whether there are no errors.
func (vr *ValidationResult) IsValid() bool {
	return len(vr.Errors) == 0
}

// Error returns the combined errors, or nil.
func (vr *ValidationResult) Error() error {
	if len(vr.Errors) == 0 {
		return nil
	}
	messages := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		messages = append(messages, e.Error())
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
}

// AddError adds a validation error.
func (vr *ValidationResult) AddError(field, message string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (vr *ValidationResult) AddWarning(field, message string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Message: message})
}

// Merge combines another result into this one.
func (vr *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	vr.Errors = append(vr.Errors, other.Errors...)
	vr.Warnings = append(vr.Warnings, other.Warnings...)
}

// Validator checks a Config for values the layer cannot run with.
type Validator struct {
	// strictMode turns unknown keys into errors.
	strictMode bool
	statFile   func(string) error
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{
		statFile: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// WithStrictMode makes unknown keys errors instead of warnings.
func (v *Validator) WithStrictMode(strict bool) *Validator {
	v.strictMode = strict
	return v
}

// WithFileCheck replaces the check applied to referenced files, for
// configurations whose paths resolve against another directory or an
// fs.FS.
func (v *Validator) WithFileCheck(check func(path string) error) *Validator {
	if check != nil {
		v.statFile = check
	}
	return v
}

// Validate checks cfg.
func (v *Validator) Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	v.validateWindow(&cfg.Window, result)
	v.validateViewport(&cfg.Viewport, result)
	v.validateDisplayPort(cfg, result)
	v.validateCompositor(&cfg.Compositor, result)
	v.validateEngine(&cfg.Engine, result)

	for _, key := range cfg.Unknown {
		if v.strictMode {
			result.AddError(key, "unknown setting")
		} else {
			result.AddWarning(key, "unknown setting")
		}
	}
	return result
}

func (v *Validator) validateWindow(wc *WindowConfig, result *ValidationResult) {
	if wc.Width <= 0 {
		result.AddError("window_width", fmt.Sprintf("must be positive, got %d", wc.Width))
	}
	if wc.Height <= 0 {
		result.AddError("window_height", fmt.Sprintf("must be positive, got %d", wc.Height))
	}
	const maxDimension = 10000
	if wc.Width > maxDimension || wc.Height > maxDimension {
		result.AddWarning("window", fmt.Sprintf("unusually large window %dx%d", wc.Width, wc.Height))
	}
	if wc.UIQueueSize <= 0 {
		result.AddError("ui_queue_size", fmt.Sprintf("must be positive, got %d", wc.UIQueueSize))
	}
}

func (v *Validator) validateViewport(vc *ViewportConfig, result *ValidationResult) {
	if vc.ZoomEpsilon <= 0 || vc.ZoomEpsilon >= 1 {
		result.AddError("zoom_epsilon", fmt.Sprintf("must be in (0, 1), got %g", vc.ZoomEpsilon))
	}
	if vc.ProgressiveTolerance < 0 {
		result.AddError("progressive_tolerance", fmt.Sprintf("must be non-negative, got %g", vc.ProgressiveTolerance))
	}
	if vc.VisibleSlack < 0 {
		result.AddError("visible_slack", fmt.Sprintf("must be non-negative, got %g", vc.VisibleSlack))
	}
	if vc.DrawTimingCapacity <= 0 {
		result.AddError("draw_timing_capacity", fmt.Sprintf("must be positive, got %d", vc.DrawTimingCapacity))
	}
	if vc.ScreenFallbackWidth <= 0 || vc.ScreenFallbackHeight <= 0 {
		result.AddError("screen_fallback", fmt.Sprintf("must be positive, got %dx%d",
			vc.ScreenFallbackWidth, vc.ScreenFallbackHeight))
	}
}

func (v *Validator) validateDisplayPort(cfg *Config, result *ValidationResult) {
	dp := &cfg.DisplayPort
	if _, err := cfg.Strategy(); err != nil {
		result.AddError("strategy", err.Error())
	}
	if dp.TileSize <= 0 {
		result.AddError("tile_size", fmt.Sprintf("must be positive, got %g", dp.TileSize))
	}
	if dp.SizeMultiplier < 1 {
		result.AddError("size_multiplier", fmt.Sprintf("must be at least 1, got %g", dp.SizeMultiplier))
	}
	if dp.ReverseBuffer < 0 || dp.ReverseBuffer > 0.5 {
		result.AddError("reverse_buffer", fmt.Sprintf("must be in [0, 0.5], got %g", dp.ReverseBuffer))
	}
	if dp.FixedMargin < 0 {
		result.AddError("fixed_margin", fmt.Sprintf("must be non-negative, got %g", dp.FixedMargin))
	}
	if dp.Strategy == viewport.StrategyPredictionBias && dp.PredictionMinFrames > dp.PredictionMaxFrames {
		result.AddError("prediction_min_frames", fmt.Sprintf("exceeds prediction_max_frames (%d > %d)",
			dp.PredictionMinFrames, dp.PredictionMaxFrames))
	}
}

func (v *Validator) validateCompositor(cc *CompositorConfig, result *ValidationResult) {
	checkTimeout := func(field string, d time.Duration) {
		if d <= 0 {
			result.AddError(field, fmt.Sprintf("must be positive, got %v", d))
		} else if d > time.Minute {
			result.AddWarning(field, fmt.Sprintf("very long timeout %v", d))
		}
	}
	checkTimeout("create_timeout", cc.CreateTimeout)
	checkTimeout("pause_timeout", cc.PauseTimeout)
	if cc.BreakerThreshold <= 0 {
		result.AddError("breaker_threshold", fmt.Sprintf("must be positive, got %d", cc.BreakerThreshold))
	}
	if cc.BreakerCooldown < 0 {
		result.AddError("breaker_cooldown", fmt.Sprintf("must be non-negative, got %v", cc.BreakerCooldown))
	}
}

func (v *Validator) validateEngine(ec *EngineConfig, result *ValidationResult) {
	if ec.Script != "" {
		if err := v.statFile(ec.Script); err != nil {
			result.AddError("engine_script", err.Error())
		}
	}
	if ec.TabID <= 0 {
		result.AddError("engine_tab_id", fmt.Sprintf("must be positive, got %d", ec.TabID))
	}
	if ec.QueueSize <= 0 {
		result.AddError("engine_queue_size", fmt.Sprintf("must be positive, got %d", ec.QueueSize))
	}
	if ec.CPULimit == 0 || ec.MemoryLimit == 0 {
		result.AddWarning("engine_limits", "a zero limit disables the Lua sandbox bound")
	}
}

// ValidateConfig validates cfg with the default validator.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg).Error()
}
