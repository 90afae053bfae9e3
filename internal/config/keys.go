package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// value is a raw setting value from either file format.
type value interface {
	AsBool() (bool, error)
	AsInt() (int, error)
	AsFloat() (float64, error)
	AsString() (string, error)
}

type setting struct {
	key   string
	apply func(cfg *Config, v value) error
}

func boolKey(key string, field func(*Config) *bool) setting {
	return setting{key, func(cfg *Config, v value) error {
		b, err := v.AsBool()
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}}
}

func intKey(key string, field func(*Config) *int) setting {
	return setting{key, func(cfg *Config, v value) error {
		n, err := v.AsInt()
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}}
}

func uintKey(key string, field func(*Config) *uint64) setting {
	return setting{key, func(cfg *Config, v value) error {
		n, err := v.AsInt()
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must be non-negative, got %d", n)
		}
		*field(cfg) = uint64(n)
		return nil
	}}
}

func floatKey(key string, field func(*Config) *float64) setting {
	return setting{key, func(cfg *Config, v value) error {
		f, err := v.AsFloat()
		if err != nil {
			return err
		}
		*field(cfg) = f
		return nil
	}}
}

// stringKey values have ${VAR} references expanded.
func stringKey(key string, field func(*Config) *string) setting {
	return setting{key, func(cfg *Config, v value) error {
		s, err := v.AsString()
		if err != nil {
			return err
		}
		*field(cfg) = ExpandEnv(s)
		return nil
	}}
}

// durationKey values are seconds.
func durationKey(key string, field func(*Config) *time.Duration) setting {
	return setting{key, func(cfg *Config, v value) error {
		f, err := v.AsFloat()
		if err != nil {
			return err
		}
		*field(cfg) = time.Duration(f * float64(time.Second))
		return nil
	}}
}

var settings = map[string]setting{}

func init() {
	for _, s := range []setting{
		intKey("window_width", func(c *Config) *int { return &c.Window.Width }),
		intKey("window_height", func(c *Config) *int { return &c.Window.Height }),
		stringKey("window_title", func(c *Config) *string { return &c.Window.Title }),
		boolKey("show_hud", func(c *Config) *bool { return &c.Window.ShowHUD }),
		intKey("ui_queue_size", func(c *Config) *int { return &c.Window.UIQueueSize }),

		floatKey("zoom_epsilon", func(c *Config) *float64 { return &c.Viewport.ZoomEpsilon }),
		floatKey("progressive_tolerance", func(c *Config) *float64 { return &c.Viewport.ProgressiveTolerance }),
		floatKey("visible_slack", func(c *Config) *float64 { return &c.Viewport.VisibleSlack }),
		boolKey("record_draw_times", func(c *Config) *bool { return &c.Viewport.RecordDrawTimes }),
		intKey("draw_timing_capacity", func(c *Config) *int { return &c.Viewport.DrawTimingCapacity }),
		intKey("screen_fallback_width", func(c *Config) *int { return &c.Viewport.ScreenFallbackWidth }),
		intKey("screen_fallback_height", func(c *Config) *int { return &c.Viewport.ScreenFallbackHeight }),

		stringKey("strategy", func(c *Config) *string { return &c.DisplayPort.Strategy }),
		floatKey("tile_size", func(c *Config) *float64 { return &c.DisplayPort.TileSize }),
		floatKey("size_multiplier", func(c *Config) *float64 { return &c.DisplayPort.SizeMultiplier }),
		floatKey("velocity_threshold", func(c *Config) *float64 { return &c.DisplayPort.VelocityThreshold }),
		floatKey("reverse_buffer", func(c *Config) *float64 { return &c.DisplayPort.ReverseBuffer }),
		floatKey("danger_zone_base_x", func(c *Config) *float64 { return &c.DisplayPort.DangerZoneBaseX }),
		floatKey("danger_zone_base_y", func(c *Config) *float64 { return &c.DisplayPort.DangerZoneBaseY }),
		floatKey("danger_zone_incr_x", func(c *Config) *float64 { return &c.DisplayPort.DangerZoneIncrX }),
		floatKey("danger_zone_incr_y", func(c *Config) *float64 { return &c.DisplayPort.DangerZoneIncrY }),
		floatKey("fixed_margin", func(c *Config) *float64 { return &c.DisplayPort.FixedMargin }),
		intKey("prediction_min_frames", func(c *Config) *int { return &c.DisplayPort.PredictionMinFrames }),
		intKey("prediction_max_frames", func(c *Config) *int { return &c.DisplayPort.PredictionMaxFrames }),
		floatKey("prediction_padding", func(c *Config) *float64 { return &c.DisplayPort.PredictionPadding }),

		durationKey("create_timeout", func(c *Config) *time.Duration { return &c.Compositor.CreateTimeout }),
		durationKey("pause_timeout", func(c *Config) *time.Duration { return &c.Compositor.PauseTimeout }),
		intKey("breaker_threshold", func(c *Config) *int { return &c.Compositor.BreakerThreshold }),
		durationKey("breaker_cooldown", func(c *Config) *time.Duration { return &c.Compositor.BreakerCooldown }),

		stringKey("engine_script", func(c *Config) *string { return &c.Engine.Script }),
		intKey("engine_tab_id", func(c *Config) *int { return &c.Engine.TabID }),
		uintKey("engine_cpu_limit", func(c *Config) *uint64 { return &c.Engine.CPULimit }),
		uintKey("engine_memory_limit", func(c *Config) *uint64 { return &c.Engine.MemoryLimit }),
		intKey("engine_queue_size", func(c *Config) *int { return &c.Engine.QueueSize }),
	} {
		settings[s.key] = s
	}
}

// Keys lists every recognized setting name in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// apply sets key on cfg. Unknown keys are recorded, not rejected, so that
// configs written for newer versions still load.
func apply(cfg *Config, key string, v value) error {
	key = strings.ToLower(strings.TrimSpace(key))
	s, ok := settings[key]
	if !ok {
		cfg.Unknown = append(cfg.Unknown, key)
		return nil
	}
	if err := s.apply(cfg, v); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

// textValue is a value from a plain text config line.
type textValue string

func (t textValue) AsBool() (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(t))) {
	case "yes", "true", "on", "1", "":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", string(t))
	}
}

func (t textValue) AsInt() (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(t)))
}

func (t textValue) AsFloat() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
}

func (t textValue) AsString() (string, error) {
	s := strings.TrimSpace(string(t))
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return s, nil
}
