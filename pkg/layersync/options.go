package layersync

import (
	"time"
)

// DefaultShutdownTimeout is the default timeout for graceful shutdown.
// This can be overridden via Options.ShutdownTimeout.
const DefaultShutdownTimeout = 5 * time.Second

// DefaultFrameInterval paces the headless compositor.
const DefaultFrameInterval = time.Second / 60

// Options configures the Session behavior.
type Options struct {
	// WindowTitle overrides the window title.
	// Empty string means use the configuration file's value.
	WindowTitle string

	// Headless runs the compositor on a ticker instead of a window. Surfaces
	// are plain memory handles and frames are planned but not drawn.
	Headless bool

	// FrameInterval paces the headless compositor.
	// Zero means DefaultFrameInterval.
	FrameInterval time.Duration

	// ScreenSize fixes the screen size reported to the engine, as "WxH".
	// Empty means query the display server, falling back to the
	// configured screen size.
	ScreenSize string

	// Strategy overrides the configured display port strategy.
	Strategy string

	// ShutdownTimeout sets the maximum time to wait for graceful shutdown.
	// Zero means use DefaultShutdownTimeout (5 seconds).
	ShutdownTimeout time.Duration

	// Logger sets a custom logger for debug/info messages.
	// If nil, no logging is performed.
	Logger Logger

	// Metrics sets a custom metrics collector for operational metrics.
	// If nil, DefaultMetrics() is used.
	// Metrics can be exposed via /debug/vars by calling Metrics.RegisterExpvar().
	Metrics *Metrics

	// ErrorTracker sets a custom error tracker for error aggregation and alerting.
	// If nil, DefaultErrorTracker() is used.
	ErrorTracker *ErrorTracker

	// WatchConfig enables automatic configuration hot-reloading when the
	// configuration file changes on disk. Only sessions created with New
	// watch; embedded and reader configurations never change.
	WatchConfig bool

	// WatchDebounce sets the debounce interval for file change events.
	// Zero means use the default (500ms).
	WatchDebounce time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		FrameInterval:   DefaultFrameInterval,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Logger interface for custom logging.
// It follows the slog-style signature for compatibility with Go's structured logging.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}
