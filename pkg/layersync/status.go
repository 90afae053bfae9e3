package layersync

import "time"

// Status represents the current state of a Session.
type Status struct {
	// Running indicates if the session is currently active.
	Running bool
	// StartTime is when the session was last started (zero if never started).
	StartTime time.Time
	// RunID tags the log lines of the current run.
	RunID string
	// Frames is the number of composited frames since the last start.
	Frames uint64
	// Document is the layer client's document state.
	Document string
	// Compositor is the compositor lifecycle state.
	Compositor string
	// LastError is the most recent error encountered (nil if none).
	LastError error
	// ConfigSource describes the configuration source (file path or "embedded").
	ConfigSource string
}

// ErrorHandler is a callback for runtime errors.
// It is called asynchronously when errors occur during operation.
// Do not block in the handler; perform only quick, non-blocking operations.
type ErrorHandler func(err error)

// EventHandler is a callback for lifecycle events.
// It is called asynchronously; do not block in the handler.
type EventHandler func(event Event)

// Event represents a lifecycle event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string
}

// EventType enumerates lifecycle event types.
// The underlying integer values are implementation details and should not
// be relied upon for serialization. Use the constant names for comparison.
type EventType int

const (
	// EventStarted is emitted when the session starts successfully.
	EventStarted EventType = iota
	// EventStopped is emitted when the session stops.
	EventStopped
	// EventRestarted is emitted after a successful restart.
	EventRestarted
	// EventConfigReloaded is emitted when configuration is reloaded.
	EventConfigReloaded
	// EventError is emitted when a recoverable error occurs.
	EventError
	// EventEngineReady is emitted when the engine accepts viewport messages.
	EventEngineReady
	// EventFirstPaint is emitted when a new document is painted.
	EventFirstPaint
	// EventCompositorPaused is emitted after the surface went away.
	EventCompositorPaused
	// EventCompositorResumed is emitted when a resume was acknowledged.
	EventCompositorResumed
)

// String returns a human-readable representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventRestarted:
		return "restarted"
	case EventConfigReloaded:
		return "config_reloaded"
	case EventError:
		return "error"
	case EventEngineReady:
		return "engine_ready"
	case EventFirstPaint:
		return "first_paint"
	case EventCompositorPaused:
		return "compositor_paused"
	case EventCompositorResumed:
		return "compositor_resumed"
	default:
		return "unknown"
	}
}
