package layersync

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/opd-ai/go-layersync/internal/config"
	"github.com/opd-ai/go-layersync/internal/pointer"
)

// Configuration formats accepted by NewFromReader.
const (
	// FormatText is the "key value" line format.
	FormatText = "text"
	// FormatLua is a Lua file assigning the layersync.config table.
	FormatLua = "lua"
)

// TouchPhase is the state of an injected touch point.
type TouchPhase = pointer.Phase

const (
	TouchContact = pointer.PhaseContact
	TouchRemove  = pointer.PhaseRemove
	TouchHover   = pointer.PhaseHover
	TouchCancel  = pointer.PhaseCancel
)

// MouseAction is an injected mouse event type.
type MouseAction = pointer.MouseAction

const (
	MouseMove    = pointer.MouseMove
	MousePress   = pointer.MousePress
	MouseRelease = pointer.MouseRelease
)

// ViewportState is a point-in-time view of the synchronized viewport.
// Positions and sizes are device pixels.
type ViewportState struct {
	OriginX, OriginY float64
	Zoom             float64
	Width, Height    int
	PageWidth        float64
	PageHeight       float64
	// DisplayPort is the area the engine was last asked to paint, as
	// left, top, right, bottom.
	DisplayPort [4]float64
	Resolution  float64
	Document    string
	InDanger    bool
}

// Session runs one viewport synchronization stack: the UI loop, the
// engine, the layer client and the compositor.
type Session interface {
	// Start builds the components and starts every context. It returns once
	// they are running; the first paint arrives asynchronously.
	Start() error

	// Stop tears the compositor down and waits for every goroutine to
	// exit. Calling Stop on a stopped session is a no-op.
	Stop() error

	// Restart stops, reloads the configuration from its source and starts
	// again.
	Restart() error

	// ReloadConfig applies a reloaded configuration without stopping. The
	// display port strategy and the layout script are swapped in place;
	// settings that need new components take effect on Restart.
	ReloadConfig() error

	// IsRunning reports whether the session is running.
	IsRunning() bool

	// Status returns the current session status.
	Status() Status

	// SetErrorHandler registers a callback for runtime errors.
	SetErrorHandler(handler ErrorHandler)

	// SetEventHandler registers a callback for lifecycle events.
	SetEventHandler(handler EventHandler)

	// Health returns a health check of the session and its components.
	Health() HealthCheck

	// Metrics returns the metrics collector for this session.
	Metrics() *Metrics

	// ErrorTracker returns the error tracker for this session.
	ErrorTracker() *ErrorTracker

	// ScrollBy scrolls by (dx, dy) device pixels.
	ScrollBy(dx, dy float64) error

	// Zoom multiplies the zoom factor by factor, keeping the view point
	// (focusX, focusY) in place.
	Zoom(factor, focusX, focusY float64) error

	// Resize changes the viewport size. The compositor surface is cycled
	// the way a window system replaces it on resize.
	Resize(width, height int) error

	// LoadDocument navigates the engine to a new document.
	LoadDocument() error

	// Touch injects a touch point at view coordinates (x, y).
	Touch(id int, phase TouchPhase, x, y, pressure float64) error

	// Mouse injects a mouse event at view coordinates (x, y).
	Mouse(action MouseAction, x, y float64) error

	// Suspend reports the surface as destroyed and waits for the
	// compositor to pause.
	Suspend() error

	// Resume reports the surface as available again.
	Resume() error

	// Viewport returns the current viewport state.
	Viewport() ViewportState
}

// New creates a session from a configuration file on disk. The file may
// use either format; Lua is detected by its layersync.config assignment.
func New(configPath string, opts *Options) (Session, error) {
	loader := func() (*config.Config, error) {
		return config.NewParser().ParseFile(configPath)
	}
	return asSession(newSession(loader, configPath, opts, func(s *session) {
		s.configPath = configPath
	}))
}

// NewFromFS creates a session from a configuration inside fsys. Layout
// scripts named by the configuration are read from fsys too.
func NewFromFS(fsys fs.FS, configPath string, opts *Options) (Session, error) {
	loader := func() (*config.Config, error) {
		return config.NewParser().ParseFromFS(fsys, configPath)
	}
	return asSession(newSession(loader, "embedded:"+configPath, opts, func(s *session) {
		s.fsys = fsys
	}))
}

// NewFromReader creates a session from configuration content. format is
// FormatText or FormatLua. The content is read once and kept for
// Restart.
func NewFromReader(r io.Reader, format string, opts *Options) (Session, error) {
	if format != FormatText && format != FormatLua {
		return nil, fmt.Errorf("invalid format: %s (expected '%s' or '%s')", format, FormatLua, FormatText)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	loader := func() (*config.Config, error) {
		return config.NewParser().ParseReader(bytes.NewReader(content), format)
	}
	return asSession(newSession(loader, "reader", opts, nil))
}

// asSession keeps a failed constructor from returning a typed nil.
func asSession(s *session, err error) (Session, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(loader func() (*config.Config, error), source string, opts *Options, init func(*session)) (*session, error) {
	if opts == nil {
		def := DefaultOptions()
		opts = &def
	}
	s := &session{
		opts:         *opts,
		configSource: source,
		configLoader: loader,
		logger:       toSlog(opts.Logger),
		metrics:      opts.Metrics,
		tracker:      opts.ErrorTracker,
	}
	if s.metrics == nil {
		s.metrics = DefaultMetrics()
	}
	if s.tracker == nil {
		s.tracker = DefaultErrorTracker()
	}
	if init != nil {
		init(s)
	}
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	s.cfg = cfg
	return s, nil
}

// loadConfig reads and validates the configuration. Warnings are logged.
func (s *session) loadConfig() (*config.Config, error) {
	cfg, err := s.configLoader()
	if err != nil {
		return nil, err
	}
	result := config.NewValidator().WithFileCheck(s.checkFile).Validate(cfg)
	for _, w := range result.Warnings {
		s.logger.Warn("config", slog.String("warning", w.Error()))
	}
	if !result.IsValid() {
		return nil, result.Error()
	}
	return cfg, nil
}
