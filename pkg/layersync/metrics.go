package layersync

import (
	"expvar"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/engine"
	"github.com/opd-ai/go-layersync/internal/layer"
	"github.com/opd-ai/go-layersync/internal/render"
)

// Metrics collects session metrics. Lifecycle counters are kept here; the
// viewport, compositor and frame counters are read from the running
// session's components at snapshot time.
//
// Thread-safe for concurrent use.
//
//	metrics := layersync.NewMetrics()
//	metrics.RegisterExpvar() // served at /debug/vars
type Metrics struct {
	starts        atomic.Int64
	stops         atomic.Int64
	restarts      atomic.Int64
	configReloads atomic.Int64
	errorsTotal   atomic.Int64
	eventsEmitted atomic.Int64
	engineEvents  atomic.Int64
	gestures      atomic.Int64
	surfaceCycles atomic.Int64

	reloadLatencyNs    atomic.Int64
	reloadLatencyCount atomic.Int64

	running atomic.Int32

	source     atomic.Pointer[componentSource]
	registered atomic.Bool
}

// componentSource reads the live counters of a running session.
type componentSource struct {
	layer      func() layer.Stats
	compositor func() compositor.Stats
	surfaces   func() int64
	breaker    func() compositor.BreakerState
	frames     func() render.FrameSnapshot
	engine     func() engine.SimStats
	uiDropped  func() uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ruleNames names governor outcomes by rule number.
var ruleNames = [...]string{
	0:                         "continue",
	layer.RuleStaleResolution: "stale_resolution",
	layer.RuleNotInDanger:     "not_in_danger",
	layer.RuleCommitted:       "committed",
	layer.RuleUncovered:       "uncovered",
	layer.RuleStaleLowRes:     "stale_low_res",
}

// MetricsSnapshot is a point-in-time copy of all metrics. Component
// counters are zero while no session is attached.
type MetricsSnapshot struct {
	Starts        int64
	Stops         int64
	Restarts      int64
	ConfigReloads int64
	ErrorsTotal   int64
	EventsEmitted int64
	EngineEvents  int64
	Gestures      int64
	SurfaceCycles int64
	Running       bool

	ReloadLatencyAvg time.Duration

	FramesSynced     uint64
	LayerUpdates     uint64
	FramesCreated    uint64
	RenderErrors     uint64
	HotPathPanics    uint64
	ViewportMessages uint64
	StaleMessages    uint64
	RejectedMessages uint64
	Resizes          uint64
	ProgressiveCalls uint64
	// ProgressiveDecisions counts governor outcomes by rule name.
	ProgressiveDecisions map[string]uint64

	CompositorCreations uint64
	CompositorPauses    uint64
	CompositorResumes   uint64
	StaleResumes        uint64
	SurfaceFailures     uint64
	LiveSurfaces        int64
	Breaker             string

	FPS                float64
	Frames             uint64
	DroppedFrames      uint64
	CheckerboardFrames uint64
	ProgressiveAborts  uint64
	AverageFrameTime   time.Duration

	EngineResizes      uint64
	EngineViewports    uint64
	EngineScrolls      uint64
	EngineMotion       uint64
	EngineScriptErrors uint64
	UITasksDropped     uint64
}

// RegisterExpvar publishes the metrics under layersync_* names. Only the
// first call has an effect, so only one Metrics per process can be
// published.
func (m *Metrics) RegisterExpvar() {
	if m.registered.Swap(true) {
		return
	}
	counter := func(name string, v *atomic.Int64) {
		expvar.Publish("layersync_"+name, expvar.Func(func() any { return v.Load() }))
	}
	counter("starts_total", &m.starts)
	counter("stops_total", &m.stops)
	counter("restarts_total", &m.restarts)
	counter("config_reloads_total", &m.configReloads)
	counter("errors_total", &m.errorsTotal)
	counter("events_emitted_total", &m.eventsEmitted)
	counter("engine_events_total", &m.engineEvents)
	counter("gestures_total", &m.gestures)
	counter("surface_cycles_total", &m.surfaceCycles)
	expvar.Publish("layersync_running", expvar.Func(func() any { return m.running.Load() }))
	expvar.Publish("layersync_session", expvar.Func(func() any { return m.Snapshot() }))
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Starts:           m.starts.Load(),
		Stops:            m.stops.Load(),
		Restarts:         m.restarts.Load(),
		ConfigReloads:    m.configReloads.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		EventsEmitted:    m.eventsEmitted.Load(),
		EngineEvents:     m.engineEvents.Load(),
		Gestures:         m.gestures.Load(),
		SurfaceCycles:    m.surfaceCycles.Load(),
		Running:          m.running.Load() > 0,
		ReloadLatencyAvg: safeDivide(m.reloadLatencyNs.Load(), m.reloadLatencyCount.Load()),
	}
	src := m.source.Load()
	if src == nil {
		return s
	}

	ls := src.layer()
	s.FramesSynced = ls.FramesSynced
	s.LayerUpdates = ls.LayerUpdates
	s.FramesCreated = ls.FramesCreated
	s.RenderErrors = ls.RenderErrors
	s.HotPathPanics = ls.HotPathPanics
	s.ViewportMessages = ls.ViewportMessages
	s.StaleMessages = ls.StaleMessages
	s.RejectedMessages = ls.RejectedMessages
	s.Resizes = ls.Resizes
	s.ProgressiveCalls = ls.ProgressiveCalls
	s.ProgressiveDecisions = make(map[string]uint64, len(ruleNames))
	for rule, n := range ls.Decisions {
		if rule < len(ruleNames) {
			s.ProgressiveDecisions[ruleNames[rule]] = n
		}
	}

	cs := src.compositor()
	s.CompositorCreations = cs.Creations
	s.CompositorPauses = cs.Pauses
	s.CompositorResumes = cs.Resumes
	s.StaleResumes = cs.StaleResumes
	s.SurfaceFailures = cs.SurfaceFailures
	s.LiveSurfaces = src.surfaces()
	s.Breaker = src.breaker().String()

	fs := src.frames()
	s.FPS = fs.FPS
	s.Frames = fs.Frames
	s.DroppedFrames = fs.Dropped
	s.CheckerboardFrames = fs.Checkerboard
	s.ProgressiveAborts = fs.ProgressiveAbort
	s.AverageFrameTime = fs.AverageFrameTime

	es := src.engine()
	s.EngineResizes = es.Resizes
	s.EngineViewports = es.ViewportEvents
	s.EngineScrolls = es.ScrollChanges
	s.EngineMotion = es.MotionEvents
	s.EngineScriptErrors = es.ScriptErrors
	s.UITasksDropped = src.uiDropped()
	return s
}

func (m *Metrics) attach(src *componentSource) { m.source.Store(src) }
func (m *Metrics) detach()                     { m.source.Store(nil) }

func (m *Metrics) IncrementStarts()        { m.starts.Add(1) }
func (m *Metrics) IncrementStops()         { m.stops.Add(1) }
func (m *Metrics) IncrementRestarts()      { m.restarts.Add(1) }
func (m *Metrics) IncrementConfigReloads() { m.configReloads.Add(1) }
func (m *Metrics) IncrementErrors()        { m.errorsTotal.Add(1) }
func (m *Metrics) IncrementEventsEmitted() { m.eventsEmitted.Add(1) }
func (m *Metrics) IncrementEngineEvents()  { m.engineEvents.Add(1) }
func (m *Metrics) IncrementGestures()      { m.gestures.Add(1) }
func (m *Metrics) IncrementSurfaceCycles() { m.surfaceCycles.Add(1) }

// SetRunning updates the running state gauge.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.running.Store(1)
	} else {
		m.running.Store(0)
	}
}

// RecordReloadLatency records the duration of a configuration reload.
func (m *Metrics) RecordReloadLatency(d time.Duration) {
	m.reloadLatencyNs.Add(d.Nanoseconds())
	m.reloadLatencyCount.Add(1)
}

// Reset clears the lifecycle counters. Useful for testing.
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Int64{
		&m.starts, &m.stops, &m.restarts, &m.configReloads, &m.errorsTotal,
		&m.eventsEmitted, &m.engineEvents, &m.gestures, &m.surfaceCycles,
		&m.reloadLatencyNs, &m.reloadLatencyCount,
	} {
		c.Store(0)
	}
	m.running.Store(0)
}

func safeDivide(total, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(total / count)
}

var defaultMetrics = NewMetrics()

// DefaultMetrics returns the process wide Metrics instance.
func DefaultMetrics() *Metrics {
	return defaultMetrics
}
