package layersync

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/config"
	"github.com/opd-ai/go-layersync/internal/engine"
	"github.com/opd-ai/go-layersync/internal/lua"
	"github.com/opd-ai/go-layersync/internal/pointer"
	"github.com/opd-ai/go-layersync/internal/uithread"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// ErrNotRunning is returned by operations that need a started session.
var ErrNotRunning = errors.New("layersync: session not running")

// ErrAlreadyRunning is returned by Start on a running session.
var ErrAlreadyRunning = errors.New("layersync: session already running")

// ErrorCategory classifies errors for alerting.
type ErrorCategory int

const (
	ErrorCategoryUnknown ErrorCategory = iota
	// ErrorCategoryBoundary is for malformed geometry or input crossing
	// into the layer client. The data is clamped or rejected.
	ErrorCategoryBoundary
	// ErrorCategorySurface is for surface allocation and compositor
	// lifecycle failures. They are retried on the next surface change.
	ErrorCategorySurface
	// ErrorCategoryDesync is for engine messages that no longer match the
	// client's state, such as stale resize acknowledgements.
	ErrorCategoryDesync
	// ErrorCategoryHotPath is for failures recovered on the compositor
	// goroutine. The frame draws nothing.
	ErrorCategoryHotPath
	// ErrorCategoryConfig is for configuration parsing and validation.
	ErrorCategoryConfig
	// ErrorCategoryEngine is for engine script and queue failures.
	ErrorCategoryEngine

	categoryCount
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryBoundary:
		return "boundary"
	case ErrorCategorySurface:
		return "surface"
	case ErrorCategoryDesync:
		return "desync"
	case ErrorCategoryHotPath:
		return "hotpath"
	case ErrorCategoryConfig:
		return "config"
	case ErrorCategoryEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// ErrorSeverity indicates the severity level of an error.
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with tracking metadata.
type CategorizedError struct {
	Err       error
	Category  ErrorCategory
	Severity  ErrorSeverity
	Timestamp time.Time
	// Context holds extra key-value metadata.
	Context map[string]string
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s/%s] (no error)", e.Severity, e.Category)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Severity, e.Category, e.Err.Error())
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorizedError creates a CategorizedError stamped with the current
// time.
func NewCategorizedError(err error, category ErrorCategory, severity ErrorSeverity) *CategorizedError {
	return &CategorizedError{
		Err:       err,
		Category:  category,
		Severity:  severity,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context and returns the error.
func (e *CategorizedError) WithContext(key, value string) *CategorizedError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Categorize classifies err by the sentinel errors it wraps. An error that
// already is a CategorizedError keeps its classification.
func Categorize(err error) *CategorizedError {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce
	}
	category, severity := ErrorCategoryUnknown, SeverityError
	switch {
	case errors.Is(err, viewport.ErrInvalidZoom),
		errors.Is(err, viewport.ErrNonFiniteGeometry),
		errors.Is(err, pointer.ErrInvalidCoordinates),
		errors.Is(err, pointer.ErrUnknownPointer):
		category, severity = ErrorCategoryBoundary, SeverityWarning
	case errors.Is(err, compositor.ErrInvalidSize),
		errors.Is(err, compositor.ErrBreakerOpen):
		category = ErrorCategorySurface
	case errors.Is(err, lua.ErrLimitExceeded),
		errors.Is(err, lua.ErrNoFunction),
		errors.Is(err, engine.ErrStopped):
		category = ErrorCategoryEngine
	case errors.Is(err, uithread.ErrQueueFull):
		category, severity = ErrorCategoryDesync, SeverityWarning
	case errors.Is(err, config.ErrInvalidConfig):
		category = ErrorCategoryConfig
	}
	return NewCategorizedError(err, category, severity)
}

// AlertCondition defines when an alert should be triggered.
type AlertCondition struct {
	// Category filters alerts to a specific error category.
	// Use ErrorCategoryUnknown to match all categories.
	Category    ErrorCategory
	MinSeverity ErrorSeverity
	// Threshold errors within Window trigger the alert.
	Threshold int
	Window    time.Duration
}

// AlertHandler is called when an alert condition is met. It runs on its
// own goroutine; panics are recovered.
type AlertHandler func(condition AlertCondition, errorCount int, recentErrors []CategorizedError)

// ErrorTracker keeps a sliding window of recent errors and checks alert
// conditions. Thread-safe for concurrent use.
type ErrorTracker struct {
	mu            sync.RWMutex
	errors        []CategorizedError
	maxErrors     int
	retentionTime time.Duration
	conditions    []AlertCondition
	handlers      []AlertHandler
	lastAlert     map[int]time.Time
	alertCooldown time.Duration
	now           func() time.Time

	totals [categoryCount]atomic.Int64
}

// ErrorTrackerConfig configures an ErrorTracker.
type ErrorTrackerConfig struct {
	// MaxErrors is the maximum number of errors to retain (default: 1000).
	MaxErrors int
	// RetentionTime is how long to retain errors (default: 1 hour).
	RetentionTime time.Duration
	// AlertCooldown is the minimum time between repeated alerts (default: 5 minutes).
	AlertCooldown time.Duration
}

// DefaultErrorTrackerConfig returns a configuration with sensible defaults.
func DefaultErrorTrackerConfig() ErrorTrackerConfig {
	return ErrorTrackerConfig{
		MaxErrors:     1000,
		RetentionTime: time.Hour,
		AlertCooldown: 5 * time.Minute,
	}
}

// NewErrorTracker creates a new ErrorTracker with the given configuration.
func NewErrorTracker(cfg ErrorTrackerConfig) *ErrorTracker {
	def := DefaultErrorTrackerConfig()
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if cfg.RetentionTime <= 0 {
		cfg.RetentionTime = def.RetentionTime
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = def.AlertCooldown
	}
	return &ErrorTracker{
		errors:        make([]CategorizedError, 0, min(cfg.MaxErrors, 64)),
		maxErrors:     cfg.MaxErrors,
		retentionTime: cfg.RetentionTime,
		lastAlert:     make(map[int]time.Time),
		alertCooldown: cfg.AlertCooldown,
		now:           time.Now,
	}
}

// AddCondition registers an alert condition to monitor.
func (t *ErrorTracker) AddCondition(cond AlertCondition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conditions = append(t.conditions, cond)
}

// SetAlertHandler registers a handler for all alert conditions. Calling it
// again adds another handler.
func (t *ErrorTracker) SetAlertHandler(handler AlertHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// Record adds an error and checks the alert conditions.
func (t *ErrorTracker) Record(err *CategorizedError) {
	if err == nil {
		return
	}
	if err.Category >= 0 && err.Category < categoryCount {
		t.totals[err.Category].Add(1)
	}

	t.mu.Lock()
	t.errors = append(t.errors, *err)
	if len(t.errors) > t.maxErrors {
		t.errors = t.errors[len(t.errors)-t.maxErrors:]
	}
	t.pruneExpired()
	conditions := append([]AlertCondition(nil), t.conditions...)
	handlers := append([]AlertHandler(nil), t.handlers...)
	t.mu.Unlock()

	for i, cond := range conditions {
		t.checkCondition(i, cond, handlers)
	}
}

// pruneExpired drops errors older than the retention time. Callers hold mu.
func (t *ErrorTracker) pruneExpired() {
	cutoff := t.now().Add(-t.retentionTime)
	start := 0
	for start < len(t.errors) && !t.errors[start].Timestamp.After(cutoff) {
		start++
	}
	if start > 0 {
		t.errors = t.errors[start:]
	}
}

func (t *ErrorTracker) checkCondition(index int, cond AlertCondition, handlers []AlertHandler) {
	now := t.now()
	t.mu.Lock()
	if last, ok := t.lastAlert[index]; ok && now.Sub(last) < t.alertCooldown {
		t.mu.Unlock()
		return
	}
	cutoff := now.Add(-cond.Window)
	var count int
	var matching []CategorizedError
	for _, e := range t.errors {
		if e.Timestamp.Before(cutoff) || e.Severity < cond.MinSeverity {
			continue
		}
		if cond.Category != ErrorCategoryUnknown && e.Category != cond.Category {
			continue
		}
		count++
		if len(matching) < 10 {
			matching = append(matching, e)
		}
	}
	if count < cond.Threshold {
		t.mu.Unlock()
		return
	}
	t.lastAlert[index] = now
	t.mu.Unlock()

	for _, h := range handlers {
		go func(h AlertHandler) {
			defer func() { _ = recover() }()
			h(cond, count, matching)
		}(h)
	}
}

// ErrorRate returns errors per second within window.
func (t *ErrorTracker) ErrorRate(window time.Duration) float64 {
	return t.rate(window, func(CategorizedError) bool { return true })
}

// ErrorRateByCategory returns errors per second of category within window.
func (t *ErrorTracker) ErrorRateByCategory(category ErrorCategory, window time.Duration) float64 {
	return t.rate(window, func(e CategorizedError) bool { return e.Category == category })
}

func (t *ErrorTracker) rate(window time.Duration, match func(CategorizedError) bool) float64 {
	if window <= 0 {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := t.now().Add(-window)
	count := 0
	for _, e := range t.errors {
		if e.Timestamp.After(cutoff) && match(e) {
			count++
		}
	}
	return float64(count) / window.Seconds()
}

// ErrorStats summarizes tracked errors.
type ErrorStats struct {
	// TotalErrors is the number of errors currently retained.
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	ErrorsBySeverity map[ErrorSeverity]int
	// TotalByCategory holds lifetime totals, including pruned errors.
	TotalByCategory map[ErrorCategory]int64
}

// Stats returns a snapshot of error statistics.
func (t *ErrorTracker) Stats() ErrorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := ErrorStats{
		TotalErrors:      len(t.errors),
		ErrorsByCategory: make(map[ErrorCategory]int),
		ErrorsBySeverity: make(map[ErrorSeverity]int),
		TotalByCategory:  make(map[ErrorCategory]int64, categoryCount),
	}
	for _, e := range t.errors {
		stats.ErrorsByCategory[e.Category]++
		stats.ErrorsBySeverity[e.Severity]++
	}
	for c := ErrorCategory(0); c < categoryCount; c++ {
		stats.TotalByCategory[c] = t.totals[c].Load()
	}
	return stats
}

// RecentErrors returns up to limit of the most recent errors, oldest first.
func (t *ErrorTracker) RecentErrors(limit int) []CategorizedError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit <= 0 || len(t.errors) == 0 {
		return nil
	}
	start := max(len(t.errors)-limit, 0)
	return append([]CategorizedError(nil), t.errors[start:]...)
}

// Clear removes all tracked errors. Lifetime totals are kept.
func (t *ErrorTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = t.errors[:0]
	t.lastAlert = make(map[int]time.Time)
}

var (
	defaultErrorTracker     *ErrorTracker
	defaultErrorTrackerOnce sync.Once
)

// DefaultErrorTracker returns the process wide tracker.
func DefaultErrorTracker() *ErrorTracker {
	defaultErrorTrackerOnce.Do(func() {
		defaultErrorTracker = NewErrorTracker(DefaultErrorTrackerConfig())
	})
	return defaultErrorTracker
}
