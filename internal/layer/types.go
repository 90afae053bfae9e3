package layer

import (
	"log/slog"
	"time"

	"github.com/opd-ai/go-layersync/internal/engine"
	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// MessageKind distinguishes viewport messages from the engine.
type MessageKind int

const (
	// MessageUpdate carries the engine's full view of the viewport.
	MessageUpdate MessageKind = iota
	// MessagePageSize only carries a new page size.
	MessagePageSize
)

func (k MessageKind) String() string {
	if k == MessagePageSize {
		return "page_size"
	}
	return "update"
}

// DocumentState tracks which document the client is synchronized with.
type DocumentState int32

const (
	NoDocument DocumentState = iota
	FirstPaintPending
	Active
)

func (s DocumentState) String() string {
	switch s {
	case NoDocument:
		return "no_document"
	case FirstPaintPending:
		return "first_paint_pending"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// PaintState tracks the first composite of a document.
type PaintState int32

const (
	PaintStart PaintState = iota
	PaintBeforeFirst
	PaintAfterFirst
)

// PanZoom is the gesture physics collaborator. Velocity is called from the
// compositor goroutine and must be safe for concurrent use.
type PanZoom interface {
	// Velocity returns the current pan velocity in device pixels per frame.
	Velocity() geom.PointF
	// AbortAnimation stops any running fling or zoom animation. Calling it
	// with nothing running is a no-op.
	AbortAnimation()
	// AdjustScrollForSurfaceShift re-anchors a running animation after the
	// client shifted the viewport by delta.
	AdjustScrollForSurfaceShift(delta geom.PointF)
}

// NativeWindow is the drawable window behind a view.
type NativeWindow interface {
	Size() (width, height int)
}

// View is the surface layer hosting the compositor output.
type View interface {
	// Post runs fn on the UI loop.
	Post(fn func())
	// RequestRender asks for a composite.
	RequestRender()
	// NativeWindow returns the drawable window, or nil while detached.
	NativeWindow() NativeWindow
	// PaintState and SetPaintState are called from the compositor and the
	// UI loop and must be safe for concurrent use.
	PaintState() PaintState
	SetPaintState(PaintState)
}

// TabSelector reports which tab is selected.
type TabSelector interface {
	SelectedTabID() int
}

// ScreenSizer reports the physical screen size.
type ScreenSizer interface {
	ScreenSize() (width, height int, err error)
}

// Frame is handed to the renderer for one composite.
type Frame struct {
	Metrics     viewport.Metrics
	DisplayPort viewport.DisplayPort
	// Layer is the root layer region last reported by SyncViewportInfo, at
	// Resolution.
	Layer      geom.RectF
	Resolution float64
}

// Renderer produces frames. It runs on the compositor goroutine.
type Renderer interface {
	RenderFrame(f *Frame) error
}

// ProgressiveUpdateData is the answer to a progressive update callback.
type ProgressiveUpdateData struct {
	Abort bool
	// Rule is the governor rule that decided, 0 when drawing continues
	// without a rule firing.
	Rule int
}

// Options configures a Client.
type Options struct {
	Engine     engine.Engine
	PanZoom    PanZoom
	View       View
	Tabs       TabSelector
	Screen     ScreenSizer
	Calculator *viewport.Calculator
	Logger     *slog.Logger

	// ZoomEpsilon is the tolerance for comparing zoom factors and metrics.
	ZoomEpsilon float64
	// ProgressiveTolerance is the per edge distance, in device pixels, under
	// which a drawn region counts as the committed display port.
	ProgressiveTolerance float64
	// VisibleSlack shrinks the visible area before checking coverage.
	VisibleSlack float64
	// RecordDrawTimes enables draw timing samples for the calculator.
	RecordDrawTimes bool
	// DrawTimingCapacity bounds the draw timing queue.
	DrawTimingCapacity int
	// ScreenFallbackWidth and ScreenFallbackHeight are reported to the
	// engine when the screen size cannot be queried.
	ScreenFallbackWidth, ScreenFallbackHeight int

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// DefaultOptions returns the default tolerances.
func DefaultOptions() Options {
	return Options{
		ZoomEpsilon:          geom.DefaultEpsilon,
		ProgressiveTolerance: 2,
		VisibleSlack:         1,
		RecordDrawTimes:      true,
		DrawTimingCapacity:   16,
		ScreenFallbackWidth:  1080,
		ScreenFallbackHeight: 1920,
	}
}
