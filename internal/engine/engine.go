// Package engine defines the contract between the layer client and the page
// layout engine, and ships a Lua scripted engine simulator used by the demo
// and by integration tests.
//
// Outbound requests go through the Engine interface and never block.
// Inbound notifications are typed Event values delivered on a channel.
package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// Engine receives viewport related requests from the layer client. Every
// method is fire and forget.
type Engine interface {
	// NotifyResize reports a new viewport and screen size in device pixels.
	// A non-zero paintSyncID is echoed by the GeometryChanged or
	// PageRectChanged event that answers the resize.
	NotifyResize(width, height, screenWidth, screenHeight int, paintSyncID uint32)
	// SendViewportEvent asks the engine to rasterize dp for m.
	SendViewportEvent(m viewport.Metrics, dp viewport.DisplayPort)
	// SendScrollChanged carries a JSON encoded ScrollChange.
	SendScrollChanged(payload []byte)
	// SendMotionEvent injects a pointer event.
	SendMotionEvent(ev MotionEvent)
}

// ScrollChange is the payload correlating a scroll with a paint sync id.
// X and Y are CSS pixels.
type ScrollChange struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	ID uint32  `json:"id"`
}

// Encode marshals the change to its wire form.
func (s ScrollChange) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeScrollChange parses a payload produced by Encode.
func DecodeScrollChange(payload []byte) (ScrollChange, error) {
	var s ScrollChange
	if err := json.Unmarshal(payload, &s); err != nil {
		return ScrollChange{}, fmt.Errorf("decode scroll change: %w", err)
	}
	return s, nil
}

// Action is a motion event action code. Values follow the Android
// MotionEvent constants the engine expects.
type Action int

const (
	ActionDown        Action = 0
	ActionUp          Action = 1
	ActionMove        Action = 2
	ActionCancel      Action = 3
	ActionHoverMove   Action = 7
	ActionPointerDown Action = 5
	ActionPointerUp   Action = 6
)

func (a Action) String() string {
	switch a {
	case ActionDown:
		return "down"
	case ActionUp:
		return "up"
	case ActionMove:
		return "move"
	case ActionCancel:
		return "cancel"
	case ActionHoverMove:
		return "hover_move"
	case ActionPointerDown:
		return "pointer_down"
	case ActionPointerUp:
		return "pointer_up"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Source identifies the input device class.
type Source int

const (
	SourceTouchscreen Source = iota
	SourceMouse
)

// Pointer is one contact point of a motion event, in layer coordinates.
type Pointer struct {
	ID          int
	X, Y        float64
	Pressure    float64
	Orientation float64
}

// MotionEvent is a synthesized pointer event.
type MotionEvent struct {
	Action Action
	// Index is the position in Pointers of the pointer that changed.
	Index    int
	Pointers []Pointer
	Source   Source
	Time     time.Time
}

// Event is an inbound notification from the engine.
type Event interface {
	eventName() string
}

// Ready reports that the engine can accept viewport messages.
type Ready struct{}

// FirstPaintViewport reports that a new document was painted for the first
// time. Offsets are CSS pixels.
type FirstPaintViewport struct {
	OffsetX, OffsetY float64
	Zoom             float64
	CSSPageRect      geom.RectF
	IsRTL            bool
}

// PageRectChanged reports a new page size for the current document.
type PageRectChanged struct {
	CSSPageRect geom.RectF
	// PaintSyncID echoes the id of the resize that produced this change,
	// or 0.
	PaintSyncID uint32
}

// GeometryChanged reports that layout changed without a new page size.
type GeometryChanged struct {
	PaintSyncID uint32
}

// ViewportUpdate is the engine's view of the viewport, echoed back after a
// viewport event or scroll change.
type ViewportUpdate struct {
	Metrics        viewport.Metrics
	PageSizeUpdate bool
	TabID          int
	// PaintSyncID echoes the id of the scroll change that produced this
	// update, or 0.
	PaintSyncID uint32
}

// CompositorResumed acknowledges a resume request.
type CompositorResumed struct {
	Generation uint64
}

func (Ready) eventName() string              { return "ready" }
func (FirstPaintViewport) eventName() string { return "first_paint_viewport" }
func (PageRectChanged) eventName() string    { return "page_rect_changed" }
func (GeometryChanged) eventName() string    { return "geometry_changed" }
func (ViewportUpdate) eventName() string     { return "viewport_update" }
func (CompositorResumed) eventName() string  { return "compositor_resumed" }

// Name returns a stable name for ev, used in logs and metrics.
func Name(ev Event) string {
	if ev == nil {
		return "nil"
	}
	return ev.eventName()
}
