// Package pointer turns injected touch and mouse requests into engine
// motion events.
package pointer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/opd-ai/go-layersync/internal/engine"
	"github.com/opd-ai/go-layersync/internal/geom"
)

// ErrUnknownPointer is returned when a pointer that is not down is lifted.
var ErrUnknownPointer = errors.New("pointer: unknown pointer id")

// ErrInvalidCoordinates is returned for non-finite screen coordinates.
var ErrInvalidCoordinates = errors.New("pointer: coordinates must be finite")

// Phase is the state of an injected touch point.
type Phase int

const (
	// PhaseContact puts a pointer down or moves one that is already down.
	PhaseContact Phase = iota
	// PhaseRemove lifts a pointer.
	PhaseRemove
	// PhaseHover moves a pointer that is not touching the screen.
	PhaseHover
	// PhaseCancel cancels every active pointer.
	PhaseCancel
)

func (p Phase) String() string {
	switch p {
	case PhaseContact:
		return "contact"
	case PhaseRemove:
		return "remove"
	case PhaseHover:
		return "hover"
	case PhaseCancel:
		return "cancel"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MouseAction is an injected mouse event type.
type MouseAction int

const (
	MouseMove MouseAction = iota
	MousePress
	MouseRelease
)

// Sink receives synthesized events. engine.Engine satisfies it.
type Sink interface {
	SendMotionEvent(ev engine.MotionEvent)
}

// Converter maps view points to engine layer points. layer.Client
// satisfies it.
type Converter interface {
	ConvertViewPointToLayerPoint(p geom.PointF) geom.PointF
}

type contact struct {
	id          int
	screen      geom.PointF
	pressure    float64
	orientation float64
}

// Synthesizer tracks injected pointers. It is safe for concurrent use but
// is normally driven from the UI loop.
type Synthesizer struct {
	sink   Sink
	conv   Converter
	origin func() geom.PointF
	now    func() time.Time
	logger *slog.Logger

	mu          sync.Mutex
	contacts    []contact
	mouseDown   bool
	synthesized uint64
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithViewOrigin sets the function reporting the view's top-left corner in
// screen coordinates. The default origin is (0, 0).
func WithViewOrigin(fn func() geom.PointF) Option {
	return func(s *Synthesizer) { s.origin = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// New returns a synthesizer sending to sink. conv may be nil, in which
// case view coordinates are passed through unchanged.
func New(sink Sink, conv Converter, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		sink:   sink,
		conv:   conv,
		origin: func() geom.PointF { return geom.PointF{} },
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SynthesizeTouch injects one touch point transition.
func (s *Synthesizer) SynthesizeTouch(id int, phase Phase, screenX, screenY, pressure, orientation float64) error {
	if !geom.IsFinite(screenX) || !geom.IsFinite(screenY) {
		return ErrInvalidCoordinates
	}
	c := contact{
		id:          id,
		screen:      geom.PointF{X: screenX, Y: screenY},
		pressure:    clampPressure(pressure),
		orientation: orientation,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch phase {
	case PhaseContact:
		idx := s.indexOf(id)
		action := engine.ActionMove
		if idx < 0 {
			s.contacts = append(s.contacts, c)
			idx = len(s.contacts) - 1
			action = engine.ActionPointerDown
			if len(s.contacts) == 1 {
				action = engine.ActionDown
			}
		} else {
			s.contacts[idx] = c
		}
		s.send(action, idx, s.contacts, engine.SourceTouchscreen)

	case PhaseRemove:
		idx := s.indexOf(id)
		if idx < 0 {
			return fmt.Errorf("%w: %d", ErrUnknownPointer, id)
		}
		s.contacts[idx] = c
		action := engine.ActionPointerUp
		if len(s.contacts) == 1 {
			action = engine.ActionUp
		}
		s.send(action, idx, s.contacts, engine.SourceTouchscreen)
		s.contacts = append(s.contacts[:idx], s.contacts[idx+1:]...)

	case PhaseHover:
		s.send(engine.ActionHoverMove, 0, []contact{c}, engine.SourceTouchscreen)

	case PhaseCancel:
		s.cancelLocked()

	default:
		return fmt.Errorf("pointer: unknown phase %v", phase)
	}
	return nil
}

// SynthesizeMouse injects a mouse event for the primary button.
func (s *Synthesizer) SynthesizeMouse(action MouseAction, screenX, screenY float64) error {
	if !geom.IsFinite(screenX) || !geom.IsFinite(screenY) {
		return ErrInvalidCoordinates
	}
	c := []contact{{screen: geom.PointF{X: screenX, Y: screenY}, pressure: 1}}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch action {
	case MousePress:
		s.mouseDown = true
		s.send(engine.ActionDown, 0, c, engine.SourceMouse)
	case MouseRelease:
		if !s.mouseDown {
			return nil
		}
		s.mouseDown = false
		s.send(engine.ActionUp, 0, c, engine.SourceMouse)
	case MouseMove:
		if s.mouseDown {
			s.send(engine.ActionMove, 0, c, engine.SourceMouse)
		} else {
			c[0].pressure = 0
			s.send(engine.ActionHoverMove, 0, c, engine.SourceMouse)
		}
	default:
		return fmt.Errorf("pointer: unknown mouse action %d", action)
	}
	return nil
}

// Reset cancels every active pointer and releases the mouse button.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.mouseDown = false
}

// Active returns the number of touch points currently down.
func (s *Synthesizer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contacts)
}

// Synthesized returns the number of events sent.
func (s *Synthesizer) Synthesized() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthesized
}

func (s *Synthesizer) cancelLocked() {
	if len(s.contacts) == 0 {
		return
	}
	s.send(engine.ActionCancel, 0, s.contacts, engine.SourceTouchscreen)
	s.contacts = s.contacts[:0]
}

func (s *Synthesizer) indexOf(id int) int {
	for i, c := range s.contacts {
		if c.id == id {
			return i
		}
	}
	return -1
}

// send converts contacts to layer coordinates and hands the event to the
// sink. Callers hold mu.
func (s *Synthesizer) send(action engine.Action, index int, contacts []contact, source engine.Source) {
	origin := s.origin()
	pointers := make([]engine.Pointer, len(contacts))
	for i, c := range contacts {
		p := c.screen.Sub(origin)
		if s.conv != nil {
			p = s.conv.ConvertViewPointToLayerPoint(p)
		}
		pointers[i] = engine.Pointer{
			ID:          c.id,
			X:           p.X,
			Y:           p.Y,
			Pressure:    c.pressure,
			Orientation: c.orientation,
		}
	}
	ev := engine.MotionEvent{
		Action:   action,
		Index:    index,
		Pointers: pointers,
		Source:   source,
		Time:     s.now(),
	}
	s.synthesized++
	s.logger.Debug("synthesized motion event", "action", action, "index", index, "pointers", len(pointers))
	s.sink.SendMotionEvent(ev)
}

func clampPressure(p float64) float64 {
	if !geom.IsFinite(p) {
		return 0
	}
	return math.Max(0, math.Min(1, p))
}
