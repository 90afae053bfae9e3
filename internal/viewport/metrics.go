// Package viewport defines the immutable viewport snapshot shared between the
// UI, compositor and engine contexts, the display port requested from the
// engine, and the strategies that compute display ports.
//
// Metrics values are never mutated in place. Every With* method returns a
// new value, so a reader that obtained a Metrics always sees a consistent
// snapshot even while writers replace the current one.
package viewport

import (
	"errors"
	"fmt"
	"math"

	"github.com/opd-ai/go-layersync/internal/geom"
)

// ErrInvalidZoom is returned when a zoom factor is not a positive finite number.
var ErrInvalidZoom = errors.New("zoom factor must be positive and finite")

// ErrNonFiniteGeometry is returned when a rectangle or origin contains NaN or Inf.
var ErrNonFiniteGeometry = errors.New("geometry contains non-finite values")

// Metrics is an immutable snapshot of the viewport: zoom, scroll origin,
// viewport size and page bounds in device and CSS pixels.
type Metrics struct {
	// ZoomFactor converts CSS pixels to device pixels.
	ZoomFactor float64
	// Origin is the scroll position of the viewport's top-left corner in
	// device pixels.
	Origin geom.PointF
	// ViewportSize is the on-screen size in device pixels.
	ViewportSize geom.IntSize
	// PageRect is the document bounds in device pixels.
	PageRect geom.RectF
	// CSSPageRect is the document bounds in CSS pixels.
	CSSPageRect geom.RectF
	// IsRTL marks right-to-left documents.
	IsRTL bool
}

// New returns metrics for a viewport of the given size at zoom 1 with the
// page collapsed onto the viewport.
func New(width, height int) Metrics {
	page := geom.Rect(0, 0, float64(width), float64(height))
	return Metrics{
		ZoomFactor:   1,
		ViewportSize: geom.IntSize{Width: width, Height: height},
		PageRect:     page,
		CSSPageRect:  page,
	}
}

// Width returns the viewport width in device pixels.
func (m Metrics) Width() float64 { return float64(m.ViewportSize.Width) }

// Height returns the viewport height in device pixels.
func (m Metrics) Height() float64 { return float64(m.ViewportSize.Height) }

// Viewport returns the visible rectangle in device pixels.
func (m Metrics) Viewport() geom.RectF {
	return geom.RectXYWH(m.Origin.X, m.Origin.Y, m.Width(), m.Height())
}

// CSSViewport returns the visible rectangle in CSS pixels.
func (m Metrics) CSSViewport() geom.RectF {
	return m.Viewport().Scale(1 / m.ZoomFactor)
}

// PageWidth returns the page width in device pixels.
func (m Metrics) PageWidth() float64 { return m.PageRect.Width() }

// PageHeight returns the page height in device pixels.
func (m Metrics) PageHeight() float64 { return m.PageRect.Height() }

// VisiblePage returns the part of the viewport that overlaps the page.
func (m Metrics) VisiblePage() geom.RectF {
	return m.Viewport().Intersect(m.PageRect)
}

// WithViewportSize returns a copy with a new viewport size.
func (m Metrics) WithViewportSize(width, height int) Metrics {
	m.ViewportSize = geom.IntSize{Width: width, Height: height}
	return m
}

// WithOrigin returns a copy scrolled to the given origin.
func (m Metrics) WithOrigin(x, y float64) Metrics {
	m.Origin = geom.PointF{X: x, Y: y}
	return m
}

// WithZoomFactor returns a copy with a new zoom factor. The page rectangles
// are left alone; callers that change zoom must also supply a matching page
// rectangle through WithPageRect or use ScaleTo.
func (m Metrics) WithZoomFactor(zoom float64) Metrics {
	m.ZoomFactor = zoom
	return m
}

// WithPageRect returns a copy with new page bounds. rect must be cssRect
// scaled by the zoom factor of the result.
func (m Metrics) WithPageRect(rect, cssRect geom.RectF) Metrics {
	m.PageRect = rect
	m.CSSPageRect = cssRect
	return m
}

// WithRTL returns a copy with the right-to-left flag set to rtl.
func (m Metrics) WithRTL(rtl bool) Metrics {
	m.IsRTL = rtl
	return m
}

// OffsetBy returns a copy scrolled by (dx, dy) device pixels.
func (m Metrics) OffsetBy(dx, dy float64) Metrics {
	m.Origin = m.Origin.Add(geom.PointF{X: dx, Y: dy})
	return m
}

// ScaleTo changes the zoom factor keeping the CSS point under focus fixed
// on screen. The device page rectangle is rescaled from the CSS one.
func (m Metrics) ScaleTo(zoom float64, focus geom.PointF) Metrics {
	ratio := zoom / m.ZoomFactor
	origin := m.Origin.Add(focus).Scale(ratio).Sub(focus)
	m.Origin = origin
	m.ZoomFactor = zoom
	m.PageRect = m.CSSPageRect.Scale(zoom)
	return m
}

// ClampToPageBounds shifts the viewport so it does not extend past the page
// edges. When the viewport is larger than the page on an axis it is pinned
// to the page's leading edge (the trailing edge for RTL documents on x).
func (m Metrics) ClampToPageBounds() Metrics {
	vp := m.Viewport()
	page := m.PageRect

	if m.IsRTL {
		if vp.Left < page.Left {
			vp = vp.Offset(page.Left-vp.Left, 0)
		}
		if vp.Right > page.Right {
			vp = vp.Offset(page.Right-vp.Right, 0)
		}
	} else {
		if vp.Right > page.Right {
			vp = vp.Offset(page.Right-vp.Right, 0)
		}
		if vp.Left < page.Left {
			vp = vp.Offset(page.Left-vp.Left, 0)
		}
	}
	if vp.Bottom > page.Bottom {
		vp = vp.Offset(0, page.Bottom-vp.Bottom)
	}
	if vp.Top < page.Top {
		vp = vp.Offset(0, page.Top-vp.Top)
	}

	m.Origin = geom.PointF{X: vp.Left, Y: vp.Top}
	return m
}

// FuzzyEquals reports whether two snapshots describe the same viewport
// within eps. Page rectangles and zoom are compared as well as the origin.
func (m Metrics) FuzzyEquals(o Metrics, eps float64) bool {
	return geom.FuzzyEqual(m.ZoomFactor, o.ZoomFactor, eps) &&
		geom.FuzzyEqual(m.Origin.X, o.Origin.X, eps) &&
		geom.FuzzyEqual(m.Origin.Y, o.Origin.Y, eps) &&
		m.ViewportSize == o.ViewportSize &&
		m.PageRect.FuzzyEqual(o.PageRect, eps) &&
		m.CSSPageRect.FuzzyEqual(o.CSSPageRect, eps)
}

// Validate rejects snapshots that must not enter shared state: a zoom that
// is not a positive finite number, or non-finite coordinates.
func (m Metrics) Validate() error {
	if !geom.IsFinite(m.ZoomFactor) || m.ZoomFactor <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidZoom, m.ZoomFactor)
	}
	if !m.Origin.IsFinite() {
		return fmt.Errorf("%w: origin %v", ErrNonFiniteGeometry, m.Origin)
	}
	if !m.PageRect.IsFinite() || !m.CSSPageRect.IsFinite() {
		return fmt.Errorf("%w: page %v css %v", ErrNonFiniteGeometry, m.PageRect, m.CSSPageRect)
	}
	return nil
}

// Sanitize validates m and normalizes inverted page rectangles and negative
// viewport sizes. The returned snapshot is safe to publish.
func Sanitize(m Metrics) (Metrics, error) {
	if err := m.Validate(); err != nil {
		return Metrics{}, err
	}
	m.PageRect = m.PageRect.Normalize()
	m.CSSPageRect = m.CSSPageRect.Normalize()
	if m.ViewportSize.Width < 0 {
		m.ViewportSize.Width = 0
	}
	if m.ViewportSize.Height < 0 {
		m.ViewportSize.Height = 0
	}
	return m, nil
}

// String formats the snapshot for logs.
func (m Metrics) String() string {
	return fmt.Sprintf("zoom=%.3f origin=(%.1f,%.1f) size=%dx%d page=[%.1f %.1f %.1f %.1f] rtl=%t",
		m.ZoomFactor, m.Origin.X, m.Origin.Y, m.ViewportSize.Width, m.ViewportSize.Height,
		m.PageRect.Left, m.PageRect.Top, m.PageRect.Right, m.PageRect.Bottom, m.IsRTL)
}

// clampf bounds v to [lo, hi]. When lo > hi the result is lo.
func clampf(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
