package viewport

import (
	"fmt"

	"github.com/opd-ai/go-layersync/internal/geom"
)

// DisplayPort describes the page region, in device pixels at Resolution,
// that the engine should rasterize ahead of what is visible.
type DisplayPort struct {
	Left, Top, Right, Bottom float64
	Resolution               float64
}

// NewDisplayPort builds a display port from a rectangle and resolution.
func NewDisplayPort(r geom.RectF, resolution float64) DisplayPort {
	return DisplayPort{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom, Resolution: resolution}
}

// Rect returns the covered region.
func (d DisplayPort) Rect() geom.RectF { return geom.Rect(d.Left, d.Top, d.Right, d.Bottom) }

// Width returns the horizontal extent.
func (d DisplayPort) Width() float64 { return d.Right - d.Left }

// Height returns the vertical extent.
func (d DisplayPort) Height() float64 { return d.Bottom - d.Top }

// Area returns the covered area in square device pixels.
func (d DisplayPort) Area() float64 { return d.Width() * d.Height() }

// Contains reports whether r lies entirely inside the display port.
func (d DisplayPort) Contains(r geom.RectF) bool { return d.Rect().Contains(r) }

// FuzzyEquals compares every edge and the resolution within eps.
func (d DisplayPort) FuzzyEquals(o DisplayPort, eps float64) bool {
	return d.Rect().FuzzyEqual(o.Rect(), eps) && geom.FuzzyEqual(d.Resolution, o.Resolution, eps)
}

// WithinTolerance reports whether every edge of d is at most tol device
// pixels away from the matching edge of o. Resolution is not compared.
func (d DisplayPort) WithinTolerance(o DisplayPort, tol float64) bool {
	return abs(d.Left-o.Left) <= tol && abs(d.Top-o.Top) <= tol &&
		abs(d.Right-o.Right) <= tol && abs(d.Bottom-o.Bottom) <= tol
}

func (d DisplayPort) String() string {
	return fmt.Sprintf("dp=[%.1f %.1f %.1f %.1f]@%.3f", d.Left, d.Top, d.Right, d.Bottom, d.Resolution)
}

// ViewTransform is the per-frame transform handed to the compositor.
type ViewTransform struct {
	X, Y  float64
	Scale float64
}

// IdentityTransform is returned when a frame cannot be synchronized.
var IdentityTransform = ViewTransform{Scale: 1}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
