// Package geom provides the float geometry shared by the viewport layer.
// Rectangles use edge coordinates (left, top, right, bottom) because every
// producer and consumer of viewport data in this module speaks in edges.
package geom

import "math"

// PointF is a point or vector in float coordinates.
type PointF struct {
	X, Y float64
}

// Add returns p+q.
func (p PointF) Add(q PointF) PointF { return PointF{p.X + q.X, p.Y + q.Y} }

// Sub returns p-q.
func (p PointF) Sub(q PointF) PointF { return PointF{p.X - q.X, p.Y - q.Y} }

// Scale returns p with both coordinates multiplied by s.
func (p PointF) Scale(s float64) PointF { return PointF{p.X * s, p.Y * s} }

// IsZero reports whether both coordinates are exactly zero.
func (p PointF) IsZero() bool { return p.X == 0 && p.Y == 0 }

// IsFinite reports whether neither coordinate is NaN or infinite.
func (p PointF) IsFinite() bool { return isFinite(p.X) && isFinite(p.Y) }

// IntSize is a width/height pair in whole device pixels.
type IntSize struct {
	Width, Height int
}

// RectF is an axis aligned rectangle described by its edges.
type RectF struct {
	Left, Top, Right, Bottom float64
}

// Rect is shorthand for RectF{l, t, r, b}.
func Rect(l, t, r, b float64) RectF { return RectF{Left: l, Top: t, Right: r, Bottom: b} }

// RectXYWH builds a rectangle from an origin and a size.
func RectXYWH(x, y, w, h float64) RectF { return RectF{x, y, x + w, y + h} }

// Width returns the horizontal extent.
func (r RectF) Width() float64 { return r.Right - r.Left }

// Height returns the vertical extent.
func (r RectF) Height() float64 { return r.Bottom - r.Top }

// IsEmpty reports whether the rectangle has no area.
func (r RectF) IsEmpty() bool { return r.Left >= r.Right || r.Top >= r.Bottom }

// IsFinite reports whether every edge is a finite number.
func (r RectF) IsFinite() bool {
	return isFinite(r.Left) && isFinite(r.Top) && isFinite(r.Right) && isFinite(r.Bottom)
}

// Normalize collapses an inverted rectangle to an empty one anchored at its
// left/top edge. Well formed rectangles are returned unchanged.
func (r RectF) Normalize() RectF {
	if r.Right < r.Left {
		r.Right = r.Left
	}
	if r.Bottom < r.Top {
		r.Bottom = r.Top
	}
	return r
}

// Offset returns r translated by (dx, dy).
func (r RectF) Offset(dx, dy float64) RectF {
	return RectF{r.Left + dx, r.Top + dy, r.Right + dx, r.Bottom + dy}
}

// Scale multiplies every edge by s.
func (r RectF) Scale(s float64) RectF {
	return RectF{r.Left * s, r.Top * s, r.Right * s, r.Bottom * s}
}

// ScaleAndRound scales and rounds every edge to the nearest integer.
func (r RectF) ScaleAndRound(s float64) RectF {
	return RectF{
		math.Round(r.Left * s),
		math.Round(r.Top * s),
		math.Round(r.Right * s),
		math.Round(r.Bottom * s),
	}
}

// Intersect returns the overlap of r and o. The result is empty when they
// do not overlap.
func (r RectF) Intersect(o RectF) RectF {
	out := RectF{
		math.Max(r.Left, o.Left),
		math.Max(r.Top, o.Top),
		math.Min(r.Right, o.Right),
		math.Min(r.Bottom, o.Bottom),
	}
	return out.Normalize()
}

// Contains reports whether o lies completely inside r.
func (r RectF) Contains(o RectF) bool {
	return r.Left <= o.Left && r.Top <= o.Top && r.Right >= o.Right && r.Bottom >= o.Bottom
}

// ContainsPoint reports whether p lies inside r (right/bottom exclusive).
func (r RectF) ContainsPoint(p PointF) bool {
	return p.X >= r.Left && p.X < r.Right && p.Y >= r.Top && p.Y < r.Bottom
}

// Expand grows each edge outward by the matching margin.
func (r RectF) Expand(m RectF) RectF {
	return RectF{r.Left - m.Left, r.Top - m.Top, r.Right + m.Right, r.Bottom + m.Bottom}
}

// Equal reports exact equality.
func (r RectF) Equal(o RectF) bool { return r == o }

// FuzzyEqual reports equality of every edge within eps.
func (r RectF) FuzzyEqual(o RectF, eps float64) bool {
	return FuzzyEqual(r.Left, o.Left, eps) && FuzzyEqual(r.Top, o.Top, eps) &&
		FuzzyEqual(r.Right, o.Right, eps) && FuzzyEqual(r.Bottom, o.Bottom, eps)
}

// DefaultEpsilon is the tolerance used by FuzzyEqual callers that have no
// configured value.
const DefaultEpsilon = 1e-4

// FuzzyEqual compares a and b with a relative tolerance of eps, falling back
// to an absolute comparison near zero.
func FuzzyEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool { return isFinite(f) }
