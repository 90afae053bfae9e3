package viewport

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opd-ai/go-layersync/internal/geom"
)

func testMetrics() Metrics {
	page := geom.Rect(0, 0, 1280, 960)
	return New(640, 480).WithPageRect(page, page)
}

func TestNewMetrics(t *testing.T) {
	m := New(640, 480)
	if m.ZoomFactor != 1 {
		t.Errorf("ZoomFactor = %v, want 1", m.ZoomFactor)
	}
	if m.Viewport() != geom.Rect(0, 0, 640, 480) {
		t.Errorf("Viewport() = %v", m.Viewport())
	}
	if m.PageRect != m.CSSPageRect {
		t.Error("page rect should equal css page rect at zoom 1")
	}
}

func TestMetricsAreValues(t *testing.T) {
	m := testMetrics()
	moved := m.OffsetBy(10, 20)
	if m.Origin != (geom.PointF{}) {
		t.Errorf("original origin changed to %v", m.Origin)
	}
	if moved.Origin != (geom.PointF{X: 10, Y: 20}) {
		t.Errorf("OffsetBy origin = %v", moved.Origin)
	}
}

func TestScaleToKeepsPageInvariant(t *testing.T) {
	m := testMetrics().ScaleTo(2, geom.PointF{})
	want := m.CSSPageRect.Scale(2)
	if m.PageRect != want {
		t.Errorf("PageRect = %v, want %v", m.PageRect, want)
	}
	if m.ZoomFactor != 2 {
		t.Errorf("ZoomFactor = %v, want 2", m.ZoomFactor)
	}
}

func TestScaleToFocus(t *testing.T) {
	m := testMetrics().WithOrigin(100, 100)
	focus := geom.PointF{X: 320, Y: 240}
	scaled := m.ScaleTo(2, focus)
	// The CSS point under the focus stays under the focus.
	before := m.Origin.Add(focus).Scale(1 / m.ZoomFactor)
	after := scaled.Origin.Add(focus).Scale(1 / scaled.ZoomFactor)
	if !geom.FuzzyEqual(before.X, after.X, 1e-9) || !geom.FuzzyEqual(before.Y, after.Y, 1e-9) {
		t.Errorf("focus moved from %v to %v", before, after)
	}
}

func TestClampToPageBounds(t *testing.T) {
	tests := []struct {
		name   string
		origin geom.PointF
		rtl    bool
		want   geom.PointF
	}{
		{"inside", geom.PointF{X: 100, Y: 100}, false, geom.PointF{X: 100, Y: 100}},
		{"past right bottom", geom.PointF{X: 1000, Y: 900}, false, geom.PointF{X: 640, Y: 480}},
		{"negative", geom.PointF{X: -50, Y: -20}, false, geom.PointF{}},
		{"rtl past right", geom.PointF{X: 1000, Y: 0}, true, geom.PointF{X: 640, Y: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMetrics().WithOrigin(tt.origin.X, tt.origin.Y).WithRTL(tt.rtl).ClampToPageBounds()
			if m.Origin != tt.want {
				t.Errorf("origin = %v, want %v", m.Origin, tt.want)
			}
		})
	}
}

func TestClampSmallPagePinsLeadingEdge(t *testing.T) {
	page := geom.Rect(0, 0, 320, 240)
	m := New(640, 480).WithPageRect(page, page).WithOrigin(50, 50).ClampToPageBounds()
	if m.Origin != (geom.PointF{}) {
		t.Errorf("origin = %v, want (0,0)", m.Origin)
	}
}

func TestValidateAndSanitize(t *testing.T) {
	tests := []struct {
		name    string
		m       Metrics
		wantErr error
	}{
		{"ok", testMetrics(), nil},
		{"zero zoom", testMetrics().WithZoomFactor(0), ErrInvalidZoom},
		{"nan zoom", testMetrics().WithZoomFactor(math.NaN()), ErrInvalidZoom},
		{"inf zoom", testMetrics().WithZoomFactor(math.Inf(1)), ErrInvalidZoom},
		{"nan origin", testMetrics().WithOrigin(math.NaN(), 0), ErrNonFiniteGeometry},
		{"inf page", testMetrics().WithPageRect(geom.Rect(0, 0, math.Inf(1), 1), geom.Rect(0, 0, 1, 1)), ErrNonFiniteGeometry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.m)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeNormalizesInvertedPage(t *testing.T) {
	m := testMetrics().WithPageRect(geom.Rect(100, 0, 0, 50), geom.Rect(100, 0, 0, 50))
	got, err := Sanitize(m)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if got.PageRect.Width() != 0 || got.PageRect.Height() != 50 {
		t.Errorf("PageRect = %v, want empty width", got.PageRect)
	}
}

func TestFuzzyEquals(t *testing.T) {
	a := testMetrics()
	b := a.OffsetBy(1e-7, 0)
	if !a.FuzzyEquals(b, geom.DefaultEpsilon) {
		t.Error("tiny offset should compare equal")
	}
	if a.FuzzyEquals(a.OffsetBy(5, 0), geom.DefaultEpsilon) {
		t.Error("5px offset should differ")
	}
	if a.FuzzyEquals(a.WithViewportSize(641, 480), geom.DefaultEpsilon) {
		t.Error("size change should differ")
	}
}

func TestDisplayPortTolerance(t *testing.T) {
	a := DisplayPort{Left: 0, Top: 0, Right: 1024, Bottom: 768, Resolution: 1}
	b := DisplayPort{Left: 1.5, Top: -2, Right: 1026, Bottom: 767, Resolution: 2}
	if !a.WithinTolerance(b, 2) {
		t.Error("expected edges within 2px")
	}
	if a.WithinTolerance(b.withLeft(3), 2) {
		t.Error("expected 3px edge to exceed tolerance")
	}
}

func (d DisplayPort) withLeft(l float64) DisplayPort {
	d.Left = l
	return d
}

func newStrategy(t *testing.T, name string) Strategy {
	t.Helper()
	cfg := DefaultCalculatorConfig()
	cfg.Strategy = name
	s, err := NewStrategy(cfg)
	if err != nil {
		t.Fatalf("NewStrategy(%q): %v", name, err)
	}
	return s
}

func TestVelocityBiasAtRest(t *testing.T) {
	s := newStrategy(t, StrategyVelocityBias)
	dp := s.Calculate(testMetrics(), geom.PointF{})
	want := DisplayPort{Left: 0, Top: 0, Right: 1024, Bottom: 768, Resolution: 1}
	if dp != want {
		t.Errorf("Calculate() = %v, want %v", dp, want)
	}
	if s.AboutToCheckerboard(testMetrics(), geom.PointF{}, dp) {
		t.Error("resting viewport inside its own display port should not be in danger")
	}
}

func TestVelocityBiasLeansIntoMotion(t *testing.T) {
	s := newStrategy(t, StrategyVelocityBias)
	m := testMetrics().WithOrigin(320, 240)
	dp := s.Calculate(m, geom.PointF{X: 20})
	// Moving right: more margin on the right than on the left.
	left := m.Viewport().Left - dp.Left
	right := dp.Right - m.Viewport().Right
	if right <= left {
		t.Errorf("expected right margin (%v) > left margin (%v)", right, left)
	}
	// Axis locked horizontal pan: no vertical growth beyond tile alignment.
	if dp.Height() > m.Height()+2*256 {
		t.Errorf("vertical extent %v too large for axis locked pan", dp.Height())
	}
}

func TestDisplayPortStaysInsidePage(t *testing.T) {
	for _, name := range []string{StrategyVelocityBias, StrategyFixedMargin, StrategyPredictionBias} {
		t.Run(name, func(t *testing.T) {
			s := newStrategy(t, name)
			m := testMetrics().WithOrigin(640, 480)
			dp := s.Calculate(m, geom.PointF{X: 30, Y: 30})
			if !m.PageRect.Contains(dp.Rect()) {
				t.Errorf("display port %v escapes page %v", dp, m.PageRect)
			}
			if dp.Resolution != m.ZoomFactor {
				t.Errorf("resolution = %v, want %v", dp.Resolution, m.ZoomFactor)
			}
		})
	}
}

func TestAboutToCheckerboardWhenScrolledAway(t *testing.T) {
	s := newStrategy(t, StrategyVelocityBias)
	dp := s.Calculate(testMetrics(), geom.PointF{})
	moved := testMetrics().WithOrigin(600, 400)
	if !s.AboutToCheckerboard(moved, geom.PointF{}, dp) {
		t.Error("expected danger when the viewport left the display port")
	}
}

func TestNoMarginStrategy(t *testing.T) {
	s := newStrategy(t, StrategyNoMargin)
	m := testMetrics().WithOrigin(10, 10)
	dp := s.Calculate(m, geom.PointF{X: 50})
	if dp.Rect() != m.Viewport() {
		t.Errorf("Calculate() = %v, want viewport %v", dp.Rect(), m.Viewport())
	}
}

func TestPredictionBiasWidensWindow(t *testing.T) {
	s := newStrategy(t, StrategyPredictionBias).(*predictionBias)
	s.Calculate(testMetrics(), geom.PointF{})

	// A full-viewport draw that took 100ms is six frames at 60fps.
	if !s.DrawTimeUpdate(100*time.Millisecond, 640*480) {
		t.Error("prediction strategy should keep sampling")
	}
	if _, maxF := s.PredictedFrames(); maxF != 3 {
		t.Errorf("max frames = %d, want 3", maxF)
	}

	s.ResetPageState()
	if minF, maxF := s.PredictedFrames(); minF != 0 || maxF != 2 {
		t.Errorf("after reset frames = [%d %d], want [0 2]", minF, maxF)
	}
}

func TestUnknownStrategy(t *testing.T) {
	cfg := DefaultCalculatorConfig()
	cfg.Strategy = "bogus"
	if _, err := NewStrategy(cfg); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestCalculatorSwap(t *testing.T) {
	c := NewCalculator(newStrategy(t, StrategyVelocityBias))
	c.SetStrategy(newStrategy(t, StrategyNoMargin))
	if got := c.Strategy().Name(); got != StrategyNoMargin {
		t.Errorf("Strategy().Name() = %q, want %q", got, StrategyNoMargin)
	}
}
