//go:build !noebiten

package render

import (
	"bytes"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/gofont/gomonobold"

	"github.com/opd-ai/go-layersync/internal/viewport"
)

const (
	defaultFontSize  = 13.0
	lineHeightFactor = 1.2
)

// TextRenderer draws text with the embedded Go Mono Bold face.
type TextRenderer struct {
	fontSource *text.GoTextFaceSource
	fontSize   float64
	mu         sync.RWMutex
}

// NewTextRenderer loads the embedded font.
func NewTextRenderer() (*TextRenderer, error) {
	fontSource, err := text.NewGoTextFaceSource(bytes.NewReader(gomonobold.TTF))
	if err != nil {
		return nil, fmt.Errorf("load embedded font: %w", err)
	}
	return &TextRenderer{
		fontSource: fontSource,
		fontSize:   defaultFontSize,
	}, nil
}

// SetFontSize sets the font size for text rendering.
func (tr *TextRenderer) SetFontSize(size float64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.fontSize = size
}

// FontSize returns the current font size.
func (tr *TextRenderer) FontSize() float64 {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.fontSize
}

// DrawText renders text at the specified position with the given color.
func (tr *TextRenderer) DrawText(screen *ebiten.Image, textStr string, x, y float64, clr color.RGBA) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	face := &text.GoTextFace{
		Source: tr.fontSource,
		Size:   tr.fontSize,
	}

	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.ColorScale.ScaleWithColor(clr)

	text.Draw(screen, textStr, face, op)
}

// MeasureText returns the width and height of the given text string.
func (tr *TextRenderer) MeasureText(textStr string) (width, height float64) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	face := &text.GoTextFace{
		Source: tr.fontSource,
		Size:   tr.fontSize,
	}

	return text.Measure(textStr, face, tr.fontSize*lineHeightFactor)
}

// LineHeight returns the height of a single line of text.
func (tr *TextRenderer) LineHeight() float64 {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.fontSize * lineHeightFactor
}

// HUDState is what the overlay shows for one frame.
type HUDState struct {
	Transform   viewport.ViewTransform
	DisplayPort viewport.DisplayPort
	Coverage    float64
	Stats       FrameSnapshot
	Danger      bool
	LastRule    int
	Compositor  string
}

// Lines formats the overlay text.
func (h HUDState) Lines() []string {
	danger := ""
	if h.Danger {
		danger = " DANGER"
	}
	return []string{
		fmt.Sprintf("zoom %.3f  origin (%.0f, %.0f)", h.Transform.Scale, h.Transform.X, h.Transform.Y),
		h.DisplayPort.String(),
		fmt.Sprintf("coverage %3.0f%%%s  rule %d", h.Coverage*100, danger, h.LastRule),
		fmt.Sprintf("%.1f fps  %v/frame  dropped %d", h.Stats.FPS, h.Stats.LastFrameTime.Round(10*time.Microsecond), h.Stats.Dropped),
		"compositor " + h.Compositor,
	}
}

// DrawHUD draws state in the top left corner of screen.
func (tr *TextRenderer) DrawHUD(screen *ebiten.Image, state HUDState, clr color.RGBA) {
	y := 4.0
	for _, line := range state.Lines() {
		tr.DrawText(screen, line, 6, y, clr)
		y += tr.LineHeight()
	}
}
