// Package render hosts the compositor in an ebiten game loop. ebiten's Draw
// callback is the compositor context: each frame it synchronizes with the
// layer client, runs the progressive update pass, renders the page into the
// current GPU surface and composites it to the window.
//
// With the noebiten build tag only the window independent parts remain:
// tile planning, frame statistics and gesture tracking.
package render

import (
	"fmt"
	"image/color"

	"github.com/opd-ai/go-layersync/internal/compositor"
	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/layer"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

// Config holds the rendering options.
type Config struct {
	Width  int
	Height int
	Title  string
	// ShowHUD draws the zoom, origin, display port and frame rate overlay.
	ShowHUD bool
	// TileSize is the edge of a page tile in device pixels.
	TileSize float64
	// ScrollStep is the distance in device pixels one arrow key tick or
	// wheel notch scrolls.
	ScrollStep float64
	// ZoomStep is the factor one zoom key press or ctrl+wheel notch applies.
	ZoomStep float64

	BackgroundColor   color.RGBA
	CheckerboardColor color.RGBA
	TileColor         color.RGBA
	TileAltColor      color.RGBA
	DisplayPortColor  color.RGBA
	HUDColor          color.RGBA
}

// DefaultTileSize is the default tile edge in device pixels.
const DefaultTileSize = 256

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Width:             640,
		Height:            480,
		Title:             "layersync",
		ShowHUD:           true,
		TileSize:          DefaultTileSize,
		ScrollStep:        24,
		ZoomStep:          1.1,
		BackgroundColor:   color.RGBA{R: 32, G: 32, B: 36, A: 255},
		CheckerboardColor: color.RGBA{R: 200, G: 200, B: 200, A: 255},
		TileColor:         color.RGBA{R: 250, G: 250, B: 245, A: 255},
		TileAltColor:      color.RGBA{R: 232, G: 238, B: 250, A: 255},
		DisplayPortColor:  color.RGBA{R: 220, G: 60, B: 60, A: 255},
		HUDColor:          color.RGBA{R: 20, G: 200, B: 90, A: 255},
	}
}

// Validate checks that the window and step sizes are usable.
func (c Config) Validate() error {
	if c.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", c.Width)
	}
	if c.Height <= 0 {
		return fmt.Errorf("height must be positive, got %d", c.Height)
	}
	if c.TileSize <= 0 {
		return fmt.Errorf("tile size must be positive, got %g", c.TileSize)
	}
	if c.ZoomStep <= 1 {
		return fmt.Errorf("zoom step must exceed 1, got %g", c.ZoomStep)
	}
	return nil
}

// Client is the render side of layer.Client.
type Client interface {
	SyncViewportInfo(x, y, width, height int, resolution float64, layersUpdated bool, paintSyncID uint32) viewport.ViewTransform
	ProgressiveUpdateCallback(hasPendingNewContent bool, region geom.RectF, resolution float64, lowPrecision bool) layer.ProgressiveUpdateData
	CreateFrame() *layer.Frame
	DisplayPort() viewport.DisplayPort
	// InDanger reports whether the page risks checkerboarding, which
	// makes a low precision pass worthwhile.
	InDanger() bool
}

// SurfaceSource returns the surface the compositor may draw on, or nil.
// Every frame runs between BeginFrame and EndFrame, and the source keeps
// a surface it handed out allocated until the frame ends.
// compositor.Controller satisfies it.
type SurfaceSource interface {
	BeginFrame()
	Surface() compositor.Surface
	EndFrame()
}

// GestureHandler receives input translated by the compositor. Calls arrive
// on the ebiten goroutine; implementations forward them to the UI loop.
type GestureHandler interface {
	Resize(width, height int)
	Scroll(dx, dy float64)
	Zoom(factor float64, focus geom.PointF)
	Pointer(p PointerInput)
}
