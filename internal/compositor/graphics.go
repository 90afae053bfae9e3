package compositor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInvalidSize is returned when a surface is requested with a
// non-positive dimension.
var ErrInvalidSize = errors.New("surface size must be positive")

// Surface is a GPU render target owned by the controller.
type Surface interface {
	// ID identifies the surface in logs.
	ID() uint64
	// Size returns the surface dimensions in device pixels.
	Size() (width, height int)
	// Release frees the native resources. It must be idempotent.
	Release()
}

// SurfaceFactory allocates surfaces. Allocation may fail transiently.
type SurfaceFactory interface {
	CreateSurface(width, height int) (Surface, error)
}

// SurfaceFactoryFunc adapts a function to SurfaceFactory.
type SurfaceFactoryFunc func(width, height int) (Surface, error)

// CreateSurface calls f.
func (f SurfaceFactoryFunc) CreateSurface(width, height int) (Surface, error) {
	return f(width, height)
}

// GraphicsContext is the process wide graphics state. Construct one and
// inject it into every Controller that needs surfaces.
type GraphicsContext struct {
	factory SurfaceFactory
	live    atomic.Int64
}

// NewGraphicsContext wraps factory.
func NewGraphicsContext(factory SurfaceFactory) *GraphicsContext {
	return &GraphicsContext{factory: factory}
}

// CreateSurface allocates a tracked surface.
func (g *GraphicsContext) CreateSurface(width, height int) (Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	s, err := g.factory.CreateSurface(width, height)
	if err != nil {
		return nil, fmt.Errorf("create surface %dx%d: %w", width, height, err)
	}
	if s == nil {
		return nil, fmt.Errorf("create surface %dx%d: factory returned nil", width, height)
	}
	g.live.Add(1)
	return &trackedSurface{Surface: s, live: &g.live}, nil
}

// LiveSurfaces returns how many surfaces are allocated and not released.
func (g *GraphicsContext) LiveSurfaces() int64 { return g.live.Load() }

type trackedSurface struct {
	Surface
	live *atomic.Int64
	once sync.Once
}

func (t *trackedSurface) Release() {
	t.once.Do(func() {
		t.Surface.Release()
		t.live.Add(-1)
	})
}

// Unwrap returns the factory's surface.
func (t *trackedSurface) Unwrap() Surface { return t.Surface }

// NativeCompositorHandle is the engine side compositor object. Dispose must
// be called exactly once; nothing finalizes it implicitly.
type NativeCompositorHandle interface {
	Dispose() error
}

// Bridge carries compositor lifecycle requests to the engine.
type Bridge interface {
	// CreateCompositor returns once the engine has created the compositor
	// for surface.
	CreateCompositor(ctx context.Context, surface Surface, width, height int) (NativeCompositorHandle, error)
	// PauseCompositor returns once the engine has processed the pause, so
	// no composite is using the surface anymore.
	PauseCompositor(ctx context.Context) error
	// ResumeCompositor requests a resume and returns immediately. The engine
	// answers by calling Controller.ResumeAcknowledged with generation.
	ResumeCompositor(surface Surface, width, height int, generation uint64)
}

// Poster runs tasks on the UI loop.
type Poster interface {
	Post(fn func())
}
