//go:build !noebiten

package render

import (
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/opd-ai/go-layersync/internal/compositor"
)

// ImageSurface is a compositor surface backed by an offscreen ebiten
// image.
type ImageSurface struct {
	id   uint64
	w, h int
	mu   sync.Mutex
	img  *ebiten.Image
}

// ID implements compositor.Surface.
func (s *ImageSurface) ID() uint64 { return s.id }

// Size implements compositor.Surface.
func (s *ImageSurface) Size() (int, int) { return s.w, s.h }

// Image returns the backing image, or nil after Release.
func (s *ImageSurface) Image() *ebiten.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img
}

// Release frees the GPU image. Calling it again is a no-op.
func (s *ImageSurface) Release() {
	s.mu.Lock()
	img := s.img
	s.img = nil
	s.mu.Unlock()
	if img != nil {
		img.Deallocate()
	}
}

// SurfaceFactory allocates ImageSurfaces.
type SurfaceFactory struct {
	nextID atomic.Uint64
}

// NewSurfaceFactory returns a factory for ebiten image surfaces.
func NewSurfaceFactory() *SurfaceFactory {
	return &SurfaceFactory{}
}

// CreateSurface implements compositor.SurfaceFactory.
func (f *SurfaceFactory) CreateSurface(width, height int) (compositor.Surface, error) {
	return &ImageSurface{
		id:  f.nextID.Add(1),
		w:   width,
		h:   height,
		img: ebiten.NewImage(width, height),
	}, nil
}

// imageOf returns the ebiten image behind s, looking through wrappers that
// expose Unwrap.
func imageOf(s compositor.Surface) *ebiten.Image {
	for s != nil {
		if is, ok := s.(*ImageSurface); ok {
			return is.Image()
		}
		u, ok := s.(interface{ Unwrap() compositor.Surface })
		if !ok {
			return nil
		}
		s = u.Unwrap()
	}
	return nil
}
