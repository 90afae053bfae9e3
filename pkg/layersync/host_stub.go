//go:build noebiten

package layersync

import (
	"github.com/opd-ai/go-layersync/internal/compositor"
)

// surfaceFactory always returns memory surfaces in noebiten builds.
func surfaceFactory(bool) compositor.SurfaceFactory {
	return memorySurfaces()
}

// newHost always composites headless in noebiten builds.
func (s *session) newHost(c *components) (host, error) {
	if !s.opts.Headless {
		s.logger.Warn("built without window support, running headless")
	}
	return newHeadlessHost(c.client, c.ctrl, s.cfg.DisplayPort.TileSize, s.opts.FrameInterval), nil
}
