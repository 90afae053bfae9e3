// Package layersync runs the viewport synchronization layer as an embeddable
// component: a UI loop, a scripted engine, the layer client and a
// compositor, wired together and managed as one session.
//
// # Basic Usage
//
//	s, err := layersync.New("/path/to/layersync.conf", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := s.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer s.Stop()
//
// # Configuration Sources
//
//   - Disk file: [New], optionally watched with Options.WatchConfig
//   - Embedded FS: [NewFromFS]
//   - io.Reader: [NewFromReader] with [FormatText] or [FormatLua]
//
// # Driving the Viewport
//
// A window feeds input gestures to the session itself. Embedders and
// headless sessions drive it directly:
//
//	s.ScrollBy(0, 120)
//	s.Zoom(2, 160, 240)
//	s.Resize(800, 600)
//	st := s.Viewport()
//
// # Headless Mode
//
// With Options.Headless the compositor runs on a ticker against memory
// surfaces. Every synchronization path runs; only pixels are skipped.
// Builds with the noebiten tag are always headless.
//
// # Errors and Observability
//
// Runtime errors are categorized ([Categorize]) and recorded by an
// [ErrorTracker]; [Metrics] combines lifecycle counters with the live
// counters of the running components and can be published with expvar.
package layersync
