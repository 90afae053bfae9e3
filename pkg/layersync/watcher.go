package layersync

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the default debounce interval for file watch events.
const DefaultWatchDebounce = 500 * time.Millisecond

// fileWatcher calls onChange once a burst of writes to any of its files
// has settled. It watches the parent directories so editors that replace
// files by rename are seen too.
type fileWatcher struct {
	fsw      *fsnotify.Watcher
	targets  map[string]bool
	debounce time.Duration
	onChange func()
	onError  func(error)

	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// newFileWatcher starts watching paths. Empty paths are ignored.
func newFileWatcher(paths []string, debounce time.Duration, onChange func(), onError func(error)) (*fileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	w := &fileWatcher{
		fsw:      fsw,
		targets:  make(map[string]bool),
		debounce: debounce,
		onChange: onChange,
		onError:  onError,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.targets[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
		dirs[dir] = true
	}

	go w.loop()
	return w, nil
}

// stop ends the watch and waits for the loop to exit. It is idempotent.
func (w *fileWatcher) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stopped
}

func (w *fileWatcher) loop() {
	defer close(w.stopped)
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !w.targets[abs] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			timer, fire = nil, nil
			if w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// startWatcher reloads the configuration when the configuration file or
// the layout script it names changes. Called with s.mu held.
func (s *session) startWatcher(c *components, logger *slog.Logger) {
	paths := []string{s.configPath}
	if script := s.scriptPath(s.cfg); script != "" {
		paths = append(paths, script)
	}
	w, err := newFileWatcher(paths, s.opts.WatchDebounce,
		func() {
			if err := s.ReloadConfig(); err != nil {
				logger.Warn("config reload failed", "error", err)
			}
		},
		func(err error) {
			logger.Warn("config watch", "error", err)
		})
	if err != nil {
		logger.Warn("config watch disabled", "error", err)
		return
	}
	c.watcher = w
	logger.Debug("watching configuration", "paths", paths)
}
