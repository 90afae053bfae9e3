// Package main runs a layersync session: a scripted engine, the layer
// client and a compositor window, kept in sync while the user scrolls,
// zooms and resizes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/go-layersync/internal/platform"
	"github.com/opd-ai/go-layersync/internal/profiling"
	"github.com/opd-ai/go-layersync/pkg/layersync"
)

// Version is the current version of layersync.
// This default value can be overridden at build time using:
//
//	go build -ldflags "-X main.Version=x.y.z"
var Version = "0.1.0-dev"

// flags holds the parsed command line.
type flags struct {
	configPath     string
	version        bool
	headless       bool
	strategy       string
	screen         string
	title          string
	watch          bool
	logLevel       string
	logJSON        bool
	debugAddr      string
	statusInterval time.Duration
	cpuProfile     string
	memProfile     string
	leakCheck      bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("layersync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "c", "", "Path to configuration file (text or Lua)")
	fs.BoolVar(&f.version, "v", false, "Print version and exit")
	fs.BoolVar(&f.headless, "headless", false, "Run the compositor without a window")
	fs.StringVar(&f.strategy, "strategy", "", "Override the display port strategy")
	fs.StringVar(&f.screen, "screen", "", "Fix the reported screen size, as WxH")
	fs.StringVar(&f.title, "title", "", "Override the window title")
	fs.BoolVar(&f.watch, "watch", false, "Reload the configuration when it changes on disk")
	fs.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.BoolVar(&f.logJSON, "log-json", false, "Log JSON records")
	fs.StringVar(&f.debugAddr, "debug-addr", "", "Serve expvar metrics at this address (/debug/vars)")
	fs.DurationVar(&f.statusInterval, "status-interval", 0, "Log the viewport state at this interval")
	fs.StringVar(&f.cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	fs.StringVar(&f.memProfile, "memprofile", "", "Write memory profile to file")
	fs.BoolVar(&f.leakCheck, "leakcheck", false, "Report goroutines left running after shutdown")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.screen != "" {
		if _, err := platform.ParseSize(f.screen); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// newLogger builds the process logger from the log flags.
func newLogger(f *flags, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(f.logLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	if f.logJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// sessionOptions maps the flags onto session options.
func sessionOptions(f *flags, logger *slog.Logger) *layersync.Options {
	opts := layersync.DefaultOptions()
	opts.Headless = f.headless
	opts.Strategy = f.strategy
	opts.ScreenSize = f.screen
	opts.WindowTitle = f.title
	opts.WatchConfig = f.watch
	opts.Logger = layersync.NewSlogAdapter(logger)
	opts.Metrics = layersync.NewMetrics()
	return &opts
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if f.version {
		fmt.Fprintf(stdout, "layersync version %s\n", Version)
		return 0
	}

	logger, err := newLogger(f, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	prof := profiling.Config{CPUProfilePath: f.cpuProfile, MemProfilePath: f.memProfile}
	if prof.Enabled() {
		profiler := profiling.New(prof)
		if err := profiler.Start(); err != nil {
			logger.Error("failed to start profiling", "error", err)
			return 1
		}
		defer func() {
			if err := profiler.Stop(); err != nil {
				logger.Warn("failed to stop profiling", "error", err)
			}
		}()
	}

	if f.configPath == "" {
		fmt.Fprintln(stderr, "No configuration file specified. Use -c to specify a config file.")
		fmt.Fprintln(stderr, "Usage: layersync -c <config-file>")
		return 1
	}
	if _, err := os.Stat(f.configPath); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(stderr, "Configuration file not found: %s\n", f.configPath)
		} else {
			fmt.Fprintf(stderr, "Error accessing configuration file %s: %v\n", f.configPath, err)
		}
		return 1
	}

	if !f.headless && f.screen == "" {
		screen := platform.NewScreen()
		logger.Info("display", "compositor", screen.DetectCompositor().String(), "wayland", platform.IsWayland())
		_ = screen.Close()
	}

	var baseline profiling.Baseline
	if f.leakCheck {
		baseline = profiling.TakeBaseline()
	}

	opts := sessionOptions(f, logger)
	s, err := layersync.New(f.configPath, opts)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 1
	}
	s.SetErrorHandler(func(err error) {
		logger.Warn("session error", "error", err)
	})
	s.SetEventHandler(func(e layersync.Event) {
		logger.Info(e.Message, "event", e.Type.String())
	})

	if f.debugAddr != "" {
		opts.Metrics.RegisterExpvar()
		go serveDebug(f.debugAddr, logger)
	}

	logger.Info("layersync starting", "version", Version, "config", f.configPath)
	if err := s.Start(); err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}

	code := wait(s, f.statusInterval, logger)

	if f.leakCheck {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := baseline.Settled(ctx, 4)
		cancel()
		if err != nil {
			logger.Warn("leak check", "error", err)
		} else {
			logger.Info("leak check passed", "heap_growth", profiling.FormatBytes(baseline.HeapGrowth()))
		}
	}
	return code
}

// wait blocks until a termination signal or until the window is closed.
// SIGHUP reloads the configuration in place.
func wait(s layersync.Session, statusInterval time.Duration, logger *slog.Logger) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	alive := time.NewTicker(250 * time.Millisecond)
	defer alive.Stop()

	var status <-chan time.Time
	if statusInterval > 0 {
		t := time.NewTicker(statusInterval)
		defer t.Stop()
		status = t.C
	}

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading configuration")
				if err := s.ReloadConfig(); err != nil {
					logger.Warn("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			if err := s.Stop(); err != nil {
				logger.Error("stop error", "error", err)
				return 1
			}
			return 0

		case <-alive.C:
			if !s.IsRunning() {
				logger.Info("compositor closed")
				return 0
			}

		case <-status:
			v := s.Viewport()
			st := s.Status()
			logger.Info("viewport",
				"origin_x", v.OriginX, "origin_y", v.OriginY, "zoom", v.Zoom,
				"size", fmt.Sprintf("%dx%d", v.Width, v.Height),
				"document", v.Document, "compositor", st.Compositor,
				"frames", st.Frames, "in_danger", v.InDanger)
		}
	}
}

// serveDebug serves the expvar handler registered on the default mux.
func serveDebug(addr string, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", "addr", addr, "path", "/debug/vars")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server", "error", err)
	}
}
