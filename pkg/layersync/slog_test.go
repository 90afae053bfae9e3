package layersync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	adapter := NewSlogAdapter(slog.New(handler))

	tests := []struct {
		name string
		log  func()
		want []string
	}{
		{"debug", func() { adapter.Debug("debug message", "key", "value") }, []string{"debug message", "key=value"}},
		{"info", func() { adapter.Info("info message", "count", 42) }, []string{"info message", "count=42"}},
		{"warn", func() { adapter.Warn("warn message") }, []string{"level=WARN", "warn message"}},
		{"error", func() { adapter.Error("error message", "zoom", 0.5) }, []string{"level=ERROR", "zoom=0.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output %q does not contain %q", buf.String(), want)
				}
			}
		})
	}
}

func TestNewSlogAdapterNil(t *testing.T) {
	adapter := NewSlogAdapter(nil)
	if adapter.Slog() == nil {
		t.Error("NewSlogAdapter(nil) should use slog.Default()")
	}
}

func TestBuiltinLoggers(t *testing.T) {
	for name, logger := range map[string]Logger{
		"default": DefaultLogger(),
		"debug":   DebugLogger(),
		"nop":     NopLogger(),
	} {
		t.Run(name, func(t *testing.T) {
			if logger == nil {
				t.Fatal("logger is nil")
			}
			logger.Debug("test debug")
			logger.Info("test info")
			logger.Warn("test warn")
			logger.Error("test error")
		})
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := JSONLogger(&buf, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("first paint", "zoom", 2.0)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d records, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "first paint" || rec["zoom"] != 2.0 {
		t.Errorf("record = %v", rec)
	}
}

func TestToSlogUnwrapsAdapters(t *testing.T) {
	base := slog.New(slog.DiscardHandler)
	if got := toSlog(NewSlogAdapter(base)); got != base {
		t.Error("toSlog should unwrap a SlogAdapter")
	}
	if toSlog(nil) == nil || toSlog(NopLogger()) == nil {
		t.Error("toSlog should never return nil")
	}
}

// recordingLogger stores formatted log lines.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) record(level, msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprint(append([]any{level, msg}, args...)...))
}

func (r *recordingLogger) Debug(msg string, args ...any) { r.record("DEBUG", msg, args...) }
func (r *recordingLogger) Info(msg string, args ...any)  { r.record("INFO", msg, args...) }
func (r *recordingLogger) Warn(msg string, args ...any)  { r.record("WARN", msg, args...) }
func (r *recordingLogger) Error(msg string, args ...any) { r.record("ERROR", msg, args...) }

func TestToSlogBridgesCustomLogger(t *testing.T) {
	rec := &recordingLogger{}
	logger := toSlog(rec).With("run_id", "abc").WithGroup("layer")

	logger.Debug("resize", "width", 320)
	logger.Warn("stale message")
	logger.Error("render failed")
	logger.Info("first paint")

	if len(rec.lines) != 4 {
		t.Fatalf("got %d lines, want 4: %v", len(rec.lines), rec.lines)
	}
	wants := []string{"DEBUG", "WARN", "ERROR", "INFO"}
	for i, want := range wants {
		if !strings.HasPrefix(rec.lines[i], want) {
			t.Errorf("line %d = %q, want level %s", i, rec.lines[i], want)
		}
		if !strings.Contains(rec.lines[i], "run_id") {
			t.Errorf("line %d = %q is missing run_id", i, rec.lines[i])
		}
	}
	if !strings.Contains(rec.lines[0], "layer.width") {
		t.Errorf("grouped attribute not prefixed: %q", rec.lines[0])
	}
}
