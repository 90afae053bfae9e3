package config

import (
	"testing"

	"github.com/opd-ai/go-layersync/internal/lua"
)

// FuzzTextParser checks that malformed text configs fail cleanly.
func FuzzTextParser(f *testing.F) {
	f.Add([]byte("strategy velocity_bias\ntile_size 256\n"))
	f.Add([]byte("# comment\nshow_hud no\nwindow_width = 800\n"))
	f.Add([]byte(""))
	f.Add([]byte("\n\n\n"))
	f.Add([]byte("show_hud"))
	f.Add([]byte("tile_size not_a_number"))
	f.Add([]byte("engine_cpu_limit -1"))
	f.Add([]byte("window_title \"${HOME}\""))

	f.Fuzz(func(t *testing.T, data []byte) {
		cfg, err := NewTextParser().Parse(data)
		if err == nil && cfg == nil {
			t.Error("Parse returned nil config with nil error")
		}
	})
}

// FuzzLuaParser checks that arbitrary Lua input cannot escape the sandbox
// or panic the parser.
func FuzzLuaParser(f *testing.F) {
	f.Add([]byte(`layersync.config = { strategy = "fixed_margin", fixed_margin = 64 }`))
	f.Add([]byte(`layersync.config = { show_hud = false, window_width = 1024.0 }`))
	f.Add([]byte(""))
	f.Add([]byte("layersync.config = nil"))
	f.Add([]byte("layersync.config = {"))
	f.Add([]byte("while true do end"))
	f.Add([]byte("error('boom')"))
	f.Add([]byte(`layersync.config = { tile_size = "big" }`))

	limits := lua.Limits{CPULimit: 100_000, MemoryLimit: 1 << 20}
	f.Fuzz(func(t *testing.T, data []byte) {
		cfg, err := NewLuaParserWithLimits(limits).Parse(data)
		if err == nil && cfg == nil {
			t.Error("Parse returned nil config with nil error")
		}
	})
}

// FuzzFormatDetection checks auto-detection never panics.
func FuzzFormatDetection(f *testing.F) {
	f.Add([]byte("layersync.config = {}"))
	f.Add([]byte("-- layersync.config = {}\nstrategy no_margin"))
	f.Add([]byte("  layersync.config={}"))

	p := NewParser()
	f.Fuzz(func(t *testing.T, data []byte) {
		_ = isLuaConfig(data)
		_, _ = p.Parse(data)
	})
}
