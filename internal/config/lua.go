package config

import (
	"errors"
	"fmt"
	"math"

	rt "github.com/arnodel/golua/runtime"

	"github.com/opd-ai/go-layersync/internal/lua"
)

// LuaParser parses Lua configuration files. The script runs in a fresh
// sandbox under CPU and memory limits and is expected to assign the
// layersync.config table:
//
//	layersync.config = {
//	    strategy = "velocity_bias",
//	    tile_size = 256,
//	}
type LuaParser struct {
	limits lua.Limits
}

// NewLuaParser creates a parser with the default sandbox limits.
func NewLuaParser() *LuaParser {
	return &LuaParser{limits: lua.DefaultLimits()}
}

// NewLuaParserWithLimits creates a parser with custom sandbox limits.
func NewLuaParserWithLimits(limits lua.Limits) *LuaParser {
	return &LuaParser{limits: limits}
}

// Parse executes content and extracts layersync.config.
func (p *LuaParser) Parse(content []byte) (*Config, error) {
	sb := lua.NewSandbox(p.limits)
	defer sb.Close()

	root := rt.NewTable()
	root.Set(rt.StringValue("config"), rt.TableValue(rt.NewTable()))
	sb.SetGlobal("layersync", rt.TableValue(root))

	if err := sb.Run("config", content); err != nil {
		return nil, fmt.Errorf("failed to execute Lua configuration: %w", err)
	}

	cfg := DefaultConfig()
	table, ok := lua.Field(sb.Global("layersync"), "config").TryTable()
	if !ok {
		return nil, fmt.Errorf("layersync.config: %w", lua.ErrNotTable)
	}
	for _, key := range lua.Keys(table) {
		if err := apply(&cfg, key, luaValue{table.Get(rt.StringValue(key))}); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

var errWrongType = errors.New("wrong type")

// luaValue adapts a Lua value to the setting table.
type luaValue struct{ v rt.Value }

func (l luaValue) AsBool() (bool, error) {
	if b, ok := l.v.TryBool(); ok {
		return b, nil
	}
	if s, ok := l.v.TryString(); ok {
		return textValue(s).AsBool()
	}
	return false, fmt.Errorf("%w: want boolean", errWrongType)
}

func (l luaValue) AsInt() (int, error) {
	if n, ok := l.v.TryInt(); ok {
		return int(n), nil
	}
	if f, ok := l.v.TryFloat(); ok && f == math.Trunc(f) {
		return int(f), nil
	}
	return 0, fmt.Errorf("%w: want integer", errWrongType)
}

func (l luaValue) AsFloat() (float64, error) {
	if f, ok := l.v.TryFloat(); ok {
		return f, nil
	}
	if n, ok := l.v.TryInt(); ok {
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: want number", errWrongType)
}

func (l luaValue) AsString() (string, error) {
	if s, ok := l.v.TryString(); ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: want string", errWrongType)
}
