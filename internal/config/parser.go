package config

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
)

// Parser reads configuration files in either format, detecting which one
// from the content.
type Parser struct {
	text *TextParser
	lua  *LuaParser
}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{
		text: NewTextParser(),
		lua:  NewLuaParser(),
	}
}

// ParseFile reads and parses the file at path.
func (p *Parser) ParseFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return p.Parse(content)
}

// Parse parses content, auto-detecting the format.
func (p *Parser) Parse(content []byte) (*Config, error) {
	if isLuaConfig(content) {
		return p.lua.Parse(content)
	}
	return p.text.Parse(content)
}

// luaConfigPattern matches an assignment to layersync.config at the start
// of a line, so a comment mentioning it does not switch formats.
var luaConfigPattern = regexp.MustCompile(`(?m)^\s*layersync\.config\s*=`)

func isLuaConfig(content []byte) bool {
	return luaConfigPattern.Match(content)
}

// ParseFromFS reads and parses path from fsys.
func (p *Parser) ParseFromFS(fsys fs.FS, path string) (*Config, error) {
	content, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from FS %s: %w", path, err)
	}
	return p.Parse(content)
}

// ParseReader parses configuration from r. format must be "lua" or "text".
func (p *Parser) ParseReader(r io.Reader, format string) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch format {
	case "lua":
		return p.lua.Parse(content)
	case "text":
		return p.text.Parse(content)
	default:
		return nil, fmt.Errorf("unknown format: %s (expected 'lua' or 'text')", format)
	}
}
