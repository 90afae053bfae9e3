package config

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// TextParser parses plain "key value" configuration files. Lines starting
// with '#' or "--" are comments. A bare key sets a boolean to true, and an
// optional '=' between key and value is accepted.
type TextParser struct{}

// NewTextParser creates a TextParser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse returns the defaults overridden by content.
func (p *TextParser) Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	scanner := bufio.NewScanner(bytes.NewReader(content))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "--") {
			continue
		}
		key, val := splitDirective(line)
		if err := apply(&cfg, key, textValue(val)); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading configuration: %w", err)
	}
	return &cfg, nil
}

func splitDirective(line string) (key, val string) {
	idx := strings.IndexAny(line, " \t=")
	if idx < 0 {
		return line, ""
	}
	key = line[:idx]
	val = strings.TrimSpace(line[idx:])
	val = strings.TrimSpace(strings.TrimPrefix(val, "="))
	return key, val
}
