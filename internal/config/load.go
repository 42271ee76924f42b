package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded captures the resolved config path and its validated contents.
type Loaded struct {
	Path   string
	Config *Compiled
}

// Load resolves, reads, parses, and validates the rule document.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	compiled, err := LoadFile(resolvedPath)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{Path: resolvedPath, Config: compiled}, nil
}

// LoadFile reads and validates one document path.
func LoadFile(path string) (*Compiled, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %q not found (run `pwsw init-config`): %w", path, err)
		}
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	compiled, err := Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("validate config %q: %w", path, err)
	}
	return compiled, nil
}
