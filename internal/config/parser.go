package config

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Parse decodes a TOML document, applying DefaultSettings for absent settings keys.
//
// Unknown keys are rejected so typos surface instead of silently falling back to defaults.
func Parse(content string) (Config, error) {
	cfg := Config{Settings: DefaultSettings()}

	decoder := toml.NewDecoder(strings.NewReader(content))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, wrapDecodeError(err)
	}

	cfg.normalize()
	return cfg, nil
}

// Marshal serializes a document in the same shape Parse accepts.
func Marshal(cfg Config) ([]byte, error) {
	cfg = cfg.clone()
	cfg.normalize()

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	encoder.SetIndentTables(false)
	if err := encoder.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func (c Config) clone() Config {
	c.Sinks = slices.Clone(c.Sinks)
	c.Rules = slices.Clone(c.Rules)
	return c
}

// normalize trims identifiers and collapses empty collections so round trips compare equal.
func (c *Config) normalize() {
	c.Settings.LogLevel = strings.ToLower(strings.TrimSpace(c.Settings.LogLevel))
	c.Settings.MetricsListen = strings.TrimSpace(c.Settings.MetricsListen)
	for i := range c.Sinks {
		c.Sinks[i].Name = strings.TrimSpace(c.Sinks[i].Name)
		c.Sinks[i].Desc = strings.TrimSpace(c.Sinks[i].Desc)
		c.Sinks[i].Icon = strings.TrimSpace(c.Sinks[i].Icon)
	}
	for i := range c.Rules {
		c.Rules[i].SinkRef = strings.TrimSpace(c.Rules[i].SinkRef)
	}
	if len(c.Sinks) == 0 {
		c.Sinks = nil
	}
	if len(c.Rules) == 0 {
		c.Rules = nil
	}
}

func wrapDecodeError(err error) error {
	var strictErr *toml.StrictMissingError
	if errors.As(err, &strictErr) {
		keys := make([]string, 0, len(strictErr.Errors))
		for _, missing := range strictErr.Errors {
			row, col := missing.Position()
			keys = append(keys, fmt.Sprintf("%s (line %d column %d)", strings.Join(missing.Key(), "."), row, col))
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	var decodeErr *toml.DecodeError
	if errors.As(err, &decodeErr) {
		row, col := decodeErr.Position()
		return fmt.Errorf("line %d column %d: %w", row, col, err)
	}

	return err
}
