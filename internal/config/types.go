// Package config resolves, parses, validates, and persists the pwsw rule document.
package config

// Config is the user-authored document: global settings, declared sinks, and ordered rules.
type Config struct {
	Settings Settings `toml:"settings"`
	Sinks    []Sink   `toml:"sinks"`
	Rules    []Rule   `toml:"rules,omitempty"`
}

// Settings controls daemon-wide switching and notification behavior.
type Settings struct {
	DefaultOnStartup bool   `toml:"default_on_startup"`
	SmartToggle      bool   `toml:"smart_toggle"`
	NotifyManual     bool   `toml:"notify_manual"`
	NotifyRules      bool   `toml:"notify_rules"`
	MatchByIndex     bool   `toml:"match_by_index"`
	LogLevel         string `toml:"log_level"`
	MetricsListen    string `toml:"metrics_listen,omitempty"`
}

// Sink is one user-declared audio output, keyed by its PipeWire node name.
type Sink struct {
	Name    string `toml:"name"`
	Desc    string `toml:"desc"`
	Icon    string `toml:"icon,omitempty"`
	Default bool   `toml:"default"`
}

// Rule maps a window pattern to a sink reference.
//
// SinkRef resolves by exact name, exact desc, or 1-based sink position.
type Rule struct {
	AppID   string `toml:"app_id"`
	Title   string `toml:"title,omitempty"`
	SinkRef string `toml:"sink"`
	Desc    string `toml:"desc,omitempty"`
	Notify  *bool  `toml:"notify,omitempty"`
}

// Log levels accepted by settings.log_level.
var LogLevels = []string{"error", "warn", "info", "debug", "trace"}
