package config

// DefaultSettings returns the settings applied for keys absent from the document.
func DefaultSettings() Settings {
	return Settings{
		DefaultOnStartup: true,
		SmartToggle:      true,
		NotifyManual:     true,
		NotifyRules:      true,
		MatchByIndex:     false,
		LogLevel:         "info",
	}
}

// Starter builds a minimal valid document from discovered sinks; the first sink becomes default.
func Starter(sinks []Sink) Config {
	cfg := Config{Settings: DefaultSettings()}
	for i, sink := range sinks {
		sink.Default = i == 0
		cfg.Sinks = append(cfg.Sinks, sink)
	}
	return cfg
}
