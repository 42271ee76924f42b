package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalid marks config documents that violate a document invariant.
var ErrInvalid = errors.New("invalid config")

// ValidationError names the offending document element.
type ValidationError struct {
	Element string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Element, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func invalid(element string, format string, args ...any) error {
	return &ValidationError{Element: element, Message: fmt.Sprintf(format, args...)}
}

// Compiled is a validated, immutable document with compiled rule matchers.
//
// A *Compiled is shared read-only between goroutines; reload swaps the pointer.
type Compiled struct {
	doc          Config
	rules        []compiledRule
	defaultIndex int
	byName       map[string]int
}

type compiledRule struct {
	appID     *regexp.Regexp
	title     *regexp.Regexp
	sinkIndex int
}

// Match is the first rule satisfied by a window, with its resolved sink.
type Match struct {
	Index int
	Rule  Rule
	Sink  Sink
}

// Validate reports whether cfg satisfies every document invariant.
func Validate(cfg Config) error {
	_, err := Compile(cfg)
	return err
}

// Compile validates cfg in order: sink uniqueness, single default, regex compilation, sink resolution.
func Compile(cfg Config) (*Compiled, error) {
	cfg = cfg.clone()
	cfg.normalize()

	if len(cfg.Sinks) == 0 {
		return nil, invalid("sinks", "at least one sink must be declared")
	}

	names := make(map[string]int, len(cfg.Sinks))
	descs := make(map[string]int, len(cfg.Sinks))
	for i, sink := range cfg.Sinks {
		element := fmt.Sprintf("sinks[%d]", i+1)
		if sink.Name == "" {
			return nil, invalid(element, "name must not be empty")
		}
		if sink.Desc == "" {
			return nil, invalid(element, "desc must not be empty")
		}
		if prev, dup := names[sink.Name]; dup {
			return nil, invalid(element, "duplicate name %q (also sinks[%d])", sink.Name, prev+1)
		}
		if prev, dup := descs[sink.Desc]; dup {
			return nil, invalid(element, "duplicate desc %q (also sinks[%d])", sink.Desc, prev+1)
		}
		names[sink.Name] = i
		descs[sink.Desc] = i
	}

	defaultIndex := -1
	for i, sink := range cfg.Sinks {
		if !sink.Default {
			continue
		}
		if defaultIndex >= 0 {
			return nil, invalid("sinks", "multiple default sinks: %q and %q", cfg.Sinks[defaultIndex].Name, sink.Name)
		}
		defaultIndex = i
	}
	if defaultIndex < 0 {
		return nil, invalid("sinks", "exactly one sink must set default = true")
	}

	rules := make([]compiledRule, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		element := fmt.Sprintf("rules[%d]", i+1)
		if strings.TrimSpace(rule.AppID) == "" {
			return nil, invalid(element, "app_id must not be empty")
		}
		appID, err := regexp.Compile(rule.AppID)
		if err != nil {
			return nil, invalid(element, "app_id %q: %v", rule.AppID, err)
		}
		rules[i].appID = appID
		if rule.Title != "" {
			title, err := regexp.Compile(rule.Title)
			if err != nil {
				return nil, invalid(element, "title %q: %v", rule.Title, err)
			}
			rules[i].title = title
		}
	}

	for i, rule := range cfg.Rules {
		idx, ok := resolveSinkIndex(cfg.Sinks, rule.SinkRef)
		if !ok {
			return nil, invalid(fmt.Sprintf("rules[%d]", i+1), "sink %q does not match any sink name, desc, or position", rule.SinkRef)
		}
		rules[i].sinkIndex = idx
	}

	if !slices.Contains(LogLevels, cfg.Settings.LogLevel) {
		return nil, invalid("settings.log_level", "must be one of: %s (got %q)", strings.Join(LogLevels, ", "), cfg.Settings.LogLevel)
	}

	return &Compiled{
		doc:          cfg,
		rules:        rules,
		defaultIndex: defaultIndex,
		byName:       names,
	}, nil
}

// ResolveSink returns the sink whose name, desc, or 1-based position matches ref.
func ResolveSink(cfg Config, ref string) (Sink, bool) {
	idx, ok := resolveSinkIndex(cfg.Sinks, ref)
	if !ok {
		return Sink{}, false
	}
	return cfg.Sinks[idx], true
}

func resolveSinkIndex(sinks []Sink, ref string) (int, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, false
	}
	for i, sink := range sinks {
		if sink.Name == ref {
			return i, true
		}
	}
	for i, sink := range sinks {
		if sink.Desc == ref {
			return i, true
		}
	}
	if pos, err := strconv.Atoi(ref); err == nil && pos >= 1 && pos <= len(sinks) {
		return pos - 1, true
	}
	return 0, false
}

// Document returns a copy of the validated document.
func (c *Compiled) Document() Config {
	return c.doc.clone()
}

// Settings returns the document settings.
func (c *Compiled) Settings() Settings {
	return c.doc.Settings
}

// Sinks returns the declared sinks in document order.
func (c *Compiled) Sinks() []Sink {
	return slices.Clone(c.doc.Sinks)
}

// Rules returns the rules in priority order.
func (c *Compiled) Rules() []Rule {
	return slices.Clone(c.doc.Rules)
}

// DefaultSink returns the single sink marked default.
func (c *Compiled) DefaultSink() Sink {
	return c.doc.Sinks[c.defaultIndex]
}

// SinkByName looks up a declared sink by node name.
func (c *Compiled) SinkByName(name string) (Sink, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return Sink{}, false
	}
	return c.doc.Sinks[idx], true
}

// ResolveSink resolves ref against the declared sinks.
func (c *Compiled) ResolveSink(ref string) (Sink, bool) {
	return ResolveSink(c.doc, ref)
}

// Match returns the lowest-index rule whose app_id pattern matches appID and whose
// title pattern, when set, matches title.
func (c *Compiled) Match(appID, title string) (Match, bool) {
	for i, rule := range c.rules {
		if !rule.appID.MatchString(appID) {
			continue
		}
		if rule.title != nil && !rule.title.MatchString(title) {
			continue
		}
		return Match{Index: i, Rule: c.doc.Rules[i], Sink: c.doc.Sinks[rule.sinkIndex]}, true
	}
	return Match{}, false
}
