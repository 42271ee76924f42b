package arbiter

import (
	"maps"
	"regexp"
	"slices"
)

// WindowInfo describes one open window for inspection.
type WindowInfo struct {
	Window
	Tracked *Tracked
}

// Tracked is the rule-derived state of a matched window.
type Tracked struct {
	SinkName  string
	SinkDesc  string
	RuleIndex int
}

// RuleMatch is a window matched by an ad-hoc pattern; MatchedOn is "app_id" or "title".
type RuleMatch struct {
	Window
	MatchedOn string
}

// Windows lists open windows ordered by id.
func (a *Arbiter) Windows() []WindowInfo {
	out := make([]WindowInfo, 0, len(a.all))
	for _, id := range slices.Sorted(maps.Keys(a.all)) {
		info := WindowInfo{Window: a.all[id]}
		if mw, ok := a.matched[id]; ok {
			info.Tracked = &Tracked{
				SinkName:  mw.SinkName,
				SinkDesc:  a.SinkDesc(mw.SinkName),
				RuleIndex: mw.RuleIndex,
			}
		}
		out = append(out, info)
	}
	return out
}

// MostRecent returns the most recently matched window.
func (a *Arbiter) MostRecent() (MatchedWindow, bool) {
	var best *MatchedWindow
	for _, mw := range a.matched {
		if best == nil || mw.seq > best.seq {
			best = mw
		}
	}
	if best == nil {
		return MatchedWindow{}, false
	}
	return *best, true
}

// Matched returns a copy of the matched registry ordered by id.
func (a *Arbiter) Matched() []MatchedWindow {
	out := make([]MatchedWindow, 0, len(a.matched))
	for _, id := range slices.Sorted(maps.Keys(a.matched)) {
		out = append(out, *a.matched[id])
	}
	return out
}

// TestRule reports open windows whose app_id or title matches pattern, preferring app_id.
func (a *Arbiter) TestRule(pattern *regexp.Regexp) []RuleMatch {
	var out []RuleMatch
	for _, id := range slices.Sorted(maps.Keys(a.all)) {
		w := a.all[id]
		switch {
		case pattern.MatchString(w.AppID):
			out = append(out, RuleMatch{Window: w, MatchedOn: "app_id"})
		case pattern.MatchString(w.Title):
			out = append(out, RuleMatch{Window: w, MatchedOn: "title"})
		}
	}
	return out
}
