// Package arbiter holds the open-window registries and decides which sink should be default.
//
// An Arbiter is not safe for concurrent use; the daemon loop owns it. Operations that
// require an audio switch return a Switch for the caller to run off-loop and report back
// through Complete.
package arbiter

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/pwsw/pwsw/internal/config"
	"github.com/pwsw/pwsw/internal/toplevel"
)

// Cause classifies what triggered a reconcile.
type Cause uint8

const (
	CauseMatch Cause = iota + 1
	CauseEnded
	CauseReload
	CauseStartup
)

func (c Cause) String() string {
	switch c {
	case CauseMatch:
		return "match"
	case CauseEnded:
		return "ended"
	case CauseReload:
		return "reload"
	case CauseStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// Window is an open toplevel.
type Window struct {
	ID    uint64
	AppID string
	Title string
}

// MatchedWindow is an open window that satisfies a rule.
type MatchedWindow struct {
	Window
	SinkName    string
	RuleIndex   int
	OpenedAt    time.Time
	TriggerDesc string

	seq uint64
}

// Switch is an activation the caller must perform.
type Switch struct {
	Target  string
	Cause   Cause
	Context string
	Notify  bool
}

// Arbiter tracks windows and the current sink.
type Arbiter struct {
	cfg     *config.Compiled
	logger  *slog.Logger
	now     func() time.Time
	all     map[uint64]Window
	matched map[uint64]*MatchedWindow
	seq     uint64
	current string

	inflight *Switch
	dirty    bool
	pending  pendingReconcile
}

type pendingReconcile struct {
	cause   Cause
	context string
}

// New returns an empty arbiter for cfg.
func New(cfg *config.Compiled, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Arbiter{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		all:     make(map[uint64]Window),
		matched: make(map[uint64]*MatchedWindow),
	}
}

// Config returns the active configuration.
func (a *Arbiter) Config() *config.Compiled {
	return a.cfg
}

// Current returns the last successfully activated sink name.
func (a *Arbiter) Current() string {
	return a.current
}

// SetCurrent records the sink observed as default outside of arbitration.
func (a *Arbiter) SetCurrent(name string) {
	a.current = name
}

// InFlight reports the activation awaiting Complete, if any.
func (a *Arbiter) InFlight() (Switch, bool) {
	if a.inflight == nil {
		return Switch{}, false
	}
	return *a.inflight, true
}

// Process applies one window event.
func (a *Arbiter) Process(ev toplevel.Event) (Switch, bool) {
	switch ev.Kind {
	case toplevel.Opened, toplevel.Changed:
		return a.upsert(Window{ID: ev.ID, AppID: ev.AppID, Title: ev.Title})
	case toplevel.Closed:
		return a.close(ev.ID)
	default:
		return Switch{}, false
	}
}

func (a *Arbiter) upsert(w Window) (Switch, bool) {
	changed, cause, context := a.evaluate(w)
	if !changed {
		return Switch{}, false
	}
	return a.reconcile(cause, context)
}

// evaluate runs the Opened/Changed transition for w without reconciling.
func (a *Arbiter) evaluate(w Window) (bool, Cause, string) {
	a.all[w.ID] = w

	existing, wasMatched := a.matched[w.ID]
	match, hasMatch := a.cfg.Match(w.AppID, w.Title)

	switch {
	case !wasMatched && !hasMatch:
		return false, 0, ""
	case !wasMatched && hasMatch:
		a.seq++
		mw := &MatchedWindow{
			Window:      w,
			SinkName:    match.Sink.Name,
			RuleIndex:   match.Index,
			OpenedAt:    a.now(),
			TriggerDesc: triggerDesc(match.Rule, w),
			seq:         a.seq,
		}
		a.matched[w.ID] = mw
		a.logger.Debug("window matched",
			"window_id", w.ID,
			"app_id", w.AppID,
			"title", w.Title,
			"rule_index", match.Index,
			"sink", match.Sink.Name,
		)
		return true, CauseMatch, mw.TriggerDesc
	case wasMatched && !hasMatch:
		delete(a.matched, w.ID)
		a.logger.Debug("window unmatched", "window_id", w.ID, "app_id", w.AppID, "title", w.Title)
		return true, CauseEnded, existing.TriggerDesc + " ended"
	default:
		existing.Window = w
		if existing.SinkName == match.Sink.Name && existing.RuleIndex == match.Index {
			return false, 0, ""
		}
		existing.SinkName = match.Sink.Name
		existing.RuleIndex = match.Index
		existing.TriggerDesc = triggerDesc(match.Rule, w)
		a.logger.Debug("window rule changed",
			"window_id", w.ID,
			"rule_index", match.Index,
			"sink", match.Sink.Name,
		)
		return true, CauseMatch, existing.TriggerDesc
	}
}

func (a *Arbiter) close(id uint64) (Switch, bool) {
	delete(a.all, id)
	mw, ok := a.matched[id]
	if !ok {
		return Switch{}, false
	}
	delete(a.matched, id)
	return a.reconcile(CauseEnded, mw.TriggerDesc+" closed")
}

// Reload swaps in cfg and replays every open window through the Changed path,
// then reconciles once.
func (a *Arbiter) Reload(cfg *config.Compiled) (Switch, bool) {
	a.cfg = cfg
	for _, id := range slices.Sorted(maps.Keys(a.all)) {
		a.evaluate(a.all[id])
	}
	return a.reconcile(CauseReload, "config reloaded")
}

// Startup requests activation of the default sink regardless of the current sink.
func (a *Arbiter) Startup() (Switch, bool) {
	target := a.cfg.DefaultSink().Name
	if a.inflight != nil {
		a.markDirty(CauseStartup, "startup")
		return Switch{}, false
	}
	sw := Switch{Target: target, Cause: CauseStartup, Context: "startup"}
	a.inflight = &sw
	return sw, true
}

// Complete records the outcome of the in-flight activation and reconciles again if
// events arrived meanwhile. A failed activation leaves the current sink unchanged.
func (a *Arbiter) Complete(sw Switch, err error) (Switch, bool) {
	a.inflight = nil
	if err == nil {
		a.current = sw.Target
	}
	if !a.dirty {
		return Switch{}, false
	}
	a.dirty = false
	return a.reconcile(a.pending.cause, a.pending.context)
}

func (a *Arbiter) markDirty(cause Cause, context string) {
	a.dirty = true
	a.pending = pendingReconcile{cause: cause, context: context}
}

func (a *Arbiter) reconcile(cause Cause, context string) (Switch, bool) {
	if a.inflight != nil {
		a.markDirty(cause, context)
		return Switch{}, false
	}

	target, winner := a.arbitrate()
	if target == a.current {
		return Switch{}, false
	}

	if cause == CauseMatch && winner != nil {
		context = winner.TriggerDesc
	}
	sw := Switch{
		Target:  target,
		Cause:   cause,
		Context: context,
		Notify:  a.shouldNotify(cause, target, winner),
	}
	a.inflight = &sw
	return sw, true
}

// Target returns the sink arbitration currently selects.
func (a *Arbiter) Target() string {
	target, _ := a.arbitrate()
	return target
}

func (a *Arbiter) arbitrate() (string, *MatchedWindow) {
	var best *MatchedWindow
	byIndex := a.cfg.Settings().MatchByIndex
	for _, mw := range a.matched {
		if best == nil || outranks(mw, best, byIndex) {
			best = mw
		}
	}
	if best == nil {
		return a.cfg.DefaultSink().Name, nil
	}
	return best.SinkName, best
}

func outranks(candidate, best *MatchedWindow, byIndex bool) bool {
	if byIndex && candidate.RuleIndex != best.RuleIndex {
		return candidate.RuleIndex < best.RuleIndex
	}
	return candidate.seq > best.seq
}

func (a *Arbiter) shouldNotify(cause Cause, target string, winner *MatchedWindow) bool {
	settings := a.cfg.Settings()
	switch cause {
	case CauseMatch:
		if winner == nil {
			return settings.NotifyRules
		}
		rules := a.cfg.Rules()
		if winner.RuleIndex < len(rules) && rules[winner.RuleIndex].Notify != nil {
			return *rules[winner.RuleIndex].Notify
		}
		return settings.NotifyRules
	case CauseEnded:
		return settings.NotifyRules && target == a.cfg.DefaultSink().Name
	default:
		return false
	}
}

func triggerDesc(rule config.Rule, w Window) string {
	switch {
	case rule.Desc != "":
		return rule.Desc
	case w.Title != "":
		return w.Title
	default:
		return w.AppID
	}
}

// SinkDesc returns the configured description for a sink name, or the name itself.
func (a *Arbiter) SinkDesc(name string) string {
	if sink, ok := a.cfg.SinkByName(name); ok {
		return sink.Desc
	}
	return name
}

// Counts reports registry sizes.
func (a *Arbiter) Counts() (open, matched int) {
	return len(a.all), len(a.matched)
}

func (s Switch) String() string {
	return fmt.Sprintf("%s (%s: %s)", s.Target, s.Cause, s.Context)
}
