package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pwsw/pwsw/internal/audio"
	"github.com/pwsw/pwsw/internal/config"
	"github.com/pwsw/pwsw/internal/notify"
	"github.com/pwsw/pwsw/internal/pipewire"
)

func (r Runner) sinkController(logger *slog.Logger) SinkController {
	if r.Sinks != nil {
		return r.Sinks
	}
	return pipewire.NewEffector(pipewire.ExecRunner{}, logger.With("component", "pipewire"))
}

func (r Runner) notifier(logger *slog.Logger) notify.Notifier {
	if r.Notifier != nil {
		return r.Notifier
	}
	return notify.NewDesktop(logger.With("component", "notify"))
}

// commandSetSink switches to ref. With smart_toggle, naming the sink that is already
// default switches back to the configured default instead.
func (r Runner) commandSetSink(ctx context.Context, cfg *config.Compiled, ref string, logger *slog.Logger) int {
	target, ok := cfg.ResolveSink(ref)
	if !ok {
		fmt.Fprintf(r.Stderr, "error: no configured sink matches %q\n", ref)
		return ExitConfig
	}

	sinks := r.sinkController(logger)
	if cfg.Settings().SmartToggle {
		current, err := sinks.DefaultSinkName(ctx)
		if err != nil {
			logger.Warn("read default sink failed", "error", err.Error())
		} else if current == target.Name {
			target = cfg.DefaultSink()
		}
	}
	return r.switchTo(ctx, cfg, sinks, target, "manual switch", logger)
}

// commandCycle walks configured sinks in document order from the current default,
// skipping sinks that are neither active nor reachable through a profile.
func (r Runner) commandCycle(ctx context.Context, cfg *config.Compiled, step int, logger *slog.Logger) int {
	sinks := r.sinkController(logger)
	active, profiles, err := sinks.Reachable(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitConfig
	}
	current, err := sinks.DefaultSinkName(ctx)
	if err != nil {
		logger.Warn("read default sink failed", "error", err.Error())
	}

	target, ok := nextSink(cfg.Sinks(), current, step, func(name string) bool {
		if _, ok := pipewire.FindActive(active, name); ok {
			return true
		}
		_, ok := pipewire.FindProfile(profiles, name)
		return ok
	})
	if !ok {
		fmt.Fprintln(r.Stderr, "error: no other configured sink is reachable")
		return ExitConfig
	}
	return r.switchTo(ctx, cfg, sinks, target, "sink cycle", logger)
}

func nextSink(configured []config.Sink, current string, step int, reachable func(string) bool) (config.Sink, bool) {
	n := len(configured)
	start := -1
	for i, sink := range configured {
		if sink.Name == current {
			start = i
			break
		}
	}
	if start < 0 && step < 0 {
		start = n
	}

	for i := 1; i <= n; i++ {
		idx := ((start+step*i)%n + n) % n
		if idx == start {
			continue
		}
		if reachable(configured[idx].Name) {
			return configured[idx], true
		}
	}
	return config.Sink{}, false
}

func (r Runner) switchTo(ctx context.Context, cfg *config.Compiled, sinks SinkController, target config.Sink, reason string, logger *slog.Logger) int {
	if err := sinks.ActivateSink(ctx, target.Name); err != nil {
		fmt.Fprintf(r.Stderr, "error: switch to %s: %v\n", target.Name, err)
		logger.Error("manual switch failed", "sink", target.Name, "error", err.Error())
		return ExitConfig
	}
	logger.Info("manual switch", "sink", target.Name, "cause", reason)
	fmt.Fprintf(r.Stdout, "switched to %s (%s)\n", target.Desc, target.Name)

	if cfg.Settings().NotifyManual {
		r.notifier(logger).Notify(ctx, notify.SwitchSummary(target.Desc), notify.SwitchBody(reason), target.Icon)
	}
	return ExitOK
}

func (r Runner) commandListSinks(ctx context.Context, explicitPath string) int {
	sinks, err := audio.ListSinks(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitConfig
	}
	if len(sinks) == 0 {
		fmt.Fprintln(r.Stdout, "no audio sinks found")
		return ExitConfig
	}

	var cfg *config.Compiled
	if loaded, err := config.Load(explicitPath); err == nil {
		cfg = loaded.Config
	}

	for _, sink := range sinks {
		defaultMark := " "
		if sink.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !sink.Available {
			availability = "no"
		}
		configured := "-"
		if cfg != nil {
			if declared, ok := cfg.SinkByName(sink.Name); ok {
				configured = fmt.Sprintf("%q", declared.Desc)
			}
		}
		fmt.Fprintf(
			r.Stdout,
			"%s name=%s | description=%q | state=%s | available=%s | configured=%s\n",
			defaultMark,
			sink.Name,
			sink.Description,
			sink.State,
			availability,
			configured,
		)
	}
	return ExitOK
}

func (r Runner) commandInitConfig(ctx context.Context, explicitPath string, logger *slog.Logger) int {
	path, err := config.ResolvePath(explicitPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitConfig
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(r.Stderr, "error: config %q already exists\n", path)
		return ExitConfig
	} else if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(r.Stderr, "error: stat config %q: %v\n", path, err)
		return ExitConfig
	}

	active, _, err := r.sinkController(logger).Reachable(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitConfig
	}
	if len(active) == 0 {
		fmt.Fprintln(r.Stderr, "error: no active sinks to write")
		return ExitConfig
	}

	declared := make([]config.Sink, 0, len(active))
	for _, sink := range active {
		desc := sink.Description
		if desc == "" {
			desc = sink.Name
		}
		declared = append(declared, config.Sink{Name: sink.Name, Desc: desc})
	}
	if err := config.Save(path, config.Starter(declared)); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitConfig
	}
	fmt.Fprintf(r.Stdout, "wrote %s with %d sinks (default %s)\n", path, len(declared), declared[0].Name)
	return ExitOK
}
