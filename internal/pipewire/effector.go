package pipewire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

var (
	ErrControlPlaneUnavailable = errors.New("pipewire control plane unavailable")
	ErrSinkNotFound            = errors.New("sink not found")
	ErrProfileSwitchFailed     = errors.New("profile switch failed")
)

// DefaultPollSchedule spaces the post-switch node checks across roughly two seconds.
var DefaultPollSchedule = []time.Duration{
	100 * time.Millisecond,
	150 * time.Millisecond,
	200 * time.Millisecond,
	250 * time.Millisecond,
	300 * time.Millisecond,
	400 * time.Millisecond,
	600 * time.Millisecond,
}

// Effector queries and changes the default sink through pw-dump, pw-metadata, and pw-cli.
//
// Every method blocks on subprocesses and must not run on the daemon loop.
type Effector struct {
	runner   Runner
	logger   *slog.Logger
	schedule []time.Duration
	sleep    func(context.Context, time.Duration) error
}

// NewEffector builds an Effector; a nil runner uses ExecRunner.
func NewEffector(runner Runner, logger *slog.Logger) *Effector {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Effector{
		runner:   runner,
		logger:   logger,
		schedule: DefaultPollSchedule,
		sleep:    sleepContext,
	}
}

// Dump returns the current object graph.
func (e *Effector) Dump(ctx context.Context) (Objects, error) {
	out, err := e.runner.Run(ctx, "pw-dump")
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	objects, err := ParseObjects(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrControlPlaneUnavailable, err)
	}
	return objects, nil
}

// DefaultSinkName returns the node name of the current default sink.
func (e *Effector) DefaultSinkName(ctx context.Context) (string, error) {
	objects, err := e.Dump(ctx)
	if err != nil {
		return "", err
	}
	name, ok := DefaultSinkName(objects)
	if !ok {
		return "", fmt.Errorf("%w: no default sink in metadata", ErrControlPlaneUnavailable)
	}
	return name, nil
}

// ActivateSink makes name the default sink, switching its device profile first when the
// sink is only reachable through an inactive profile.
func (e *Effector) ActivateSink(ctx context.Context, name string) error {
	objects, err := e.Dump(ctx)
	if err != nil {
		return err
	}

	if _, ok := FindActive(ActiveSinks(objects), name); ok {
		return e.SetDefault(ctx, name)
	}

	target, ok := FindProfile(ProfileSinks(objects), name)
	if !ok {
		return fmt.Errorf("%w: %q is neither active nor reachable by profile", ErrSinkNotFound, name)
	}

	e.logger.Info("switching device profile",
		"sink", name,
		"device", target.DeviceName,
		"profile", target.ProfileName,
		"profile_index", target.ProfileIndex,
	)
	if err := e.SwitchProfile(ctx, target.DeviceID, target.ProfileIndex); err != nil {
		return fmt.Errorf("%w: device %q: %w", ErrProfileSwitchFailed, target.DeviceName, err)
	}
	if err := e.waitForNode(ctx, name); err != nil {
		return err
	}
	return e.SetDefault(ctx, name)
}

// SetDefault writes the configured default sink metadata.
func (e *Effector) SetDefault(ctx context.Context, name string) error {
	value := strconv.Quote(name)
	_, err := e.runner.Run(ctx, "pw-metadata", "0", keyConfigured, `{"name":`+value+`}`, "Spa:String:JSON")
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// SwitchProfile selects profileIndex on device deviceID and persists the choice.
func (e *Effector) SwitchProfile(ctx context.Context, deviceID, profileIndex int) error {
	payload := fmt.Sprintf("{ index: %d, save: true }", profileIndex)
	_, err := e.runner.Run(ctx, "pw-cli", "set-param", strconv.Itoa(deviceID), "Profile", payload)
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (e *Effector) waitForNode(ctx context.Context, name string) error {
	var lastErr error
	for attempt, delay := range e.schedule {
		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: waiting for %q: %w", ErrProfileSwitchFailed, name, err)
		}
		objects, err := e.Dump(ctx)
		if err != nil {
			lastErr = err
			e.logger.Debug("profile switch poll failed", "sink", name, "attempt", attempt+1, "error", err)
			continue
		}
		if _, ok := FindActive(ActiveSinks(objects), name); ok {
			e.logger.Debug("profile switch node appeared", "sink", name, "attempt", attempt+1)
			return nil
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %q did not appear: %w", ErrProfileSwitchFailed, name, lastErr)
	}
	return fmt.Errorf("%w: %q did not appear", ErrProfileSwitchFailed, name)
}

// Reachable reports the active and profile-reachable sinks in one snapshot.
func (e *Effector) Reachable(ctx context.Context) ([]Sink, []ProfileSink, error) {
	objects, err := e.Dump(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ActiveSinks(objects), ProfileSinks(objects), nil
}

func wrapUnavailable(err error) error {
	if errors.Is(err, ErrControlPlaneUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrControlPlaneUnavailable, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
