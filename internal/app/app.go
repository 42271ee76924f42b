// Package app dispatches parsed commands to the daemon, the IPC client, and the manual sink tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pwsw/pwsw/internal/cli"
	"github.com/pwsw/pwsw/internal/config"
	"github.com/pwsw/pwsw/internal/daemon"
	"github.com/pwsw/pwsw/internal/doctor"
	"github.com/pwsw/pwsw/internal/ipc"
	"github.com/pwsw/pwsw/internal/logging"
	"github.com/pwsw/pwsw/internal/metrics"
	"github.com/pwsw/pwsw/internal/notify"
	"github.com/pwsw/pwsw/internal/pipewire"
	"github.com/pwsw/pwsw/internal/toplevel"
	"github.com/pwsw/pwsw/internal/version"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitConfig  = 1
	ExitRuntime = 2
)

// SinkController performs sink queries and switches outside the daemon.
type SinkController interface {
	ActivateSink(ctx context.Context, name string) error
	DefaultSinkName(ctx context.Context) (string, error)
	Reachable(ctx context.Context) ([]pipewire.Sink, []pipewire.ProfileSink, error)
}

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Sinks and Notifier default to the PipeWire effector and desktop notifications.
	Sinks    SinkController
	Notifier notify.Notifier
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("pwsw"))
		return ExitRuntime
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("pwsw"))
		return ExitOK
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return ExitOK
	}

	logRuntime, err := logging.New("info")
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return ExitConfig
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	logger.Debug("command start",
		"command", parsed.Command,
		"config", parsed.ConfigPath,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandStatus:
		return r.commandStatus(ctx, parsed.JSON)
	case cli.CommandListWindows:
		return r.commandListWindows(ctx, parsed.JSON)
	case cli.CommandTestRule:
		return r.commandTestRule(ctx, parsed.Args[0])
	case cli.CommandReload:
		return r.forwardMessage(ctx, ipc.Request{Command: ipc.CommandReload})
	case cli.CommandShutdown:
		return r.forwardMessage(ctx, ipc.Request{Command: ipc.CommandShutdown})
	case cli.CommandInitConfig:
		return r.commandInitConfig(ctx, parsed.ConfigPath, logger)
	case cli.CommandDoctor:
		return r.commandDoctor(ctx, parsed.ConfigPath)
	case cli.CommandListSinks:
		return r.commandListSinks(ctx, parsed.ConfigPath)
	}

	loaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return ExitConfig
	}
	if err := logRuntime.SetLevel(loaded.Config.Settings().LogLevel); err != nil {
		logger.Warn("apply log level failed", "error", err.Error())
	}

	switch parsed.Command {
	case cli.CommandDaemon:
		return r.commandDaemon(ctx, loaded, logRuntime, logger)
	case cli.CommandValidate:
		cfg := loaded.Config
		fmt.Fprintf(r.Stdout, "config ok: %s (%d sinks, %d rules, default %q)\n",
			loaded.Path, len(cfg.Sinks()), len(cfg.Rules()), cfg.DefaultSink().Name)
		return ExitOK
	case cli.CommandSetSink:
		return r.commandSetSink(ctx, loaded.Config, parsed.Args[0], logger)
	case cli.CommandNextSink:
		return r.commandCycle(ctx, loaded.Config, 1, logger)
	case cli.CommandPrevSink:
		return r.commandCycle(ctx, loaded.Config, -1, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return ExitRuntime
	}
}

func (r Runner) commandDaemon(ctx context.Context, loaded config.Loaded, logRuntime logging.Runtime, logger *slog.Logger) int {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	effector := pipewire.NewEffector(pipewire.ExecRunner{}, logger.With("component", "pipewire"))
	notifier := r.Notifier
	if notifier == nil {
		notifier = notify.NewDesktop(logger.With("component", "notify"))
	}

	d, err := daemon.New(daemon.Options{
		ConfigPath:  loaded.Path,
		Config:      loaded.Config,
		SocketPath:  ipc.RuntimeSocketPath(),
		Subscribe:   daemon.WindowSource(&toplevel.Source{Logger: logger.With("component", "toplevel")}),
		Activator:   effector,
		Notifier:    notifier,
		Metrics:     metrics.New(),
		Logger:      logger,
		SetLogLevel: logRuntime.SetLevel,
		HotReload:   true,
		Hangup:      hangup,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitRuntime
	}

	logger.Info("daemon start", "config", loaded.Path, "log", logRuntime.Path, "version", version.Version)
	if err := d.Run(ctx); err != nil {
		switch {
		case errors.Is(err, ipc.ErrAlreadyRunning):
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
		case errors.Is(err, toplevel.ErrNoSupportedProtocol):
			fmt.Fprintf(r.Stderr, "error: %v (a wlroots-based compositor or one exposing ext-foreign-toplevel-list is required)\n", err)
		default:
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
		}
		logger.Error("daemon failed", "error", err.Error())
		return ExitRuntime
	}
	logger.Info("daemon stopped")
	return ExitOK
}

func (r Runner) commandDoctor(ctx context.Context, explicitPath string) int {
	in := doctor.Input{SocketPath: ipc.RuntimeSocketPath()}
	loaded, err := config.Load(explicitPath)
	if err != nil {
		in.ConfigErr = err
	} else {
		in.ConfigPath = loaded.Path
		in.Config = loaded.Config
	}

	report := doctor.Run(ctx, in)
	fmt.Fprintln(r.Stdout, report.String())
	if report.OK() {
		return ExitOK
	}
	return ExitConfig
}
