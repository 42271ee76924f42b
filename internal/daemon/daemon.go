// Package daemon runs the supervisor loop that owns the arbiter and binds the window
// source, IPC server, config watcher, and audio effector together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pwsw/pwsw/internal/arbiter"
	"github.com/pwsw/pwsw/internal/config"
	"github.com/pwsw/pwsw/internal/fsm"
	"github.com/pwsw/pwsw/internal/ipc"
	"github.com/pwsw/pwsw/internal/metrics"
	"github.com/pwsw/pwsw/internal/notify"
	"github.com/pwsw/pwsw/internal/toplevel"
	"github.com/pwsw/pwsw/internal/watch"
	"golang.org/x/sync/errgroup"
)

// ErrCompositorLost reports that the window event stream ended.
var ErrCompositorLost = errors.New("compositor connection lost")

const (
	shutdownGrace    = 2 * time.Second
	probeTimeout     = 250 * time.Millisecond
	acquireRetries   = 3
	startupQuery     = 3 * time.Second
	activationLimit  = 2
	notificationSlot = 2
)

// Activator performs audio switches. Calls block and run on worker goroutines.
type Activator interface {
	ActivateSink(ctx context.Context, name string) error
	DefaultSinkName(ctx context.Context) (string, error)
}

// Subscription is a live window event stream; Err is valid once Events is closed.
type Subscription interface {
	Events() <-chan toplevel.Event
	Err() error
}

// SubscribeFunc starts the window source and reports the negotiated protocol name.
type SubscribeFunc func(ctx context.Context) (Subscription, string, error)

// WindowSource adapts a toplevel.Source to SubscribeFunc.
func WindowSource(src *toplevel.Source) SubscribeFunc {
	return func(ctx context.Context) (Subscription, string, error) {
		sub, err := src.Subscribe(ctx)
		if err != nil {
			return nil, "", err
		}
		return sub, sub.Protocol, nil
	}
}

// Options wires the daemon's collaborators.
type Options struct {
	ConfigPath string
	Config     *config.Compiled
	SocketPath string

	Subscribe SubscribeFunc
	Activator Activator
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// LoadConfig reads and validates the document at ConfigPath; defaults to config.LoadFile.
	LoadConfig func(path string) (*config.Compiled, error)
	// SetLogLevel applies settings.log_level after a successful reload.
	SetLogLevel func(level string) error

	HotReload     bool
	WatchDebounce time.Duration
	// Hangup delivers SIGHUP-style explicit reload requests.
	Hangup <-chan os.Signal
}

// Daemon is one supervisor run. Create with New and call Run once.
type Daemon struct {
	opts    Options
	base    *slog.Logger
	logger  *slog.Logger
	metrics *metrics.Metrics

	arb      *arbiter.Arbiter
	protocol string
	started  time.Time

	mu    sync.RWMutex
	state fsm.State

	calls    chan call
	results  chan activation
	reloads  chan reloadResult
	observed chan observedSink
	loopDone chan struct{}

	workCtx     context.Context
	activations *errgroup.Group
	notices     *errgroup.Group

	loading         bool
	reloadAgain     bool
	shutdownRequest bool
}

type call struct {
	fn    func() ipc.Response
	reply chan ipc.Response
}

type activation struct {
	sw  arbiter.Switch
	err error
}

type observedSink struct {
	name string
	err  error
}

type reloadResult struct {
	cfg   *config.Compiled
	err   error
	reply chan ipc.Response
}

// New validates opts and returns an idle daemon.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon requires a loaded config")
	}
	if opts.Subscribe == nil {
		return nil, errors.New("daemon requires a window source")
	}
	if opts.Activator == nil {
		return nil, errors.New("daemon requires an activator")
	}
	if opts.SocketPath == "" {
		opts.SocketPath = ipc.RuntimeSocketPath()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.LoadFile
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	activations := new(errgroup.Group)
	activations.SetLimit(activationLimit)
	notices := new(errgroup.Group)
	notices.SetLimit(notificationSlot)

	return &Daemon{
		opts:        opts,
		base:        logger,
		logger:      logger.With("component", "daemon"),
		metrics:     m,
		arb:         arbiter.New(opts.Config, logger.With("component", "arbiter")),
		state:       fsm.StateStarting,
		calls:       make(chan call),
		results:     make(chan activation),
		reloads:     make(chan reloadResult),
		observed:    make(chan observedSink),
		loopDone:    make(chan struct{}),
		activations: activations,
		notices:     notices,
	}, nil
}

// State returns the lifecycle state snapshot.
func (d *Daemon) State() fsm.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Daemon) transition(event fsm.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := fsm.Transition(d.state, event)
	if err != nil {
		d.logger.Debug("lifecycle transition ignored", "error", err)
		return
	}
	d.state = next
}

// Run starts every component, multiplexes their events until ctx is cancelled, an IPC
// shutdown arrives, or a component fails, then shuts down within the grace period.
func (d *Daemon) Run(ctx context.Context) (err error) {
	d.started = time.Now()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	d.workCtx = workCtx

	defer func() {
		if err != nil {
			d.transition(fsm.EventFail)
		}
	}()

	sub, protocol, err := d.opts.Subscribe(runCtx)
	if err != nil {
		return fmt.Errorf("start window source: %w", err)
	}
	d.protocol = protocol

	listener, err := ipc.Acquire(runCtx, d.opts.SocketPath, probeTimeout, acquireRetries, func(context.Context) error {
		d.logger.Warn("replaced stale IPC socket", "path", d.opts.SocketPath)
		return nil
	})
	if err != nil {
		return fmt.Errorf("acquire IPC socket: %w", err)
	}
	defer func() { _ = os.Remove(d.opts.SocketPath) }()

	server := &ipc.Server{Handler: d, Logger: d.base.With("component", "ipc")}
	serverErr := make(chan error, 1)
	var serverWG sync.WaitGroup
	serverWG.Add(1)
	go func() {
		defer serverWG.Done()
		serverErr <- server.Serve(runCtx, listener)
	}()

	var signals <-chan watch.Signal
	if d.opts.HotReload && d.opts.ConfigPath != "" {
		watcher, watchErr := watch.New(d.opts.ConfigPath, d.opts.WatchDebounce, d.base.With("component", "watch"))
		if watchErr != nil {
			d.logger.Warn("config hot reload disabled", "error", watchErr)
		} else {
			signals = watcher.Signals()
			go watcher.Run(runCtx)
		}
	}

	d.startMetricsServer(runCtx)
	d.startup()
	d.transition(fsm.EventReady)
	d.logger.Info("daemon ready",
		"protocol", d.protocol,
		"socket", d.opts.SocketPath,
		"config", d.opts.ConfigPath,
	)

	loopErr := d.loop(runCtx, sub, signals, serverErr)
	close(d.loopDone)
	d.transition(fsm.EventShutdown)

	cancelRun()
	serverWG.Wait()
	d.drainWorkers(cancelWork)
	d.transition(fsm.EventStopped)

	if loopErr != nil {
		d.logger.Error("daemon stopped", "error", loopErr)
		return loopErr
	}
	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) startMetricsServer(ctx context.Context) {
	addr := d.arb.Config().Settings().MetricsListen
	if addr == "" {
		return
	}
	go func() {
		if err := d.metrics.Serve(ctx, addr, d.base.With("component", "metrics")); err != nil {
			d.logger.Warn("metrics endpoint disabled", "addr", addr, "error", err)
		}
	}()
}

// startup seeds the current sink. Without default_on_startup the control plane is
// asked for its default off-loop; the answer lands in applyObserved.
func (d *Daemon) startup() {
	if d.arb.Config().Settings().DefaultOnStartup {
		d.dispatch(d.arb.Startup())
		return
	}

	d.activations.Go(func() error {
		queryCtx, cancel := context.WithTimeout(d.workCtx, startupQuery)
		defer cancel()
		name, err := d.opts.Activator.DefaultSinkName(queryCtx)
		select {
		case d.observed <- observedSink{name: name, err: err}:
		case <-d.loopDone:
		}
		return nil
	})
}

// applyObserved records the control plane's default unless a switch already claimed the sink.
func (d *Daemon) applyObserved(obs observedSink) {
	if obs.err != nil {
		d.logger.Warn("query default sink failed", "error", obs.err)
		return
	}
	if _, busy := d.arb.InFlight(); busy || d.arb.Current() != "" {
		d.logger.Debug("observed default sink superseded", "sink", obs.name, "current", d.arb.Current())
		return
	}
	d.arb.SetCurrent(obs.name)
	d.logger.Info("observed default sink", "sink", obs.name)
}

func (d *Daemon) loop(ctx context.Context, sub Subscription, signals <-chan watch.Signal, serverErr <-chan error) error {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("%w: %w", ErrCompositorLost, err)
				}
				return ErrCompositorLost
			}
			d.handleEvent(ev)

		case res := <-d.results:
			d.handleActivation(res)

		case res := <-d.reloads:
			d.applyReload(res)

		case obs := <-d.observed:
			d.applyObserved(obs)

		case c := <-d.calls:
			c.reply <- c.fn()
			if d.shutdownRequest {
				d.logger.Info("shutdown requested over IPC")
				return nil
			}

		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			switch sig {
			case watch.Reload:
				d.logger.Info("config change detected", "path", d.opts.ConfigPath)
				d.requestReload()
			case watch.Died:
				d.logger.Warn("config watcher died; hot reload disabled")
				signals = nil
			}

		case <-d.opts.Hangup:
			d.logger.Info("reload requested by signal")
			d.requestReload()

		case err := <-serverErr:
			if err != nil {
				return fmt.Errorf("ipc server: %w", err)
			}
			return nil
		}
	}
}

func (d *Daemon) handleEvent(ev toplevel.Event) {
	d.logger.Debug("window event",
		"kind", ev.Kind.String(),
		"window_id", ev.ID,
		"app_id", ev.AppID,
		"title", ev.Title,
	)
	d.metrics.WindowEvents.WithLabelValues(ev.Kind.String()).Inc()
	d.dispatch(d.arb.Process(ev))
	d.metrics.SetWindows(d.arb.Counts())
}

// dispatch hands an activation to a worker; the result returns through d.results.
func (d *Daemon) dispatch(sw arbiter.Switch, ok bool) {
	if !ok {
		return
	}
	d.logger.Info("switching sink", "sink", sw.Target, "cause", sw.Cause.String(), "reason", sw.Context)
	d.activations.Go(func() error {
		err := d.opts.Activator.ActivateSink(d.workCtx, sw.Target)
		select {
		case d.results <- activation{sw: sw, err: err}:
		case <-d.loopDone:
		}
		return nil
	})
}

func (d *Daemon) handleActivation(res activation) {
	d.metrics.SinkSwitches.WithLabelValues(metrics.Result(res.err)).Inc()
	if res.err != nil {
		d.logger.Error("sink switch failed", "sink", res.sw.Target, "cause", res.sw.Cause.String(), "error", res.err)
	} else {
		d.logger.Info("sink switched", "sink", res.sw.Target, "cause", res.sw.Cause.String())
		if res.sw.Notify {
			d.notifySwitch(res.sw)
		}
	}
	d.dispatch(d.arb.Complete(res.sw, res.err))
}

func (d *Daemon) notifySwitch(sw arbiter.Switch) {
	summary := notify.SwitchSummary(d.arb.SinkDesc(sw.Target))
	body := notify.SwitchBody(sw.Context)
	var icon string
	if sink, ok := d.arb.Config().SinkByName(sw.Target); ok {
		icon = sink.Icon
	}
	if !d.notices.TryGo(func() error {
		d.opts.Notifier.Notify(d.workCtx, summary, body, icon)
		return nil
	}) {
		d.logger.Debug("notification dropped; dispatch busy", "sink", sw.Target)
	}
}

// requestReload loads the config off-loop; bursts while a load is running coalesce into one more load.
func (d *Daemon) requestReload() {
	if d.loading {
		d.reloadAgain = true
		return
	}
	d.loading = true
	path := d.opts.ConfigPath
	d.activations.Go(func() error {
		cfg, err := d.opts.LoadConfig(path)
		select {
		case d.reloads <- reloadResult{cfg: cfg, err: err}:
		case <-d.loopDone:
		}
		return nil
	})
}

func (d *Daemon) applyReload(res reloadResult) {
	if res.reply == nil {
		d.loading = false
	}

	resp := d.reload(res.cfg, res.err)
	if res.reply != nil {
		res.reply <- resp
	}

	if res.reply == nil && d.reloadAgain {
		d.reloadAgain = false
		d.requestReload()
	}
}

// reload swaps in cfg and re-evaluates every open window before replying.
func (d *Daemon) reload(cfg *config.Compiled, err error) ipc.Response {
	d.metrics.ConfigReloads.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		d.logger.Error("config reload rejected; keeping previous config", "error", err)
		return ipc.Fail(ipc.KindConfigInvalid, "%v", err)
	}

	if d.opts.SetLogLevel != nil {
		if levelErr := d.opts.SetLogLevel(cfg.Settings().LogLevel); levelErr != nil {
			d.logger.Warn("apply log level failed", "error", levelErr)
		}
	}
	if prev := d.arb.Config().Settings().MetricsListen; prev != cfg.Settings().MetricsListen {
		d.logger.Warn("metrics_listen change takes effect after restart", "current", prev, "configured", cfg.Settings().MetricsListen)
	}

	d.dispatch(d.arb.Reload(cfg))
	d.metrics.SetWindows(d.arb.Counts())
	d.logger.Info("config reloaded", "sinks", len(cfg.Sinks()), "rules", len(cfg.Rules()))
	return ipc.Response{OK: true, Message: "reloaded"}
}

func (d *Daemon) drainWorkers(cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		_ = d.activations.Wait()
		_ = d.notices.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		d.logger.Warn("abandoning in-flight work after shutdown grace", "grace", shutdownGrace.String())
	}
	cancel()
}
