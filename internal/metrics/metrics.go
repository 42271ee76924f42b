// Package metrics holds daemon collectors and the optional HTTP exposition endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Switch and reload outcome label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

const shutdownTimeout = 2 * time.Second

// Metrics owns a private registry so multiple daemons in one test binary do not collide.
type Metrics struct {
	registry *prometheus.Registry

	WindowEvents   *prometheus.CounterVec
	SinkSwitches   *prometheus.CounterVec
	ConfigReloads  *prometheus.CounterVec
	IPCRequests    *prometheus.CounterVec
	OpenWindows    prometheus.Gauge
	MatchedWindows prometheus.Gauge
}

// New builds and registers all pwsw collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WindowEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pwsw_window_events_total", Help: "window lifecycle events by kind"},
			[]string{"kind"},
		),
		SinkSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pwsw_sink_switches_total", Help: "sink activations by result"},
			[]string{"result"},
		),
		ConfigReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pwsw_config_reloads_total", Help: "config reloads by result"},
			[]string{"result"},
		),
		IPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pwsw_ipc_requests_total", Help: "ipc requests by command"},
			[]string{"command"},
		),
		OpenWindows: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "pwsw_open_windows", Help: "currently open windows"},
		),
		MatchedWindows: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "pwsw_matched_windows", Help: "open windows matching a rule"},
		),
	}
	m.registry.MustRegister(
		m.WindowEvents,
		m.SinkSwitches,
		m.ConfigReloads,
		m.IPCRequests,
		m.OpenWindows,
		m.MatchedWindows,
	)
	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SetWindows updates both window gauges.
func (m *Metrics) SetWindows(open, matched int) {
	m.OpenWindows.Set(float64(open))
	m.MatchedWindows.Set(float64(matched))
}

// Result maps an operation error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// Router returns the /metrics and /healthz routes.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// Serve listens on addr and serves Router until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %q: %w", addr, err)
	}
	return m.ServeListener(ctx, l, logger)
}

// ServeListener serves Router on an existing listener until ctx is cancelled.
func (m *Metrics) ServeListener(ctx context.Context, l net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	srv := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("metrics listening", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
