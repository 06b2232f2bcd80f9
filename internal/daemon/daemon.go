// Package daemon runs warden's continuous reconciliation under one
// supervision group: the sweep and janitor loops, the dispatcher, the
// metrics endpoint, and the policy watcher live and die together.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/warden/audit"
	"github.com/example/warden/config"
	"github.com/example/warden/policy"
	"github.com/example/warden/reconciler"
	"github.com/example/warden/telemetry"
)

const auditSweepEvery = 6 * time.Hour

// Daemon supervises the periodic reconciliation loops
type Daemon struct {
	cfg        *config.Config
	engine     *reconciler.Engine
	dispatcher *Dispatcher
	policies   *policy.Loader
	logger     *telemetry.Logger
	startTime  time.Time
	ready      atomic.Bool
}

// HealthStatus is the /health response body
type HealthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	SweepRuns     int64  `json:"sweep_runs"`
	JanitorRuns   int64  `json:"janitor_runs"`
	Workloads     int    `json:"workloads"`
}

// New assembles a daemon. policies may be nil when no policy
// directory is configured; the watcher actor is skipped then.
func New(cfg *config.Config, engine *reconciler.Engine, dispatcher *Dispatcher, policies *policy.Loader) *Daemon {
	return &Daemon{
		cfg:        cfg,
		engine:     engine,
		dispatcher: dispatcher,
		policies:   policies,
		logger:     telemetry.NewLogger("daemon"),
		startTime:  time.Now(),
	}
}

// Run blocks until a signal arrives, the context is cancelled, or an
// actor fails. Shutting down on a signal is a clean exit.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	{
		loopCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.sweepLoop(loopCtx)
		}, func(error) {
			cancel()
		})
	}

	{
		loopCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.janitorLoop(loopCtx)
		}, func(error) {
			cancel()
		})
	}

	{
		loopCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.dispatcher.Run(loopCtx)
		}, func(error) {
			cancel()
		})
	}

	{
		loopCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.auditRetentionLoop(loopCtx)
		}, func(error) {
			cancel()
		})
	}

	if d.policies != nil {
		loopCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.policies.Watch(loopCtx)
		}, func(error) {
			cancel()
		})
	}

	{
		srv := &http.Server{
			Addr:              d.cfg.Listen,
			Handler:           d.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(func() error {
			d.logger.WithContext(ctx).Info().
				Str("listen", d.cfg.Listen).
				Msg("serving metrics and health")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		})
	}

	err := g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		d.logger.WithContext(ctx).Info().
			Str("signal", sig.Signal.String()).
			Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sweepLoop reconciles immediately on startup, then on every tick.
// The daemon reports ready once the first pass has finished.
func (d *Daemon) sweepLoop(ctx context.Context) error {
	d.runSweep(ctx)
	d.ready.Store(true)

	ticker := time.NewTicker(d.cfg.Sweep.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.runSweep(ctx)
		}
	}
}

func (d *Daemon) runSweep(ctx context.Context) {
	_, err := d.engine.Sweep(ctx)
	switch {
	case errors.Is(err, reconciler.ErrSweepRunning):
		d.logger.WithContext(ctx).Debug().Msg("sweep still in flight, skipping tick")
	case err != nil:
		d.logger.WithContext(ctx).Error().Err(err).Msg("sweep pass failed")
	}
}

func (d *Daemon) janitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Janitor.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.runJanitor(ctx)
		}
	}
}

func (d *Daemon) runJanitor(ctx context.Context) {
	_, err := d.engine.Diagnose(ctx)
	switch {
	case errors.Is(err, reconciler.ErrJanitorRunning):
		d.logger.WithContext(ctx).Debug().Msg("janitor still in flight, skipping tick")
	case err != nil:
		d.logger.WithContext(ctx).Error().Err(err).Msg("janitor pass failed")
	}
}

// auditRetentionLoop prunes journal files past the retention window
func (d *Daemon) auditRetentionLoop(ctx context.Context) error {
	journalCfg := audit.DefaultConfig()
	journalCfg.RetentionDays = d.cfg.Audit.RetentionDays
	journalCfg.MaxFileSize = d.cfg.Audit.MaxFileSizeMB * 1024 * 1024

	ticker := time.NewTicker(auditSweepEvery)
	defer ticker.Stop()
	for {
		if err := audit.Cleanup(d.cfg.Audit.Dir, journalCfg); err != nil {
			d.logger.WithContext(ctx).Warn().Err(err).Msg("audit retention cleanup failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/ready", d.handleReady)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := d.engine.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(d.startTime).Seconds()),
		SweepRuns:     stats.SweepRuns,
		JanitorRuns:   stats.JanitorRuns,
		Workloads:     stats.Workloads,
	})
}

func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !d.ready.Load() {
		http.Error(w, "waiting for first reconciliation pass", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
