package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/daemon"
	"github.com/example/warden/telemetry"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run continuous reconciliation",
	Long: `Run warden in daemon mode for continuous reconciliation.

The daemon sweeps records against live platform state at the configured
interval, marks records stuck in transitional states, executes queued
delete and adopt submissions, and prunes the audit journal.

Features:
- Sweep and janitor loops under one supervision group
- Prometheus metrics on /metrics
- Health checks on /health and /-/ready
- Hot-reloaded admission policies
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  warden daemon                          # Run with defaults
  warden daemon --config warden.yaml     # Explicit config file`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "warden",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTELEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutCtx)
	}()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	dispatcher := daemon.NewDispatcher(app.engine, daemon.DispatcherOptions{
		Workers:      cfg.Dispatcher.Workers,
		QueueSize:    cfg.Dispatcher.QueueSize,
		MaxRetries:   cfg.Dispatcher.MaxRetries,
		RetryBackoff: cfg.Dispatcher.RetryBackoff,
	})

	fmt.Printf("🚀 Starting warden daemon...\n")
	fmt.Printf("   Driver: %s\n", cfg.Platform.Driver)
	fmt.Printf("   Sweep interval: %s\n", cfg.Sweep.Interval)
	fmt.Printf("   Janitor interval: %s\n", cfg.Janitor.Interval)
	fmt.Printf("   Listen: %s\n\n", cfg.Listen)

	if err := daemon.New(cfg, app.engine, dispatcher, app.policies).Run(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	fmt.Println("\n👋 Daemon stopped")
	return nil
}
