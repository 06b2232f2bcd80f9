package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/example/warden/reconciler"
)

var sweepOnce bool

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reconcile records against live platform state",
	Long: `Walk every record with a handle and verify its resource still
exists on the platform. Orphaned records are classified, alerted on
when anomalous, and cleaned up. Unreachable nodes are skipped and
re-examined on the next pass.`,
	Example: `  warden sweep --once    # Single pass, then exit
  warden sweep           # Loop at the configured interval`,
	RunE: runSweepCmd,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single pass and exit")
}

func runSweepCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	res, err := app.engine.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	printSweepResult(res)

	if sweepOnce {
		return nil
	}

	ticker := time.NewTicker(cfg.Sweep.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := app.engine.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("sweep pass failed")
				continue
			}
			printSweepResult(res)
		}
	}
}

func printSweepResult(res *reconciler.SweepResult) {
	fmt.Printf("🔍 Sweep: %d examined, %d expected orphans, %d anomalous orphans, %d cleaned, %d skipped, %d conflicts (%s)\n",
		res.Examined, res.OrphansExpected, res.OrphansAnomalous, res.DriftResolved, res.Skipped, res.Conflicts,
		res.Duration.Round(time.Millisecond))
}
