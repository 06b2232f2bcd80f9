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

var janitorOnce bool

// janitorCmd represents the janitor command
var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Mark records stuck in transitional states",
	Long: `Examine every record in a transitional state (pending,
provisioning, removing) and move the ones that have dwelt past their
deadline into the error state, where the sweep can reach them.`,
	Example: `  warden janitor --once    # Single pass, then exit
  warden janitor           # Loop at the configured interval`,
	RunE: runJanitorCmd,
}

func init() {
	rootCmd.AddCommand(janitorCmd)
	janitorCmd.Flags().BoolVar(&janitorOnce, "once", false, "Run a single pass and exit")
}

func runJanitorCmd(cmd *cobra.Command, args []string) error {
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

	res, err := app.engine.Diagnose(ctx)
	if err != nil {
		return fmt.Errorf("janitor failed: %w", err)
	}
	printJanitorResult(res)

	if janitorOnce {
		return nil
	}

	ticker := time.NewTicker(cfg.Janitor.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := app.engine.Diagnose(ctx)
			if err != nil {
				log.Error().Err(err).Msg("janitor pass failed")
				continue
			}
			printJanitorResult(res)
		}
	}
}

func printJanitorResult(res *reconciler.JanitorResult) {
	fmt.Printf("🩺 Janitor: %d transitional examined, %d marked error, %d conflicts (%s)\n",
		res.Examined, res.MarkedError, res.Conflicts, res.Duration.Round(time.Millisecond))
}
