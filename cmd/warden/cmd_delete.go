package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/warden/config"
	"github.com/example/warden/internal/daemon"
)

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <workload-id>...",
	Short: "Tear down workloads",
	Long: `Delete one or more workloads. Adopted workloads release their
ports and record only; the resource stays untouched. Native workloads
are stopped, destroyed on the platform, and then released.

Attempts that fail because the platform is unreachable are retried
with backoff before giving up.`,
	Example: `  warden delete w-7f3a9c
  warden delete w-7f3a9c w-b2e1d0`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	dispatcher, stop := startDispatcher(ctx, cfg, app)
	defer stop()

	failed := 0
	for _, id := range args {
		if err := dispatcher.SubmitWait(ctx, &daemon.Task{Kind: daemon.TaskDelete, ID: id}); err != nil {
			fmt.Printf("❌ %s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("🗑️  %s deleted\n", id)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(args))
	}
	return nil
}

// startDispatcher runs a worker pool for the lifetime of the command
func startDispatcher(ctx context.Context, cfg *config.Config, app *app) (*daemon.Dispatcher, func()) {
	dispatcher := daemon.NewDispatcher(app.engine, daemon.DispatcherOptions{
		Workers:      cfg.Dispatcher.Workers,
		QueueSize:    cfg.Dispatcher.QueueSize,
		MaxRetries:   cfg.Dispatcher.MaxRetries,
		RetryBackoff: cfg.Dispatcher.RetryBackoff,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(runCtx)
	}()

	return dispatcher, func() {
		cancel()
		<-done
	}
}
