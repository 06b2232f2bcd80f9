package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/daemon"
	"github.com/example/warden/types"
)

// adoptCmd represents the adopt command
var adoptCmd = &cobra.Command{
	Use:   "adopt <node>/<resource-id>",
	Short: "Bring an existing resource under management",
	Long: `Adopt a resource that already exists on the platform. The
resource is inspected, its configuration is captured as a frozen
snapshot, and a record is created marked as adopted. Deleting an
adopted workload later never destroys the resource.`,
	Example: `  warden adopt node-a/vm-7c2e
  warden adopt us-east-1/i-0f3a9c1b2d4e5f6a7`,
	Args: cobra.ExactArgs(1),
	RunE: runAdopt,
}

func init() {
	rootCmd.AddCommand(adoptCmd)
}

func runAdopt(cmd *cobra.Command, args []string) error {
	h, err := types.ParseHandle(args[0])
	if err != nil {
		return err
	}

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

	if err := dispatcher.SubmitWait(ctx, &daemon.Task{Kind: daemon.TaskAdopt, Handle: h}); err != nil {
		return fmt.Errorf("adopting %s: %w", h, err)
	}

	w, err := app.store.GetByHandle(h)
	if err != nil {
		return fmt.Errorf("adopted %s but could not read it back: %w", h, err)
	}

	fmt.Printf("📥 Adopted %s\n", h)
	fmt.Printf("   Workload: %s\n", w.ID)
	fmt.Printf("   Status:   %s\n", w.Status)
	if w.ConfigSnapshot != nil {
		fmt.Printf("   Snapshot: %d keys captured\n", len(w.ConfigSnapshot.Config))
	}
	return nil
}
