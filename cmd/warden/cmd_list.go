package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/warden/reconciler"
	"github.com/example/warden/types"
)

var (
	listStatus  string
	listNode    string
	listSummary bool
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workload records",
	Example: `  warden list                    # All records
  warden list --status running   # Filter by status
  warden list --node node-a      # Filter by node
  warden list --summary          # Fleet summary instead of rows`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&listNode, "node", "", "Filter by node")
	listCmd.Flags().BoolVar(&listSummary, "summary", false, "Print a fleet summary")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	filter := types.WorkloadFilter{
		Status: types.Status(listStatus),
		Node:   listNode,
	}
	workloads, err := store.List(filter)
	if err != nil {
		return err
	}

	if listSummary {
		fmt.Print(reconciler.Summarize(workloads).Format())
		return nil
	}

	if len(workloads) == 0 {
		fmt.Println("No workloads found.")
		return nil
	}

	fmt.Printf("%-14s %-18s %-13s %-9s %-28s %s\n", "ID", "NAME", "STATUS", "PROV", "HANDLE", "SINCE")
	for i := range workloads {
		w := &workloads[i]
		handle := "-"
		if !w.Handle.IsZero() {
			handle = w.Handle.String()
		}
		fmt.Printf("%-14s %-18s %-13s %-9s %-28s %s\n",
			w.ID, w.Name, w.Status, w.Provenance, handle,
			time.Since(w.StatusChangedAt).Round(time.Second))
	}
	fmt.Printf("\n%d records\n", len(workloads))
	return nil
}
