package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var getJSON bool

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:     "get <workload-id>",
	Short:   "Show one workload record",
	Example: `  warden get w-7f3a9c
  warden get w-7f3a9c --json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().BoolVar(&getJSON, "json", false, "Print the raw record as JSON")
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	w, err := store.Get(args[0])
	if err != nil {
		return err
	}

	if getJSON {
		out, err := json.MarshalIndent(w, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("ID:          %s\n", w.ID)
	if w.Name != "" {
		fmt.Printf("Name:        %s\n", w.Name)
	}
	fmt.Printf("Status:      %s\n", w.Status)
	fmt.Printf("Provenance:  %s\n", w.Provenance)
	if !w.Handle.IsZero() {
		fmt.Printf("Handle:      %s\n", w.Handle)
	}
	if len(w.Ports) > 0 {
		fmt.Printf("Ports:       %v\n", w.Ports)
	}
	fmt.Printf("Revision:    %d\n", w.Rev)
	fmt.Printf("Since:       %s (in %s for %s)\n",
		w.StatusChangedAt.Format(time.RFC3339), w.Status,
		time.Since(w.StatusChangedAt).Round(time.Second))
	if w.LastError != "" {
		fmt.Printf("Last error:  %s\n", w.LastError)
	}
	if w.ConfigSnapshot != nil {
		fmt.Printf("Snapshot:    %d keys, captured %s\n",
			len(w.ConfigSnapshot.Config),
			w.ConfigSnapshot.CapturedAt.Format(time.RFC3339))
	}
	return nil
}
