package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/warden/audit"
)

var auditSince time.Duration

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay the audit journal",
	Long: `Print journal entries in order: adoptions, deletions with the
path they took, sweep outcomes, and janitor markings. The journal is
append-only; what happened is what it says.`,
	Example: `  warden audit                 # Last 24 hours
  warden audit --since 168h    # Last week
  warden audit --since 30m`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().DurationVar(&auditSince, "since", 24*time.Hour, "How far back to replay")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	since := time.Now().Add(-auditSince)
	count := 0
	err = audit.ReplayWithConfig(cfg.Audit.Dir, auditConfig(cfg), since, func(e *audit.Entry) error {
		line := fmt.Sprintf("%s  #%-6d %-20s", e.Timestamp.Format(time.RFC3339), e.Sequence, e.Event)
		if e.WorkloadID != "" {
			line += " " + e.WorkloadID
		}
		if e.Handle != "" {
			line += " " + e.Handle
		}
		if e.Error != "" {
			line += "  error: " + e.Error
		}
		fmt.Println(line)
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replaying journal: %w", err)
	}

	fmt.Printf("\n%d entries since %s\n", count, since.Format(time.RFC3339))
	return nil
}
