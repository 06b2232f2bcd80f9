package reconciler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/warden/lifecycle"
	"github.com/example/warden/types"
)

// Summary aggregates a workload listing for operator-facing output
type Summary struct {
	Total        int
	ByStatus     map[types.Status]int
	ByProvenance map[types.Provenance]int
	ByNode       map[string]int
	InError      []string
	InFlight     []string
	OldestRecord time.Time
	NewestRecord time.Time
}

// Summarize analyzes a workload listing and generates a fleet summary
func Summarize(workloads []types.Workload) Summary {
	summary := Summary{
		Total:        len(workloads),
		ByStatus:     make(map[types.Status]int),
		ByProvenance: make(map[types.Provenance]int),
		ByNode:       make(map[string]int),
	}

	for _, w := range workloads {
		summary.ByStatus[w.Status]++
		summary.ByProvenance[w.Provenance]++
		if w.HasHandle() {
			summary.ByNode[w.Handle.Node]++
		}

		if w.Status == types.StatusError {
			summary.InError = append(summary.InError, w.ID)
		}
		if lifecycle.IsTransitional(w.Status) {
			summary.InFlight = append(summary.InFlight, w.ID)
		}

		if summary.OldestRecord.IsZero() || w.CreatedAt.Before(summary.OldestRecord) {
			summary.OldestRecord = w.CreatedAt
		}
		if summary.NewestRecord.IsZero() || w.CreatedAt.After(summary.NewestRecord) {
			summary.NewestRecord = w.CreatedAt
		}
	}

	return summary
}

// Format generates formatted output for the fleet summary
func (s Summary) Format() string {
	var b strings.Builder

	b.WriteString("════════════════════════════════════════════════════\n")
	b.WriteString(fmt.Sprintf("  WORKLOAD FLEET - %d records\n", s.Total))
	b.WriteString("════════════════════════════════════════════════════\n\n")

	if len(s.ByStatus) > 0 {
		b.WriteString("STATUS\n")
		for _, status := range types.AllStatuses() {
			if count, ok := s.ByStatus[status]; ok {
				b.WriteString(fmt.Sprintf("  %3d  %s\n", count, status))
			}
		}
		b.WriteString("\n")
	}

	if len(s.ByProvenance) > 0 {
		b.WriteString("PROVENANCE\n")
		for _, prov := range sortedProvenances(s.ByProvenance) {
			b.WriteString(fmt.Sprintf("  %3d  %s\n", s.ByProvenance[prov], prov))
		}
		b.WriteString("\n")
	}

	if len(s.ByNode) > 0 {
		b.WriteString("NODES\n")
		for _, node := range sortedNodes(s.ByNode) {
			b.WriteString(fmt.Sprintf("  %3d  %s\n", s.ByNode[node], node))
		}
		b.WriteString("\n")
	}

	b.WriteString("ATTENTION\n")
	b.WriteString(fmt.Sprintf("  %3d  records in error state\n", len(s.InError)))
	b.WriteString(fmt.Sprintf("  %3d  records mid transition\n\n", len(s.InFlight)))

	if !s.OldestRecord.IsZero() && !s.NewestRecord.IsZero() {
		b.WriteString("RECORD AGE\n")
		b.WriteString(fmt.Sprintf("  Oldest record created %s\n", formatAge(s.OldestRecord)))
		b.WriteString(fmt.Sprintf("  Newest record created %s\n", formatAge(s.NewestRecord)))
	}

	return b.String()
}

// sortedProvenances returns the provenance keys in stable order
func sortedProvenances(m map[types.Provenance]int) []types.Provenance {
	keys := make([]types.Provenance, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// sortedNodes returns the node keys in stable order
func sortedNodes(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatAge converts a timestamp to human-readable age
func formatAge(t time.Time) string {
	duration := time.Since(t)

	years := int(duration.Hours() / 24 / 365)
	if years > 0 {
		months := int(duration.Hours()/24/30) % 12
		if months > 0 {
			return fmt.Sprintf("%d years, %d months ago", years, months)
		}
		return fmt.Sprintf("%d years ago", years)
	}

	months := int(duration.Hours() / 24 / 30)
	if months > 0 {
		return fmt.Sprintf("%d months ago", months)
	}

	days := int(duration.Hours() / 24)
	if days > 0 {
		return fmt.Sprintf("%d days ago", days)
	}

	hours := int(duration.Hours())
	if hours > 0 {
		return fmt.Sprintf("%d hours ago", hours)
	}

	return "just now"
}
