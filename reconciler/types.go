package reconciler

import (
	"context"
	"time"

	"github.com/example/warden/lifecycle"
	"github.com/example/warden/policy"
	"github.com/example/warden/storage"
	"github.com/example/warden/types"
)

// Repository is the record store surface the reconciler consumes
type Repository interface {
	Get(id string) (*types.Workload, error)
	GetByHandle(h types.Handle) (*types.Workload, error)
	List(filter types.WorkloadFilter) ([]types.Workload, error)
	Create(w *types.Workload) error
	UpdateStatus(id string, expectedRev int64, to types.Status, msg string) (*types.Workload, error)
	Delete(id string, expectedRev int64) error
	Count() int
	CurrentRevision() int64
}

var _ Repository = (*storage.Store)(nil)

// Admission gates destructive operations before they run. A nil gate
// allows everything.
type Admission interface {
	Evaluate(ctx context.Context, input policy.AdmissionInput) (policy.AdmissionDecision, error)
}

var _ Admission = (*policy.Engine)(nil)

// Options tune the timing behavior of the reconciler components
type Options struct {
	// PlatformTimeout bounds each individual platform call
	PlatformTimeout time.Duration
	// StopWait bounds how long a hard delete waits for graceful shutdown
	StopWait time.Duration
	// StopPoll is the interval between shutdown checks
	StopPoll time.Duration
	// Deadlines are the per-state dwell limits the janitor enforces
	Deadlines lifecycle.Deadlines
}

// DefaultOptions returns the stock timing configuration
func DefaultOptions() Options {
	return Options{
		PlatformTimeout: 30 * time.Second,
		StopWait:        2 * time.Minute,
		StopPoll:        2 * time.Second,
		Deadlines:       lifecycle.DefaultDeadlines(),
	}
}

// DeletePath records which teardown variant a deletion took
type DeletePath string

const (
	// DeletePathSoft releases bookkeeping only, the platform is never touched
	DeletePathSoft DeletePath = "soft"
	// DeletePathHard stops and destroys the physical resource first
	DeletePathHard DeletePath = "hard"
)

// DeleteResult describes a completed deletion
type DeleteResult struct {
	WorkloadID string        `json:"workload_id"`
	Handle     string        `json:"handle,omitempty"`
	Path       DeletePath    `json:"path"`
	Ports      []int         `json:"ports,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// SweepResult is the outcome of one reconciliation pass
type SweepResult struct {
	StartedAt        time.Time     `json:"started_at"`
	Examined         int           `json:"examined"`
	OrphansExpected  int           `json:"orphans_expected"`
	OrphansAnomalous int           `json:"orphans_anomalous"`
	DriftResolved    int           `json:"drift_resolved"`
	Conflicts        int           `json:"conflicts"`
	Skipped          int           `json:"skipped"`
	Duration         time.Duration `json:"duration"`
}

// JanitorResult is the outcome of one stuck-state diagnosis pass
type JanitorResult struct {
	StartedAt   time.Time     `json:"started_at"`
	Examined    int           `json:"examined"`
	MarkedError int           `json:"marked_error"`
	Conflicts   int           `json:"conflicts"`
	Duration    time.Duration `json:"duration"`
}
