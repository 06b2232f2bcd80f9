// Package reconciler keeps the workload record store truthful against
// the platform that physically runs the workloads. It houses the
// deletion coordinator, the reconciliation sweep, the stuck-state
// janitor, and the adoption importer, plus the engine facade that
// exposes them to the CLI and the daemon.
package reconciler

import (
	"context"
	"sync/atomic"

	"github.com/example/warden/alert"
	"github.com/example/warden/audit"
	"github.com/example/warden/netalloc"
	"github.com/example/warden/platform"
	"github.com/example/warden/types"
)

// EngineStats are cumulative counters since process start
type EngineStats struct {
	SoftDeletions    int64 `json:"soft_deletions"`
	HardDeletions    int64 `json:"hard_deletions"`
	Adoptions        int64 `json:"adoptions"`
	SweepRuns        int64 `json:"sweep_runs"`
	OrphansExpected  int64 `json:"orphans_expected"`
	OrphansAnomalous int64 `json:"orphans_anomalous"`
	DriftResolved    int64 `json:"drift_resolved"`
	JanitorRuns      int64 `json:"janitor_runs"`
	MarkedError      int64 `json:"marked_error"`
	Workloads        int   `json:"workloads"`
	StoreRevision    int64 `json:"store_revision"`
}

// Engine is the exposed surface of the reconciler: one-shot operations
// for callers plus the periodic passes the daemon schedules
type Engine struct {
	repo    Repository
	deleter *Deleter
	adopter *Adopter
	sweep   *Sweep
	janitor *Janitor

	softDeletions    atomic.Int64
	hardDeletions    atomic.Int64
	adoptions        atomic.Int64
	sweepRuns        atomic.Int64
	orphansExpected  atomic.Int64
	orphansAnomalous atomic.Int64
	driftResolved    atomic.Int64
	janitorRuns      atomic.Int64
	markedError      atomic.Int64
}

// NewEngine wires the reconciler components around shared dependencies
func NewEngine(repo Repository, client platform.Client, ports netalloc.Allocator, journal *audit.Log, notifier alert.Notifier, admission Admission, opts Options) *Engine {
	return &Engine{
		repo:    repo,
		deleter: NewDeleter(repo, client, ports, journal, notifier, admission, opts),
		adopter: NewAdopter(repo, client, journal, admission, opts),
		sweep:   NewSweep(repo, client, ports, journal, notifier, opts),
		janitor: NewJanitor(repo, journal, notifier, opts.Deadlines),
	}
}

// RequestDelete tears down the workload with the given id
func (e *Engine) RequestDelete(ctx context.Context, id string) error {
	result, err := e.deleter.Delete(ctx, id)
	if err != nil {
		return err
	}
	if result.Path == DeletePathSoft {
		e.softDeletions.Add(1)
	} else {
		e.hardDeletions.Add(1)
	}
	return nil
}

// RequestAdopt imports the resource behind the handle under management
func (e *Engine) RequestAdopt(ctx context.Context, h types.Handle) (*types.Workload, error) {
	w, err := e.adopter.Adopt(ctx, h)
	if err != nil {
		return nil, err
	}
	e.adoptions.Add(1)
	return w, nil
}

// GetWorkload returns the record with the given id
func (e *Engine) GetWorkload(ctx context.Context, id string) (*types.Workload, error) {
	return e.repo.Get(id)
}

// ListWorkloads returns the records matching the filter
func (e *Engine) ListWorkloads(ctx context.Context, filter types.WorkloadFilter) ([]types.Workload, error) {
	return e.repo.List(filter)
}

// Sweep runs one reconciliation pass
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	result, err := e.sweep.Run(ctx)
	if result != nil {
		e.sweepRuns.Add(1)
		e.orphansExpected.Add(int64(result.OrphansExpected))
		e.orphansAnomalous.Add(int64(result.OrphansAnomalous))
		e.driftResolved.Add(int64(result.DriftResolved))
	}
	return result, err
}

// Diagnose runs one stuck-state diagnosis pass
func (e *Engine) Diagnose(ctx context.Context) (*JanitorResult, error) {
	result, err := e.janitor.Run(ctx)
	if result != nil {
		e.janitorRuns.Add(1)
		e.markedError.Add(int64(result.MarkedError))
	}
	return result, err
}

// Stats returns the engine's cumulative counters and current store size
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		SoftDeletions:    e.softDeletions.Load(),
		HardDeletions:    e.hardDeletions.Load(),
		Adoptions:        e.adoptions.Load(),
		SweepRuns:        e.sweepRuns.Load(),
		OrphansExpected:  e.orphansExpected.Load(),
		OrphansAnomalous: e.orphansAnomalous.Load(),
		DriftResolved:    e.driftResolved.Load(),
		JanitorRuns:      e.janitorRuns.Load(),
		MarkedError:      e.markedError.Load(),
		Workloads:        e.repo.Count(),
		StoreRevision:    e.repo.CurrentRevision(),
	}
}
