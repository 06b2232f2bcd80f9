package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/warden/alert"
	"github.com/example/warden/audit"
	"github.com/example/warden/lifecycle"
	"github.com/example/warden/netalloc"
	"github.com/example/warden/platform"
	"github.com/example/warden/storage"
	"github.com/example/warden/telemetry"
	"github.com/example/warden/types"
)

// orphanData is the audit payload for orphan events
type orphanData struct {
	Status types.Status          `json:"status"`
	Class  lifecycle.OrphanClass `json:"class"`
	Ports  []int                 `json:"ports,omitempty"`
}

// Sweep is the periodic reconciliation pass. It walks every record
// that claims a physical resource, asks the platform whether the
// resource still exists, and cleans up the records left orphaned.
// Resources that resolve are left alone; an unreachable platform is
// never treated as absence.
type Sweep struct {
	repo     Repository
	platform platform.Client
	ports    netalloc.Allocator
	journal  *audit.Log
	notifier alert.Notifier
	logger   *telemetry.Logger
	tracer   trace.Tracer
	opts     Options
	running  atomic.Bool
}

// NewSweep creates a reconciliation sweep
func NewSweep(repo Repository, client platform.Client, ports netalloc.Allocator, journal *audit.Log, notifier alert.Notifier, opts Options) *Sweep {
	return &Sweep{
		repo:     repo,
		platform: client,
		ports:    ports,
		journal:  journal,
		notifier: notifier,
		logger:   telemetry.NewLogger("sweep"),
		tracer:   otel.Tracer("sweep"),
		opts:     opts,
	}
}

// Run performs one reconciliation pass. Runs never overlap; a second
// caller gets ErrSweepRunning while one is in flight.
func (s *Sweep) Run(ctx context.Context) (*SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepRunning
	}
	defer s.running.Store(false)

	ctx, span := s.tracer.Start(ctx, "sweep.run")
	defer span.End()

	result := &SweepResult{StartedAt: time.Now()}

	if err := s.journal.Append(audit.EventSweepStarted, "", "", nil); err != nil {
		return nil, fmt.Errorf("failed to journal sweep start: %w", err)
	}

	workloads, err := s.listTracked()
	if err != nil {
		return nil, err
	}

	for i := range workloads {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, span, result, err)
		}
		s.examine(ctx, span, &workloads[i], result)
	}

	return s.finish(ctx, span, result, nil)
}

// listTracked returns every record that claims a physical resource
func (s *Sweep) listTracked() ([]types.Workload, error) {
	hasHandle := true
	workloads, err := s.repo.List(types.WorkloadFilter{HasHandle: &hasHandle})
	if err != nil {
		return nil, fmt.Errorf("failed to list workloads: %w", err)
	}
	return workloads, nil
}

// examine resolves one record against the platform. Item failures are
// logged and counted, never propagated, so one bad record cannot stall
// the rest of the pass.
func (s *Sweep) examine(ctx context.Context, span trace.Span, w *types.Workload, result *SweepResult) {
	result.Examined++

	callCtx, cancel := platformCtx(ctx, s.opts.PlatformTimeout)
	_, err := s.platform.Inspect(callCtx, w.Handle)
	cancel()

	switch {
	case err == nil:
		// Resource resolves, the record stands
		return
	case platform.IsUnreachable(err):
		result.Skipped++
		s.logger.LogPlatformError(ctx, "inspect", w.Handle.String(), err)
	case platform.IsNotFound(err):
		s.handleOrphan(ctx, span, w, result)
	default:
		result.Skipped++
		s.logger.LogPlatformError(ctx, "inspect", w.Handle.String(), err)
	}
}

// handleOrphan classifies a record whose resource is gone, raises the
// alarm when the disappearance was not expected, and cleans the record
// up either way
func (s *Sweep) handleOrphan(ctx context.Context, span trace.Span, w *types.Workload, result *SweepResult) {
	class := lifecycle.ClassifyOrphan(w.Status)
	s.logger.LogOrphan(ctx, w.ID, string(class), string(w.Status))
	telemetry.RecordOrphanDetectedEvent(span, w.ID, w.Handle.String(),
		string(w.Status), string(class), "record resource no longer exists")
	telemetry.OrphansFound.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", string(class))))

	event := audit.EventOrphanExpected
	if class == lifecycle.OrphanAnomalous {
		event = audit.EventOrphanAnomalous
		result.OrphansAnomalous++
		s.alertAnomalous(ctx, w)
	} else {
		result.OrphansExpected++
	}

	if err := s.journal.Append(event, w.ID, w.Handle.String(),
		orphanData{Status: w.Status, Class: class, Ports: w.Ports}); err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Msg("failed to journal orphan")
	}

	s.cleanupOrphan(ctx, w, class, result)
}

// alertAnomalous raises a critical alert carrying the workload identity
func (s *Sweep) alertAnomalous(ctx context.Context, w *types.Workload) {
	err := s.notifier.Notify(ctx, alert.SeverityCritical,
		"workload resource disappeared out of band", map[string]string{
			"workload_id": w.ID,
			"name":        w.Name,
			"handle":      w.Handle.String(),
			"status":      string(w.Status),
		})
	if err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Msg("failed to deliver orphan alert")
	}
}

// cleanupOrphan releases the record's port claims and removes it. A
// record that changed since the listing is skipped; the next pass
// re-examines it.
func (s *Sweep) cleanupOrphan(ctx context.Context, w *types.Workload, class lifecycle.OrphanClass, result *SweepResult) {
	if len(w.Ports) > 0 {
		if err := s.ports.Release(ctx, w.Ports); err != nil {
			result.Skipped++
			s.logger.WithContext(ctx).Warn().Err(err).
				Str("workload_id", w.ID).
				Msg("failed to release orphan ports")
			return
		}
	}

	err := s.repo.Delete(w.ID, w.Rev)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		// Already cleaned up elsewhere
		return
	case errors.Is(err, storage.ErrConflict):
		result.Conflicts++
		telemetry.StorageConflicts.Add(ctx, 1)
		s.logger.WithContext(ctx).Warn().
			Str("workload_id", w.ID).
			Msg("record changed mid sweep, leaving for next pass")
		return
	default:
		result.Skipped++
		s.logger.LogStorageError(ctx, "delete orphan record", err)
		return
	}

	result.DriftResolved++
	telemetry.DriftResolved.Add(ctx, 1)
	if err := s.journal.Append(audit.EventDriftResolved, w.ID, w.Handle.String(),
		orphanData{Status: w.Status, Class: class, Ports: w.Ports}); err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Msg("failed to journal cleanup")
	}
}

// finish stamps the result, journals it, and records metrics. Called
// on both completed and cancelled passes so partial work is visible.
func (s *Sweep) finish(ctx context.Context, span trace.Span, result *SweepResult, runErr error) (*SweepResult, error) {
	result.Duration = time.Since(result.StartedAt)

	if err := s.journal.Append(audit.EventSweepCompleted, "", "", result); err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Msg("failed to journal sweep result")
	}

	telemetry.SweepsTotal.Add(ctx, 1)
	telemetry.SweepDuration.Record(ctx, result.Duration.Seconds())
	telemetry.WorkloadsInStore.Record(ctx, int64(s.repo.Count()))
	telemetry.StorageRevision.Record(ctx, s.repo.CurrentRevision())
	telemetry.RecordSweepCompletedEvent(span,
		int64(result.Examined), int64(result.OrphansExpected),
		int64(result.OrphansAnomalous), int64(result.DriftResolved),
		result.Duration.Seconds(), "sweep completed")

	s.logger.LogSweepComplete(ctx, result.OrphansExpected, result.OrphansAnomalous,
		result.DriftResolved, result.Conflicts, result.Duration)

	return result, runErr
}
