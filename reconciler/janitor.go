package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/warden/alert"
	"github.com/example/warden/audit"
	"github.com/example/warden/lifecycle"
	"github.com/example/warden/storage"
	"github.com/example/warden/telemetry"
	"github.com/example/warden/types"
)

// stuckData is the audit payload for janitor markings
type stuckData struct {
	Status   types.Status `json:"status"`
	Dwell    string       `json:"dwell"`
	Deadline string       `json:"deadline"`
}

// Janitor diagnoses workloads stuck in transitional states. It works
// purely from record timestamps and never talks to the platform;
// records it marks error become anomalous orphans for the next sweep
// to clean up once their resource is gone.
type Janitor struct {
	repo      Repository
	journal   *audit.Log
	notifier  alert.Notifier
	logger    *telemetry.Logger
	tracer    trace.Tracer
	deadlines lifecycle.Deadlines
	running   atomic.Bool
}

// NewJanitor creates a stuck-state diagnostician
func NewJanitor(repo Repository, journal *audit.Log, notifier alert.Notifier, deadlines lifecycle.Deadlines) *Janitor {
	return &Janitor{
		repo:      repo,
		journal:   journal,
		notifier:  notifier,
		logger:    telemetry.NewLogger("janitor"),
		tracer:    otel.Tracer("janitor"),
		deadlines: deadlines,
	}
}

// Run performs one diagnosis pass. Runs never overlap; a second caller
// gets ErrJanitorRunning while one is in flight.
func (j *Janitor) Run(ctx context.Context) (*JanitorResult, error) {
	if !j.running.CompareAndSwap(false, true) {
		return nil, ErrJanitorRunning
	}
	defer j.running.Store(false)

	ctx, span := j.tracer.Start(ctx, "janitor.run")
	defer span.End()

	result := &JanitorResult{StartedAt: time.Now()}

	workloads, err := j.repo.List(types.WorkloadFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list workloads: %w", err)
	}

	now := time.Now().UTC()
	for i := range workloads {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(result.StartedAt)
			return result, err
		}
		j.diagnose(ctx, span, &workloads[i], now, result)
	}

	result.Duration = time.Since(result.StartedAt)
	j.logger.WithContext(ctx).Info().
		Int("examined", result.Examined).
		Int("marked_error", result.MarkedError).
		Int("conflicts", result.Conflicts).
		Dur("duration", result.Duration).
		Msg("janitor pass complete")

	return result, nil
}

// diagnose checks one record's dwell time and marks it error when the
// deadline has passed. Item failures are logged and counted, never
// propagated.
func (j *Janitor) diagnose(ctx context.Context, span trace.Span, w *types.Workload, now time.Time, result *JanitorResult) {
	if !lifecycle.IsTransitional(w.Status) {
		return
	}
	result.Examined++

	dwell, exceeded := j.deadlines.Exceeded(w, now)
	if !exceeded {
		return
	}

	marked, err := j.markStuck(w, now)
	switch {
	case errors.Is(err, storage.ErrConflict):
		result.Conflicts++
		j.logger.WithContext(ctx).Warn().
			Str("workload_id", w.ID).
			Msg("record changed mid diagnosis, leaving for next pass")
		return
	case err != nil:
		j.logger.LogStorageError(ctx, "mark stuck workload", err)
		return
	case !marked:
		return
	}

	result.MarkedError++
	telemetry.MarkedError.Add(ctx, 1)
	j.logger.LogDeadlineExceeded(ctx, w.ID, string(w.Status), dwell)
	telemetry.RecordDeadlineExceededEvent(span, w.ID, string(w.Status),
		dwell.Seconds(), "transitional deadline exceeded")

	j.recordMarking(ctx, w, dwell)
}

// markStuck moves a stuck record to error state with a compare-and-swap
// on the listed revision. A lost race is re-evaluated against the
// fresh record and retried once; a record that made progress in the
// meantime is left alone.
func (j *Janitor) markStuck(w *types.Workload, now time.Time) (bool, error) {
	msg := j.stuckMessage(w, now)

	_, err := j.repo.UpdateStatus(w.ID, w.Rev, types.StatusError, msg)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return false, err
	}

	current, err := j.repo.Get(w.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reread after conflict: %w", err)
	}

	if current.Status != w.Status {
		return false, nil
	}
	if _, exceeded := j.deadlines.Exceeded(current, now); !exceeded {
		return false, nil
	}

	if _, err := j.repo.UpdateStatus(current.ID, current.Rev, types.StatusError, msg); err != nil {
		return false, err
	}
	return true, nil
}

// stuckMessage formats the diagnostic stored on the record
func (j *Janitor) stuckMessage(w *types.Workload, now time.Time) string {
	limit, _ := j.deadlines.For(w.Status)
	dwell := now.Sub(w.StatusChangedAt)
	return fmt.Sprintf("stuck in %s for %s, deadline %s",
		w.Status, dwell.Round(time.Second), limit)
}

// recordMarking journals the marking and raises a warning alert
func (j *Janitor) recordMarking(ctx context.Context, w *types.Workload, dwell time.Duration) {
	limit, _ := j.deadlines.For(w.Status)

	if err := j.journal.Append(audit.EventMarkedError, w.ID, w.Handle.String(),
		stuckData{Status: w.Status, Dwell: dwell.Round(time.Second).String(), Deadline: limit.String()}); err != nil {
		j.logger.WithContext(ctx).Warn().Err(err).Msg("failed to journal marking")
	}

	err := j.notifier.Notify(ctx, alert.SeverityWarning,
		"workload stuck past its state deadline", map[string]string{
			"workload_id": w.ID,
			"name":        w.Name,
			"handle":      w.Handle.String(),
			"status":      string(w.Status),
			"dwell":       dwell.Round(time.Second).String(),
		})
	if err != nil {
		j.logger.WithContext(ctx).Warn().Err(err).Msg("failed to deliver stuck alert")
	}
}
