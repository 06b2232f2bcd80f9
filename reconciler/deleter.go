package reconciler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/warden/alert"
	"github.com/example/warden/audit"
	"github.com/example/warden/netalloc"
	"github.com/example/warden/platform"
	"github.com/example/warden/policy"
	"github.com/example/warden/telemetry"
	"github.com/example/warden/types"
)

// teardownData is the audit payload for deletion events
type teardownData struct {
	Path   DeletePath   `json:"path"`
	Status types.Status `json:"status,omitempty"`
	Ports  []int        `json:"ports,omitempty"`
	Step   string       `json:"step,omitempty"`
}

// Deleter coordinates workload teardown. Adopted workloads get a soft
// delete that never touches the platform; native workloads are stopped
// and destroyed first. The record is only removed once the physical
// side is confirmed gone.
type Deleter struct {
	repo      Repository
	platform  platform.Client
	ports     netalloc.Allocator
	journal   *audit.Log
	notifier  alert.Notifier
	admission Admission
	logger    *telemetry.Logger
	tracer    trace.Tracer
	opts      Options
}

// NewDeleter creates a deletion coordinator
func NewDeleter(repo Repository, client platform.Client, ports netalloc.Allocator, journal *audit.Log, notifier alert.Notifier, admission Admission, opts Options) *Deleter {
	return &Deleter{
		repo:      repo,
		platform:  client,
		ports:     ports,
		journal:   journal,
		notifier:  notifier,
		admission: admission,
		logger:    telemetry.NewLogger("deleter"),
		tracer:    otel.Tracer("deleter"),
		opts:      opts,
	}
}

// Delete tears down the workload with the given id. Failures leave the
// record in place so the operation can be retried.
func (d *Deleter) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	ctx, span := d.tracer.Start(ctx, "deleter.delete",
		trace.WithAttributes(attribute.String("workload.id", id)))
	defer span.End()

	startTime := time.Now()

	w, err := d.repo.Get(id)
	if err != nil {
		return nil, err
	}

	if err := d.checkAdmission(ctx, "delete", w); err != nil {
		return nil, err
	}

	if err := d.journal.Append(audit.EventDeleteRequested, w.ID, w.Handle.String(),
		teardownData{Path: d.pathFor(w), Status: w.Status}); err != nil {
		return nil, fmt.Errorf("failed to journal delete request: %w", err)
	}

	var result *DeleteResult
	if w.IsAdopted() {
		result, err = d.softDelete(ctx, w)
	} else {
		result, err = d.hardDelete(ctx, w)
	}
	if err != nil {
		d.countDeletion(ctx, d.pathFor(w), "failure")
		return nil, err
	}

	result.Duration = time.Since(startTime)
	d.countDeletion(ctx, result.Path, "success")
	telemetry.RecordTeardownEvent(span, w.ID, w.Handle.String(),
		string(result.Path), "success", "", "workload deleted")
	return result, nil
}

// pathFor returns the teardown variant the workload's provenance selects
func (d *Deleter) pathFor(w *types.Workload) DeletePath {
	if w.IsAdopted() {
		return DeletePathSoft
	}
	return DeletePathHard
}

// softDelete releases bookkeeping for an adopted workload. The
// physical resource stays untouched and unmanaged.
func (d *Deleter) softDelete(ctx context.Context, w *types.Workload) (*DeleteResult, error) {
	if err := d.releaseClaims(ctx, w, DeletePathSoft); err != nil {
		return nil, err
	}
	if err := d.removeRecord(w, DeletePathSoft); err != nil {
		return nil, err
	}

	d.logger.WithContext(ctx).Info().
		Str("workload_id", w.ID).
		Str("handle", w.Handle.String()).
		Msg("workload released from management")

	return &DeleteResult{
		WorkloadID: w.ID,
		Handle:     w.Handle.String(),
		Path:       DeletePathSoft,
		Ports:      w.Ports,
	}, nil
}

// hardDelete stops and destroys the physical resource, then releases
// bookkeeping. An already absent resource counts as destroyed.
func (d *Deleter) hardDelete(ctx context.Context, w *types.Workload) (*DeleteResult, error) {
	w, err := d.ensureRemoving(w)
	if err != nil {
		return nil, err
	}

	if err := d.teardownResource(ctx, w); err != nil {
		return nil, err
	}

	if err := d.releaseClaims(ctx, w, DeletePathHard); err != nil {
		return nil, err
	}
	if err := d.removeRecord(w, DeletePathHard); err != nil {
		return nil, err
	}

	d.logger.WithContext(ctx).Info().
		Str("workload_id", w.ID).
		Str("handle", w.Handle.String()).
		Msg("workload destroyed")

	return &DeleteResult{
		WorkloadID: w.ID,
		Handle:     w.Handle.String(),
		Path:       DeletePathHard,
		Ports:      w.Ports,
	}, nil
}

// ensureRemoving moves the record into removing state. A record
// already in removing is a retried delete and passes through.
func (d *Deleter) ensureRemoving(w *types.Workload) (*types.Workload, error) {
	if w.Status == types.StatusRemoving {
		return w, nil
	}

	updated, err := transitionStatus(d.repo, w.ID, w.Rev, types.StatusRemoving, "")
	if err != nil {
		return nil, fmt.Errorf("failed to mark %s removing: %w", w.ID, err)
	}
	return updated, nil
}

// teardownResource walks the physical shutdown sequence: inspect,
// stop if running, wait until stopped, destroy
func (d *Deleter) teardownResource(ctx context.Context, w *types.Workload) error {
	callCtx, cancel := platformCtx(ctx, d.opts.PlatformTimeout)
	state, err := d.platform.Inspect(callCtx, w.Handle)
	cancel()

	if platform.IsNotFound(err) {
		d.logger.WithContext(ctx).Info().
			Str("workload_id", w.ID).
			Str("handle", w.Handle.String()).
			Msg("resource already absent, skipping teardown")
		return nil
	}
	if err != nil {
		d.logger.LogPlatformError(ctx, "inspect", w.Handle.String(), err)
		return fmt.Errorf("inspect %s: %w", w.Handle, err)
	}

	if state.Status != types.StatusStopped {
		if err := d.stopAndWait(ctx, w); err != nil {
			return err
		}
	}

	return d.destroyResource(ctx, w)
}

// stopAndWait requests graceful shutdown and polls until the resource
// reports stopped, bounded by the configured wait
func (d *Deleter) stopAndWait(ctx context.Context, w *types.Workload) error {
	callCtx, cancel := platformCtx(ctx, d.opts.PlatformTimeout)
	err := d.platform.Stop(callCtx, w.Handle)
	cancel()

	if err != nil && !platform.IsNotFound(err) {
		d.logger.LogPlatformError(ctx, "stop", w.Handle.String(), err)
		return fmt.Errorf("stop %s: %w", w.Handle, err)
	}

	if err := waitStopped(ctx, d.platform, w.Handle, d.opts.StopWait, d.opts.StopPoll, d.opts.PlatformTimeout); err != nil {
		d.logger.LogPlatformError(ctx, "wait for stop", w.Handle.String(), err)
		return err
	}
	return nil
}

// destroyResource releases the physical resource. Absence is success;
// transport failures are retryable; anything else is a partial
// teardown that parks the record in error state.
func (d *Deleter) destroyResource(ctx context.Context, w *types.Workload) error {
	callCtx, cancel := platformCtx(ctx, d.opts.PlatformTimeout)
	err := d.platform.Destroy(callCtx, w.Handle)
	cancel()

	switch {
	case err == nil:
		return nil
	case platform.IsNotFound(err):
		d.logger.WithContext(ctx).Warn().
			Str("workload_id", w.ID).
			Str("handle", w.Handle.String()).
			Msg("destroy found resource already gone")
		_ = d.journal.Append(audit.EventDeleted, w.ID, w.Handle.String(),
			teardownData{Path: DeletePathHard, Step: "destroy", Status: w.Status})
		return nil
	case platform.IsUnreachable(err):
		d.logger.LogPlatformError(ctx, "destroy", w.Handle.String(), err)
		return fmt.Errorf("destroy %s: %w", w.Handle, err)
	default:
		return d.failTeardown(ctx, w, "destroy", err)
	}
}

// failTeardown parks the record in error state, journals the partial
// teardown, and raises a critical alert
func (d *Deleter) failTeardown(ctx context.Context, w *types.Workload, step string, cause error) error {
	if _, err := transitionStatus(d.repo, w.ID, w.Rev, types.StatusError,
		fmt.Sprintf("%s failed: %v", step, cause)); err != nil {
		d.logger.LogStorageError(ctx, "mark error after teardown failure", err)
	}

	teardown := &PartialTeardownError{
		WorkloadID: w.ID,
		Handle:     w.Handle,
		Step:       step,
		Err:        cause,
	}

	if err := d.journal.AppendError(audit.EventPartialTeardown, w.ID, w.Handle.String(),
		teardownData{Path: DeletePathHard, Step: step}, cause); err != nil {
		d.logger.WithContext(ctx).Warn().Err(err).Msg("failed to journal partial teardown")
	}

	if err := d.notifier.Notify(ctx, alert.SeverityCritical,
		"workload teardown left partial state", map[string]string{
			"workload_id": w.ID,
			"handle":      w.Handle.String(),
			"step":        step,
			"error":       cause.Error(),
		}); err != nil {
		d.logger.WithContext(ctx).Warn().Err(err).Msg("failed to deliver teardown alert")
	}

	return teardown
}

// releaseClaims returns the workload's port reservations to the pool
func (d *Deleter) releaseClaims(ctx context.Context, w *types.Workload, path DeletePath) error {
	if len(w.Ports) == 0 {
		return nil
	}
	if err := d.ports.Release(ctx, w.Ports); err != nil {
		return fmt.Errorf("release ports for %s: %w", w.ID, err)
	}
	return d.journal.Append(audit.EventReleased, w.ID, w.Handle.String(),
		teardownData{Path: path, Ports: w.Ports})
}

// removeRecord drops the repository record and journals the deletion
func (d *Deleter) removeRecord(w *types.Workload, path DeletePath) error {
	if err := deleteRecord(d.repo, w.ID, w.Rev); err != nil {
		return fmt.Errorf("remove record %s: %w", w.ID, err)
	}
	return d.journal.Append(audit.EventDeleted, w.ID, w.Handle.String(),
		teardownData{Path: path, Ports: w.Ports})
}

// checkAdmission evaluates the admission policy for a lifecycle action
func (d *Deleter) checkAdmission(ctx context.Context, action string, w *types.Workload) error {
	if d.admission == nil {
		return nil
	}

	decision, err := d.admission.Evaluate(ctx, policy.AdmissionInput{
		Action:   action,
		Workload: w,
		Handle:   w.Handle.String(),
	})
	if err != nil {
		return fmt.Errorf("admission check for %s: %w", w.ID, err)
	}
	if !decision.Allow {
		return &DeniedError{Action: action, Subject: w.ID, Reasons: decision.Reasons}
	}
	return nil
}

// countDeletion bumps the deletion counter with path and outcome
func (d *Deleter) countDeletion(ctx context.Context, path DeletePath, outcome string) {
	telemetry.DeletionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", string(path)),
		attribute.String("outcome", outcome),
	))
}
