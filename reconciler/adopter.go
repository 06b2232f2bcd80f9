package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/warden/audit"
	"github.com/example/warden/platform"
	"github.com/example/warden/policy"
	"github.com/example/warden/storage"
	"github.com/example/warden/telemetry"
	"github.com/example/warden/types"
)

// adoptData is the audit payload for adoption events
type adoptData struct {
	Status     types.Status `json:"status"`
	ConfigKeys int          `json:"config_keys"`
}

// Adopter imports pre-existing platform resources under management.
// The record is created from the platform's actual state, never from
// assumptions, and only once both the inspection and the config
// capture have succeeded.
type Adopter struct {
	repo      Repository
	platform  platform.Client
	journal   *audit.Log
	admission Admission
	logger    *telemetry.Logger
	tracer    trace.Tracer
	opts      Options
}

// NewAdopter creates an adoption importer
func NewAdopter(repo Repository, client platform.Client, journal *audit.Log, admission Admission, opts Options) *Adopter {
	return &Adopter{
		repo:      repo,
		platform:  client,
		journal:   journal,
		admission: admission,
		logger:    telemetry.NewLogger("adopter"),
		tracer:    otel.Tracer("adopter"),
		opts:      opts,
	}
}

// Adopt brings the resource behind the handle under management and
// returns the created record
func (a *Adopter) Adopt(ctx context.Context, h types.Handle) (*types.Workload, error) {
	ctx, span := a.tracer.Start(ctx, "adopter.adopt",
		trace.WithAttributes(attribute.String("workload.handle", h.String())))
	defer span.End()

	if err := a.checkAdmission(ctx, h); err != nil {
		return nil, err
	}

	if existing, err := a.repo.GetByHandle(h); err == nil {
		return nil, &AlreadyManagedError{Handle: h, WorkloadID: existing.ID}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup handle %s: %w", h, err)
	}

	state, cfg, err := a.captureResource(ctx, h)
	if err != nil {
		a.countAdoption(ctx, "failure")
		return nil, err
	}

	w, err := a.createRecord(h, state, cfg)
	if err != nil {
		a.countAdoption(ctx, "failure")
		return nil, err
	}

	a.logger.WithContext(ctx).Info().
		Str("workload_id", w.ID).
		Str("handle", h.String()).
		Str("status", string(w.Status)).
		Int("config_keys", len(cfg)).
		Msg("workload adopted")

	if err := a.journal.Append(audit.EventAdopted, w.ID, h.String(),
		adoptData{Status: w.Status, ConfigKeys: len(cfg)}); err != nil {
		a.logger.WithContext(ctx).Warn().Err(err).Msg("failed to journal adoption")
	}

	a.countAdoption(ctx, "success")
	telemetry.RecordAdoptionEvent(span, w.ID, h.String(),
		string(w.Status), len(cfg), "resource adopted")

	return w, nil
}

// captureResource reads the resource's state and configuration. Both
// must succeed before any record is created, so a half-observed
// resource never enters the store.
func (a *Adopter) captureResource(ctx context.Context, h types.Handle) (*platform.State, map[string]string, error) {
	callCtx, cancel := platformCtx(ctx, a.opts.PlatformTimeout)
	state, err := a.platform.Inspect(callCtx, h)
	cancel()
	if err != nil {
		a.journalFailure(ctx, h, "inspect", err)
		return nil, nil, fmt.Errorf("adopt %s: inspect: %w", h, err)
	}

	callCtx, cancel = platformCtx(ctx, a.opts.PlatformTimeout)
	cfg, err := a.platform.Config(callCtx, h)
	cancel()
	if err != nil {
		a.journalFailure(ctx, h, "config", err)
		return nil, nil, fmt.Errorf("adopt %s: config: %w", h, err)
	}

	return state, cfg, nil
}

// createRecord writes the adopted workload. Losing a creation race on
// the handle reports the winning record, same as finding it up front.
func (a *Adopter) createRecord(h types.Handle, state *platform.State, cfg map[string]string) (*types.Workload, error) {
	w := &types.Workload{
		ID:         uuid.NewString(),
		Name:       h.ID,
		Status:     state.Status,
		Provenance: types.ProvenanceAdopted,
		Handle:     h,
		Labels:     state.Labels,
		ConfigSnapshot: &types.ConfigSnapshot{
			Config:     cfg,
			Resources:  state.Resources,
			CapturedAt: time.Now().UTC(),
		},
	}

	err := a.repo.Create(w)
	if errors.Is(err, storage.ErrHandleExists) {
		if owner, lookupErr := a.repo.GetByHandle(h); lookupErr == nil {
			return nil, &AlreadyManagedError{Handle: h, WorkloadID: owner.ID}
		}
		return nil, &AlreadyManagedError{Handle: h}
	}
	if err != nil {
		return nil, fmt.Errorf("create adopted record for %s: %w", h, err)
	}
	return w, nil
}

// checkAdmission evaluates the admission policy for the adoption
func (a *Adopter) checkAdmission(ctx context.Context, h types.Handle) error {
	if a.admission == nil {
		return nil
	}

	decision, err := a.admission.Evaluate(ctx, policy.AdmissionInput{
		Action: "adopt",
		Handle: h.String(),
	})
	if err != nil {
		return fmt.Errorf("admission check for %s: %w", h, err)
	}
	if !decision.Allow {
		return &DeniedError{Action: "adopt", Subject: h.String(), Reasons: decision.Reasons}
	}
	return nil
}

// journalFailure records an adoption that never produced a record
func (a *Adopter) journalFailure(ctx context.Context, h types.Handle, step string, cause error) {
	if err := a.journal.AppendError(audit.EventAdoptFailed, "", h.String(),
		map[string]string{"step": step}, cause); err != nil {
		a.logger.WithContext(ctx).Warn().Err(err).Msg("failed to journal adoption failure")
	}
}

// countAdoption bumps the adoption counter with the outcome
func (a *Adopter) countAdoption(ctx context.Context, outcome string) {
	telemetry.AdoptionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome)))
}
