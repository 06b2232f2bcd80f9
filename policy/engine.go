// Package policy evaluates Rego admission policies before destructive
// lifecycle actions. With no policies loaded every action is allowed;
// a policy denies an action by adding a message to the
// data.warden.admission.deny set.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/warden/telemetry"
	"github.com/example/warden/types"
)

const admissionQuery = "data.warden.admission"

// AdmissionInput is the input document for policy evaluation
type AdmissionInput struct {
	Action    string          `json:"action"`
	Workload  *types.Workload `json:"workload,omitempty"`
	Handle    string          `json:"handle,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AdmissionDecision is the aggregated outcome across all loaded policies
type AdmissionDecision struct {
	Allow    bool     `json:"allow"`
	Reasons  []string `json:"reasons,omitempty"`
	Policies []string `json:"policies,omitempty"`
}

// Engine evaluates admission policies against lifecycle actions
type Engine struct {
	mu      sync.RWMutex
	logger  *telemetry.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
}

// NewEngine creates an admission engine with no policies loaded
func NewEngine() *Engine {
	return &Engine{
		logger:  telemetry.NewLogger("policy-engine"),
		tracer:  otel.Tracer("policy-engine"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles and registers a single Rego policy
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	prepared, err := compilePolicy(ctx, name, regoCode)
	if err != nil {
		e.logger.LogStorageError(ctx, "compile_policy", err)
		return err
	}

	e.mu.Lock()
	e.queries[name] = prepared
	e.mu.Unlock()

	e.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded")

	return nil
}

// ReplacePolicies compiles a full policy set and swaps it in atomically.
// If any policy fails to compile the previous set stays active.
func (e *Engine) ReplacePolicies(ctx context.Context, policies map[string]string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.replace_policies",
		trace.WithAttributes(attribute.Int("policy.count", len(policies))))
	defer span.End()

	compiled := make(map[string]rego.PreparedEvalQuery, len(policies))
	for name, code := range policies {
		prepared, err := compilePolicy(ctx, name, code)
		if err != nil {
			e.logger.LogStorageError(ctx, "compile_policy", err)
			return err
		}
		compiled[name] = prepared
	}

	e.mu.Lock()
	e.queries = compiled
	e.mu.Unlock()

	e.logger.WithContext(ctx).Info().
		Int("policy_count", len(compiled)).
		Msg("policy set replaced")

	return nil
}

// compilePolicy prepares one Rego module for evaluation
func compilePolicy(ctx context.Context, name string, regoCode string) (rego.PreparedEvalQuery, error) {
	query := rego.New(
		rego.Query(admissionQuery),
		rego.Module(name+".rego", regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to compile policy %s: %w", name, err)
	}
	return prepared, nil
}

// Count returns the number of loaded policies
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queries)
}

// Evaluate runs every loaded policy against the input. An evaluation
// error fails closed: the action is refused rather than waved through.
func (e *Engine) Evaluate(ctx context.Context, input AdmissionInput) (AdmissionDecision, error) {
	ctx, span := e.tracer.Start(ctx, "policy_engine.evaluate",
		trace.WithAttributes(attribute.String("admission.action", input.Action)))
	defer span.End()

	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now()
	}

	e.mu.RLock()
	queries := e.queries
	e.mu.RUnlock()

	decision := AdmissionDecision{Allow: true}

	for name, query := range queries {
		denials, err := evaluatePolicy(ctx, query, input)
		if err != nil {
			e.logger.WithContext(ctx).Error().
				Err(err).
				Str("policy_name", name).
				Msg("policy evaluation failed")
			return AdmissionDecision{}, fmt.Errorf("policy %s evaluation failed: %w", name, err)
		}

		if len(denials) > 0 {
			decision.Allow = false
			decision.Reasons = append(decision.Reasons, denials...)
			decision.Policies = append(decision.Policies, name)
		}
	}

	e.logger.WithContext(ctx).Debug().
		Str("action", input.Action).
		Bool("allow", decision.Allow).
		Strs("policies", decision.Policies).
		Msg("admission evaluated")

	return decision, nil
}

// evaluatePolicy runs a single policy and extracts its deny messages
func evaluatePolicy(ctx context.Context, query rego.PreparedEvalQuery, input AdmissionInput) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	return parseDenials(results), nil
}

// parseDenials collects the deny set from evaluation results. Policies
// return arbitrary JSON so the shape is asserted at runtime.
func parseDenials(results rego.ResultSet) []string {
	var denials []string

	for _, result := range results {
		for _, expr := range result.Expressions {
			doc, ok := expr.Value.(map[string]interface{})
			if !ok {
				continue
			}

			denySet, ok := doc["deny"].([]interface{})
			if !ok {
				continue
			}

			for _, item := range denySet {
				if msg, ok := item.(string); ok {
					denials = append(denials, msg)
				}
			}
		}
	}

	return denials
}
