package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordOrphanDetectedEvent emits a structured span event for an orphaned record
func RecordOrphanDetectedEvent(
	span trace.Span,
	workloadID string,
	handle string,
	status string,
	class string,
	message string,
) {
	if span == nil {
		return
	}

	span.AddEvent("workload.orphan.detected", trace.WithAttributes(
		attribute.String("event.type", "workload.orphan.detected"),
		attribute.String("workload.id", workloadID),
		attribute.String("workload.handle", handle),
		attribute.String("workload.status", status),
		attribute.String("orphan.class", class),
		attribute.String("message", message),
	))
}

// RecordTeardownEvent emits a structured span event for a teardown step
func RecordTeardownEvent(
	span trace.Span,
	workloadID string,
	handle string,
	path string,
	outcome string,
	errorMsg string,
	message string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "workload.teardown"),
		attribute.String("workload.id", workloadID),
		attribute.String("workload.handle", handle),
		attribute.String("teardown.path", path),
		attribute.String("teardown.outcome", outcome),
		attribute.String("message", message),
	}

	if errorMsg != "" {
		attrs = append(attrs, attribute.String("error", errorMsg))
	}

	span.AddEvent("workload.teardown", trace.WithAttributes(attrs...))
}

// RecordAdoptionEvent emits a structured span event for workload adoption
func RecordAdoptionEvent(
	span trace.Span,
	workloadID string,
	handle string,
	status string,
	configKeys int,
	message string,
) {
	if span == nil {
		return
	}

	span.AddEvent("workload.adopted", trace.WithAttributes(
		attribute.String("event.type", "workload.adopted"),
		attribute.String("workload.id", workloadID),
		attribute.String("workload.handle", handle),
		attribute.String("workload.status", status),
		attribute.Int("config.keys", configKeys),
		attribute.String("message", message),
	))
}

// RecordDeadlineExceededEvent emits a structured span event when the janitor
// marks a workload error
func RecordDeadlineExceededEvent(
	span trace.Span,
	workloadID string,
	status string,
	dwellSeconds float64,
	message string,
) {
	if span == nil {
		return
	}

	span.AddEvent("workload.deadline.exceeded", trace.WithAttributes(
		attribute.String("event.type", "workload.deadline.exceeded"),
		attribute.String("workload.id", workloadID),
		attribute.String("workload.status", status),
		attribute.Float64("dwell.seconds", dwellSeconds),
		attribute.String("message", message),
	))
}

// RecordSweepCompletedEvent emits a structured span event for sweep completion
func RecordSweepCompletedEvent(
	span trace.Span,
	examined int64,
	orphansExpected int64,
	orphansAnomalous int64,
	driftResolved int64,
	durationSeconds float64,
	message string,
) {
	if span == nil {
		return
	}

	span.AddEvent("sweep.completed", trace.WithAttributes(
		attribute.String("event.type", "sweep.completed"),
		attribute.Int64("workloads.examined", examined),
		attribute.Int64("orphans.expected", orphansExpected),
		attribute.Int64("orphans.anomalous", orphansAnomalous),
		attribute.Int64("drift.resolved", driftResolved),
		attribute.Float64("duration.seconds", durationSeconds),
		attribute.String("message", message),
	))
}
