package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordSpanEvents runs fn against a live span and returns its exported events
func recordSpanEvents(t *testing.T, fn func(span trace.Span)) []sdktrace.Event {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test")
	fn(span)
	span.End()
	_ = provider.ForceFlush(ctx)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	return spans[0].Events
}

// findAttr returns the attribute value for key, if present
func findAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRecordOrphanDetectedEvent(t *testing.T) {
	events := recordSpanEvents(t, func(span trace.Span) {
		RecordOrphanDetectedEvent(span, "w-1", "node-a/vm-9", "running", "anomalous", "resource gone from platform")
	})

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.Name != "workload.orphan.detected" {
		t.Errorf("Expected event name 'workload.orphan.detected', got '%s'", event.Name)
	}

	expected := map[string]string{
		"workload.id":     "w-1",
		"workload.handle": "node-a/vm-9",
		"workload.status": "running",
		"orphan.class":    "anomalous",
	}
	for key, want := range expected {
		value, found := findAttr(event.Attributes, key)
		if !found {
			t.Errorf("Missing attribute: %s", key)
			continue
		}
		if value.AsString() != want {
			t.Errorf("Attribute %s: expected '%s', got '%s'", key, want, value.AsString())
		}
	}
}

func TestRecordTeardownEvent_WithError(t *testing.T) {
	events := recordSpanEvents(t, func(span trace.Span) {
		RecordTeardownEvent(span, "w-2", "node-b/vm-1", "hard", "partial", "disk busy", "destroy failed")
	})

	event := events[0]
	if event.Name != "workload.teardown" {
		t.Errorf("Expected event name 'workload.teardown', got '%s'", event.Name)
	}

	value, found := findAttr(event.Attributes, "error")
	if !found {
		t.Fatal("Missing error attribute")
	}
	if value.AsString() != "disk busy" {
		t.Errorf("error = '%s', want 'disk busy'", value.AsString())
	}

	if path, _ := findAttr(event.Attributes, "teardown.path"); path.AsString() != "hard" {
		t.Errorf("teardown.path = '%s', want 'hard'", path.AsString())
	}
}

func TestRecordTeardownEvent_NoError(t *testing.T) {
	events := recordSpanEvents(t, func(span trace.Span) {
		RecordTeardownEvent(span, "w-2", "node-b/vm-1", "soft", "ok", "", "record released")
	})

	if _, found := findAttr(events[0].Attributes, "error"); found {
		t.Error("error attribute should be omitted when empty")
	}
}

func TestRecordAdoptionEvent(t *testing.T) {
	events := recordSpanEvents(t, func(span trace.Span) {
		RecordAdoptionEvent(span, "w-3", "node-a/vm-2", "stopped", 7, "adopted existing resource")
	})

	event := events[0]
	if event.Name != "workload.adopted" {
		t.Errorf("Expected event name 'workload.adopted', got '%s'", event.Name)
	}

	value, found := findAttr(event.Attributes, "config.keys")
	if !found {
		t.Fatal("Missing config.keys attribute")
	}
	if value.AsInt64() != 7 {
		t.Errorf("config.keys = %d, want 7", value.AsInt64())
	}
}

func TestRecordDeadlineExceededEvent(t *testing.T) {
	events := recordSpanEvents(t, func(span trace.Span) {
		RecordDeadlineExceededEvent(span, "w-4", "provisioning", 2701.5, "stuck in provisioning")
	})

	event := events[0]
	if event.Name != "workload.deadline.exceeded" {
		t.Errorf("Expected event name 'workload.deadline.exceeded', got '%s'", event.Name)
	}

	value, found := findAttr(event.Attributes, "dwell.seconds")
	if !found {
		t.Fatal("Missing dwell.seconds attribute")
	}
	if value.AsFloat64() != 2701.5 {
		t.Errorf("dwell.seconds = %f, want 2701.5", value.AsFloat64())
	}
}

func TestRecordSweepCompletedEvent(t *testing.T) {
	events := recordSpanEvents(t, func(span trace.Span) {
		RecordSweepCompletedEvent(span, 42, 3, 1, 2, 0.8, "sweep finished")
	})

	event := events[0]
	if event.Name != "sweep.completed" {
		t.Errorf("Expected event name 'sweep.completed', got '%s'", event.Name)
	}

	if value, _ := findAttr(event.Attributes, "workloads.examined"); value.AsInt64() != 42 {
		t.Errorf("workloads.examined = %d, want 42", value.AsInt64())
	}
	if value, _ := findAttr(event.Attributes, "orphans.anomalous"); value.AsInt64() != 1 {
		t.Errorf("orphans.anomalous = %d, want 1", value.AsInt64())
	}
}

func TestRecordEvents_NilSpan(t *testing.T) {
	// Nil spans must not panic
	RecordOrphanDetectedEvent(nil, "w", "h", "s", "c", "m")
	RecordTeardownEvent(nil, "w", "h", "p", "o", "e", "m")
	RecordAdoptionEvent(nil, "w", "h", "s", 0, "m")
	RecordDeadlineExceededEvent(nil, "w", "s", 0, "m")
	RecordSweepCompletedEvent(nil, 0, 0, 0, 0, 0, "m")
}
