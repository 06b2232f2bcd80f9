package telemetry

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	// Skip if no context
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	// Extract span from context
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	// Add trace context to log
	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	logger := l.WithContext(ctx)

	event := logger.Info().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

// Helper to convert OTEL attributes to zerolog fields
func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.AsString())
	}
}

// Convenience methods for reconciliation operations

func (l *Logger) LogStatusChange(ctx context.Context, workloadID string, from, to string) {
	l.WithContext(ctx).Info().
		Str("workload_id", workloadID).
		Str("from", from).
		Str("to", to).
		Str("operation", "status_change").
		Msg("workload status changed")
}

func (l *Logger) LogOrphan(ctx context.Context, workloadID string, class string, status string) {
	l.WithContext(ctx).Warn().
		Str("workload_id", workloadID).
		Str("orphan_class", class).
		Str("status", status).
		Str("operation", "sweep").
		Msg("orphaned record detected")
}

func (l *Logger) LogSweepComplete(ctx context.Context, expected, anomalous, drift, conflicts int, duration time.Duration) {
	l.WithContext(ctx).Info().
		Int("orphans_expected", expected).
		Int("orphans_anomalous", anomalous).
		Int("drift_resolved", drift).
		Int("conflicts", conflicts).
		Float64("duration_ms", float64(duration.Milliseconds())).
		Str("operation", "sweep").
		Msg("sweep completed")
}

func (l *Logger) LogDeadlineExceeded(ctx context.Context, workloadID string, status string, dwell time.Duration) {
	l.WithContext(ctx).Warn().
		Str("workload_id", workloadID).
		Str("status", status).
		Dur("dwell", dwell).
		Str("operation", "janitor").
		Msg("workload exceeded state deadline")
}

func (l *Logger) LogPlatformError(ctx context.Context, operation string, handle string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("handle", handle).
		Str("operation", operation).
		Msg("platform operation failed")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("storage operation failed")
}
