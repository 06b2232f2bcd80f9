// Package alert provides output backends for reconciliation findings.
// Notifications are fire-and-forget: a failing sink is logged by the
// caller and never aborts the run that produced the alert.
package alert

import (
	"context"

	"github.com/rs/zerolog"
)

// Severity grades a notification
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notifier delivers one notification to a sink
type Notifier interface {
	Notify(ctx context.Context, sev Severity, msg string, fields map[string]string) error
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier wraps a zerolog logger as a sink
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification at a level matching its severity
func (n *LogNotifier) Notify(ctx context.Context, sev Severity, msg string, fields map[string]string) error {
	var event *zerolog.Event
	switch sev {
	case SeverityCritical:
		event = n.logger.Error()
	case SeverityWarning:
		event = n.logger.Warn()
	default:
		event = n.logger.Info()
	}

	event = event.Ctx(ctx).Str("alert_severity", string(sev))
	for key, value := range fields {
		event = event.Str(key, value)
	}
	event.Msg(msg)
	return nil
}

// MultiNotifier fans one notification out to several sinks. Every sink
// is attempted; the first error is returned after all have run.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, sev Severity, msg string, fields map[string]string) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, sev, msg, fields); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
