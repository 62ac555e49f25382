package audit

import (
	"context"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// LogSink writes events to the structured logger, at a level that follows
// their severity
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink on top of logger
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "audit")}
}

// Log implements Logger
func (s *LogSink) Log(ctx context.Context, event *Event) error {
	l := s.logger.WithFields(map[string]interface{}{
		"event_id":     event.ID,
		"event_type":   string(event.Type),
		"user_id":      event.UserID,
		"company_id":   event.CompanyID,
		"action":       event.Action,
		"resource":     event.ResourceType,
		"allowed":      event.Allowed,
		"reason":       event.Reason,
		"severity":     string(event.Severity),
		"phi_accessed": event.PHIAccessed,
		"matched_rule": event.MatchedRule,
		"request_id":   event.RequestID,
	})
	if event.ResourceID != "" {
		l = l.WithField("resource_id", event.ResourceID)
	}

	switch event.Severity {
	case SeverityCritical:
		l.Error("audit")
	case SeverityWarning:
		l.Warn("audit")
	default:
		l.Info("audit")
	}
	return nil
}

// Close implements Logger
func (s *LogSink) Close() error {
	return nil
}
