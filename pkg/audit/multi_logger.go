package audit

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// NamedLogger labels a sink for metrics and errors
type NamedLogger struct {
	Name   string
	Logger Logger
}

// MultiLogger fans every event out to several sinks concurrently
type MultiLogger struct {
	sinks   []NamedLogger
	metrics *observability.Metrics
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(metrics *observability.Metrics, sinks ...NamedLogger) *MultiLogger {
	return &MultiLogger{sinks: sinks, metrics: metrics}
}

// Log writes event to every sink. A failing sink does not stop the others;
// the first error is returned.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var g errgroup.Group
	for _, sink := range m.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Logger.Log(ctx, event); err != nil {
				m.metrics.RecordAuditSinkError(sink.Name)
				return fmt.Errorf("audit sink %s: %w", sink.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes all sinks
func (m *MultiLogger) Close() error {
	var g errgroup.Group
	for _, sink := range m.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Logger.Close(); err != nil {
				return fmt.Errorf("failed to close audit sink %s: %w", sink.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
