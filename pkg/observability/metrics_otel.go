package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments for decisions and audit emission.
// They mirror the Prometheus metrics for deployments that export over OTLP.
type OTelMetrics struct {
	decisionsTotal   metric.Int64Counter
	decisionDuration metric.Float64Histogram
	auditDropped     metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsWithMeter creates instruments on the given meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"tenantgate.decisions",
		metric.WithDescription("Authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.decisionDuration, err = meter.Float64Histogram(
		"tenantgate.decision.duration",
		metric.WithDescription("Authorization decision latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision duration histogram: %w", err)
	}

	m.auditDropped, err = meter.Int64Counter(
		"tenantgate.audit.dropped",
		metric.WithDescription("Audit events dropped on a full buffer"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit dropped counter: %w", err)
	}

	return m, nil
}

// RecordDecision records one decision. Safe on a nil receiver.
func (m *OTelMetrics) RecordDecision(ctx context.Context, allowed bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("allowed", allowed),
		attribute.String("reason", reason),
	)
	m.decisionsTotal.Add(ctx, 1, attrs)
	m.decisionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordAuditDrop records one dropped audit event. Safe on a nil receiver.
func (m *OTelMetrics) RecordAuditDrop(ctx context.Context) {
	if m == nil {
		return
	}
	m.auditDropped.Add(ctx, 1)
}
