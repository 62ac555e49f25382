// Package observability provides logging, metrics, tracing and health checks
// for tenantgate.
//
// # Logging
//
// Logger wraps log/slog with a JSON handler:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("company_id", "acme").Warn("page disabled")
//
// FromContext returns the request logger enriched with the request id and the
// principal's user and company.
//
// # Metrics
//
// NewMetrics registers Prometheus collectors for decisions, cache behaviour,
// audit emission and HTTP traffic. All Record* helpers tolerate a nil
// *Metrics so library users can run without a registry.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric exporters globally. The engine
// opens one span per decision through Tracer().
//
// # Health
//
// HealthChecker exposes /health/live and /health/ready. Readiness runs named
// checks: the database is critical, Redis only degrades, and callers add
// their own with AddCheck.
//
// # Shutdown
//
// ShutdownManager drains the HTTP servers, then runs hooks added with
// OnShutdown in order and joins their errors.
package observability
