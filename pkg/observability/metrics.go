package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the Prometheus series the gateway exports.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Audit metrics
	AuditEventsTotal        *prometheus.CounterVec
	AuditEventsDroppedTotal prometheus.Counter
	AuditSinkErrorsTotal    *prometheus.CounterVec

	// Housekeeping
	OverridesExpiredTotal    prometheus.Counter
	PatternTableReloadsTotal *prometheus.CounterVec
}

// NewMetrics registers every series on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_decisions_total",
				Help: "Authorization decisions by result and reason",
			},
			[]string{"result", "reason"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_decision_duration_seconds",
				Help:    "Time spent producing one authorization decision",
				Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"result"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_cache_hits_total",
				Help: "Cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_cache_misses_total",
				Help: "Cache misses by cache name",
			},
			[]string{"cache"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_cache_invalidations_total",
				Help: "Cache invalidations by scope and origin",
			},
			[]string{"scope", "origin"},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_audit_events_total",
				Help: "Audit events accepted for emission by severity",
			},
			[]string{"severity"},
		),
		AuditEventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_audit_events_dropped_total",
				Help: "Audit events dropped because the emission buffer was full",
			},
		),
		AuditSinkErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_audit_sink_errors_total",
				Help: "Audit sink write failures",
			},
			[]string{"sink"},
		),
		OverridesExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_overrides_expired_total",
				Help: "Overrides deactivated by the expiry sweeper",
			},
		),
		PatternTableReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_pattern_table_reloads_total",
				Help: "Endpoint pattern table reloads by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
		m.AuditEventsTotal,
		m.AuditEventsDroppedTotal,
		m.AuditSinkErrorsTotal,
		m.OverridesExpiredTotal,
		m.PatternTableReloadsTotal,
	)

	return m
}

// RecordDecision counts one decision. Safe on a nil receiver.
func (m *Metrics) RecordDecision(allowed bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.DecisionsTotal.WithLabelValues(result, reason).Inc()
	m.DecisionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCache counts a cache lookup. Safe on a nil receiver.
func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordInvalidation counts a cache invalidation. Safe on a nil receiver.
func (m *Metrics) RecordInvalidation(scope, origin string) {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.WithLabelValues(scope, origin).Inc()
}

// RecordAuditEvent counts an accepted audit event. Safe on a nil receiver.
func (m *Metrics) RecordAuditEvent(severity string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(severity).Inc()
}

// RecordAuditDrop counts a dropped audit event. Safe on a nil receiver.
func (m *Metrics) RecordAuditDrop() {
	if m == nil {
		return
	}
	m.AuditEventsDroppedTotal.Inc()
}

// RecordAuditSinkError counts a sink failure. Safe on a nil receiver.
func (m *Metrics) RecordAuditSinkError(sink string) {
	if m == nil {
		return
	}
	m.AuditSinkErrorsTotal.WithLabelValues(sink).Inc()
}

// RecordOverridesExpired counts overrides deactivated by the sweeper. Safe on a nil receiver.
func (m *Metrics) RecordOverridesExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.OverridesExpiredTotal.Add(float64(n))
}

// RecordPatternReload counts a pattern table reload. Safe on a nil receiver.
func (m *Metrics) RecordPatternReload(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	m.PatternTableReloadsTotal.WithLabelValues(status).Inc()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the mux route template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
