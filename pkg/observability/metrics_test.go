package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordDecision(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision(true, "role_pages", time.Millisecond)
	m.RecordDecision(false, "page_disabled", time.Millisecond)
	m.RecordDecision(false, "page_disabled", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("allow", "role_pages")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("deny", "page_disabled")))
}

func TestMetrics_Cache(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCache("matrix", true)
	m.RecordCache("matrix", false)
	m.RecordCache("matrix", false)
	m.RecordInvalidation("company", "local")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("matrix")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("matrix")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheInvalidationsTotal.WithLabelValues("company", "local")))
}

func TestMetrics_Audit(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAuditEvent("CRITICAL")
	m.RecordAuditDrop()
	m.RecordAuditSinkError("file")
	m.RecordOverridesExpired(3)
	m.RecordOverridesExpired(0)
	m.RecordPatternReload(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEventsTotal.WithLabelValues("CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEventsDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditSinkErrorsTotal.WithLabelValues("file")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OverridesExpiredTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatternTableReloadsTotal.WithLabelValues("failure")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision(true, "x", 0)
		m.RecordCache("x", true)
		m.RecordInvalidation("x", "y")
		m.RecordAuditEvent("INFO")
		m.RecordAuditDrop()
		m.RecordAuditSinkError("x")
		m.RecordOverridesExpired(1)
		m.RecordPatternReload(true)
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodPatch)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/api/users/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("PATCH", "/api/users/{id}", "418")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordDecision(true, "always_admin", time.Millisecond)

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tenantgate_decisions_total"))
}
