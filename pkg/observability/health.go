package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// ErrDegraded marks a check result that should degrade rather than fail
// readiness even for a critical check.
var ErrDegraded = errors.New("degraded")

// CheckFunc reports whether one dependency of the gateway is usable.
type CheckFunc func(ctx context.Context) error

type dependency struct {
	name     string
	critical bool
	run      CheckFunc
}

// HealthChecker answers liveness and readiness for the authorization gateway.
// Readiness runs every registered check; a failing critical check makes the
// instance unready, a failing optional check only degrades it.
type HealthChecker struct {
	version string

	mu   sync.RWMutex
	deps []dependency
}

// NewHealthChecker registers the database as a critical check and Redis as an
// optional one. Either may be nil.
func NewHealthChecker(db *sql.DB, rdb *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.AddCheck("database", true, databaseCheck(db))
	}
	if rdb != nil {
		h.AddCheck("redis", false, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return h
}

// AddCheck registers an extra readiness check.
func (h *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = append(h.deps, dependency{name: name, critical: critical, run: fn})
}

// HealthStatus is the readiness report body.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is one check's outcome.
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Check runs every registered check and folds the results into one status.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	deps := append([]dependency(nil), h.deps...)
	h.mu.RUnlock()
	sort.SliceStable(deps, func(i, j int) bool { return deps[i].name < deps[j].name })

	report := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(deps)),
	}
	for _, d := range deps {
		dep := runCheck(ctx, d.run)
		report.Dependencies[d.name] = dep
		report.Status = worse(report.Status, effective(dep.Status, d.critical))
	}
	return report
}

func runCheck(ctx context.Context, fn CheckFunc) DependencyStatus {
	start := time.Now()
	err := fn(ctx)
	dep := DependencyStatus{Status: StatusHealthy, Latency: time.Since(start), Timestamp: start}
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		dep.Status, dep.Message = StatusDegraded, err.Error()
	default:
		dep.Status, dep.Message = StatusUnhealthy, err.Error()
	}
	return dep
}

// effective downgrades an optional check's failure to degraded.
func effective(status string, critical bool) string {
	if status == StatusUnhealthy && !critical {
		return StatusDegraded
	}
	return status
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func databaseCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return errors.Join(ErrDegraded, errors.New("connection pool exhausted"))
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Liveness answers 200 for as long as the process can serve.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 only when a critical check fails.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := h.Check(ctx)
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
