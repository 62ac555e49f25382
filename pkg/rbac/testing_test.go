package rbac

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// testNow is the fake clock's starting point
var testNow = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db))
	return db
}

// recordingEmitter keeps every emitted event in order
type recordingEmitter struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, event *audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) Events() []*audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.Event(nil), r.events...)
}

func (r *recordingEmitter) Last() *audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func (r *recordingEmitter) OfType(t audit.EventType) []*audit.Event {
	var out []*audit.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// failingOverrides stands in for an unreachable override store
type failingOverrides struct{}

var errOverridesDown = errors.New("override store down")

func (failingOverrides) ActiveOverridesFor(ctx context.Context, userID string) ([]*Override, error) {
	return nil, errOverridesDown
}

type testEnv struct {
	db       *sql.DB
	clock    *clockwork.FakeClock
	emitter  *recordingEmitter
	metrics  *observability.Metrics
	registry *prometheus.Registry
	mgr      *Manager
}

func newTestEnv(t *testing.T, policy DefaultPolicy) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	env := &testEnv{
		db:       setupTestDB(t),
		clock:    clockwork.NewFakeClockAt(testNow),
		emitter:  &recordingEmitter{},
		metrics:  observability.NewMetrics(reg),
		registry: reg,
	}

	cfg := DefaultConfig()
	cfg.DefaultPolicy = policy
	cfg.DecisionTimeout = 0
	env.mgr = NewManager(Dependencies{
		DB:      env.db,
		Emitter: env.emitter,
		Clock:   env.clock,
		Metrics: env.metrics,
	}, cfg)
	return env
}

func (e *testEnv) addMember(t *testing.T, companyID, userID, role string) {
	t.Helper()
	_, err := e.mgr.Registry().AssignRole(context.Background(), companyID, userID, role, true)
	require.NoError(t, err)
}

func principal(userID, companyID, role string) *auth.Principal {
	return &auth.Principal{UserID: userID, CompanyID: companyID, Role: role, SessionID: "sess-" + userID}
}
