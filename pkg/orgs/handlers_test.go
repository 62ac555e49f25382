package orgs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

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

type handlerEnv struct {
	store   *Store
	emitter *recordingEmitter
	router  *mux.Router
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	store := NewStore(setupTestDB(t), StoreConfig{})
	emitter := &recordingEmitter{}
	router := mux.NewRouter()
	NewHandlers(store, emitter, clockwork.NewFakeClockAt(testNow), nil).RegisterRoutes(router)
	return &handlerEnv{store: store, emitter: emitter, router: router}
}

func (e *handlerEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, target, &buf)
	p := &auth.Principal{UserID: "root", CompanyID: auth.SystemCompanyID, Role: "master_admin", SessionID: "s-root"}
	r = r.WithContext(contextkeys.WithPrincipal(r.Context(), p))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func TestHandlers_CompanyLifecycle(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.do(t, http.MethodPost, "/api/companies", map[string]interface{}{"name": "Acme", "data_retention_days": 365})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created Company
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "acme", created.ID)
	assert.Equal(t, "root", created.CreatedBy)
	assert.True(t, created.IsActive)

	w = env.do(t, http.MethodPost, "/api/companies", map[string]interface{}{"name": "Acme"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPatch, "/api/companies/acme", map[string]interface{}{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated Company
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.False(t, updated.IsActive)
	assert.Equal(t, 365, updated.DataRetentionDays)

	w = env.do(t, http.MethodGet, "/api/companies/acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched Company
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.False(t, fetched.IsActive)

	w = env.do(t, http.MethodGet, "/api/companies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Companies []Company `json:"companies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Companies, "disabled companies are hidden by default")

	w = env.do(t, http.MethodGet, "/api/companies?include_inactive=true", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Companies, 1)
	assert.Equal(t, "acme", list.Companies[0].ID)

	events := env.emitter.Events()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventTypeAdminCompanyCreate, events[0].Type)
	assert.Equal(t, "acme", events[0].ResourceID)
	assert.Equal(t, "root", events[0].UserID)
	assert.Equal(t, audit.EventTypeAdminCompanyUpdate, events[1].Type)
	assert.Equal(t, false, events[1].Metadata["is_active"])
}

func TestHandlers_Errors(t *testing.T) {
	env := newHandlerEnv(t)

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		status int
	}{
		{"missing name", http.MethodPost, "/api/companies", map[string]interface{}{"id": "acme"}, http.StatusBadRequest},
		{"reserved id", http.MethodPost, "/api/companies", map[string]interface{}{"id": "system", "name": "System"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/companies", map[string]interface{}{"name": "Acme", "plan": "pro"}, http.StatusBadRequest},
		{"no body", http.MethodPost, "/api/companies", nil, http.StatusBadRequest},
		{"unknown company", http.MethodPatch, "/api/companies/globex", map[string]interface{}{"is_active": true}, http.StatusNotFound},
		{"bad retention", http.MethodPatch, "/api/companies/globex", map[string]interface{}{"data_retention_days": 0}, http.StatusBadRequest},
		{"get unknown", http.MethodGet, "/api/companies/globex", nil, http.StatusNotFound},
		{"bad query", http.MethodGet, "/api/companies?include_inactive=maybe", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, env.emitter.Events())
}
