package orgs

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// Handlers serves the master_admin company API. Who may call it is decided
// by the authorization middleware in front of the router.
type Handlers struct {
	store   *Store
	emitter audit.Emitter
	clock   clockwork.Clock
	logger  *observability.Logger
}

// NewHandlers creates the company handlers
func NewHandlers(store *Store, emitter audit.Emitter, clock clockwork.Clock, logger *observability.Logger) *Handlers {
	if emitter == nil {
		emitter = audit.NopEmitter
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handlers{store: store, emitter: emitter, clock: clock, logger: logger}
}

// RegisterRoutes registers the company routes with a router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/companies", h.ListCompanies).Methods(http.MethodGet)
	router.HandleFunc("/api/companies", h.CreateCompany).Methods(http.MethodPost)
	router.HandleFunc("/api/companies/{companyId}", h.GetCompany).Methods(http.MethodGet)
	router.HandleFunc("/api/companies/{companyId}", h.UpdateCompany).Methods(http.MethodPatch)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCompanyNotFound):
		httputil.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrCompanyExists):
		httputil.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, ErrInvalidCompany):
		httputil.WriteError(w, http.StatusBadRequest, err)
	default:
		observability.LoggerWithTrace(r.Context(), h.logger).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("company request failed")
		httputil.WriteInternalError(w)
	}
}

func (h *Handlers) audit(ctx context.Context, r *http.Request, eventType audit.EventType, companyID string, metadata map[string]interface{}) {
	event := audit.NewEvent(ctx, eventType, h.clock.Now())
	event.Action = string(rbac.ActionAdminister)
	event.ResourceType = "company"
	event.ResourceID = companyID
	event.Allowed = true
	if d, ok := rbac.DecisionFrom(r); ok {
		event.MatchedRule = d.MatchedRule
	}
	for k, v := range metadata {
		event.Metadata[k] = v
	}
	h.emitter.Emit(ctx, event)
}

// ListCompanies lists companies. Disabled ones are included with
// ?include_inactive=true.
func (h *Handlers) ListCompanies(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	companies, err := h.store.ListCompanies(r.Context(), includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if companies == nil {
		companies = []*Company{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"companies": companies})
}

// CreateCompany creates an active company
func (h *Handlers) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	c, err := req.normalize()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	now := h.clock.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if p := contextkeys.GetPrincipal(r.Context()); p != nil {
		c.CreatedBy = p.UserID
	}

	if err := h.store.CreateCompany(r.Context(), c); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), r, audit.EventTypeAdminCompanyCreate, c.ID, map[string]interface{}{
		"name":                c.Name,
		"data_retention_days": c.DataRetentionDays,
	})
	httputil.WriteCreated(w, c)
}

// GetCompany returns one company, active or not
func (h *Handlers) GetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCompany(r.Context(), mux.Vars(r)["companyId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, c)
}

// UpdateCompany renames, re-enables, soft-disables or changes the retention
// of a company
func (h *Handlers) UpdateCompany(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["companyId"]
	var req UpdateCompanyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.store.UpdateCompany(r.Context(), id, req, h.clock.Now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	metadata := map[string]interface{}{}
	if req.Name != nil {
		metadata["name"] = *req.Name
	}
	if req.IsActive != nil {
		metadata["is_active"] = *req.IsActive
	}
	if req.DataRetentionDays != nil {
		metadata["data_retention_days"] = *req.DataRetentionDays
	}
	h.audit(r.Context(), r, audit.EventTypeAdminCompanyUpdate, id, metadata)
	httputil.WriteSuccess(w, c)
}
