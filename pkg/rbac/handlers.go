package rbac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// CompanyDirectory reports whether a company exists. Admin edits that target
// another company check it first.
type CompanyDirectory interface {
	CompanyExists(ctx context.Context, companyID string) (bool, error)
}

// HandlerOptions wires the admin API
type HandlerOptions struct {
	Engine       *Engine
	Registry     *Registry
	Matrix       *Matrix
	Availability *Availability
	Overrides    *OverrideStore
	Companies    CompanyDirectory
	Emitter      audit.Emitter
	Clock        clockwork.Clock
	Logger       *observability.Logger

	// TrustedCallers are the user ids (sidecars, the gateway) that may ask
	// /authorize about a principal other than themselves. master_admin
	// always may.
	TrustedCallers []string
}

// Handlers serves the role, page and override administration API
type Handlers struct {
	engine       *Engine
	registry     *Registry
	matrix       *Matrix
	availability *Availability
	overrides    *OverrideStore
	companies    CompanyDirectory
	emitter      audit.Emitter
	clock        clockwork.Clock
	logger       *observability.Logger
	trusted      map[string]struct{}
}

// NewHandlers creates the admin handlers
func NewHandlers(opts HandlerOptions) *Handlers {
	h := &Handlers{
		engine:       opts.Engine,
		registry:     opts.Registry,
		matrix:       opts.Matrix,
		availability: opts.Availability,
		overrides:    opts.Overrides,
		companies:    opts.Companies,
		emitter:      opts.Emitter,
		clock:        opts.Clock,
		logger:       opts.Logger,
		trusted:      make(map[string]struct{}, len(opts.TrustedCallers)),
	}
	for _, id := range opts.TrustedCallers {
		h.trusted[id] = struct{}{}
	}
	if h.emitter == nil {
		h.emitter = audit.NopEmitter
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.logger == nil {
		h.logger = observability.NewNopLogger()
	}
	return h
}

// RegisterRoutes registers the admin routes. Authorization happens in
// AuthorizationMiddleware before any of them run.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Roles
	router.HandleFunc("/company/roles", h.ListRoles).Methods(http.MethodGet)
	router.HandleFunc("/company/roles", h.CreateRole).Methods(http.MethodPost)
	router.HandleFunc("/api/company/roles", h.CreateRole).Methods(http.MethodPost)
	router.HandleFunc("/company/roles/{role}", h.UpdateRole).Methods(http.MethodPatch)
	router.HandleFunc("/company/roles/{role}", h.DeleteRole).Methods(http.MethodDelete)

	// Page matrix and availability
	router.HandleFunc("/company/roles/{role}/pages", h.GetRolePages).Methods(http.MethodGet)
	router.HandleFunc("/company/roles/{role}/pages", h.SetRolePages).Methods(http.MethodPut)
	router.HandleFunc("/company/available-pages", h.ListAvailablePages).Methods(http.MethodGet)
	router.HandleFunc("/company/available-pages/{page}", h.SetPageAvailability).Methods(http.MethodPut)

	// Users
	router.HandleFunc("/api/users", h.ListUsers).Methods(http.MethodGet)
	router.HandleFunc("/api/users/{id}", h.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/api/users/{id}", h.UpdateUser).Methods(http.MethodPatch)

	// Permissions and overrides
	router.HandleFunc("/user/permissions", h.EffectivePermissions).Methods(http.MethodGet)
	router.HandleFunc("/user/overrides", h.ListOverrides).Methods(http.MethodGet)
	router.HandleFunc("/user/overrides", h.GrantOverride).Methods(http.MethodPost)
	router.HandleFunc("/user/overrides/{id}", h.ExtendOverride).Methods(http.MethodPatch)
	router.HandleFunc("/user/overrides/{id}", h.RevokeOverride).Methods(http.MethodDelete)

	// Decision API
	router.HandleFunc("/authorize", h.Authorize).Methods(http.MethodPost)
}

// writeError maps domain errors onto status codes
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrOverrideNotFound), errors.Is(err, ErrUserNotFound):
		httputil.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrRoleExists), errors.Is(err, ErrRoleInUse):
		httputil.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, ErrSelfGrantForbidden), errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrBuiltinRoleImmutable),
		errors.Is(err, ErrSelfAssignForbidden), errors.Is(err, ErrRoleAboveCaller), errors.Is(err, ErrUntrustedCaller):
		httputil.WriteError(w, http.StatusForbidden, err)
	case errors.Is(err, ErrUnknownPage), errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidOverride):
		httputil.WriteError(w, http.StatusBadRequest, err)
	default:
		observability.LoggerWithTrace(r.Context(), h.logger).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("admin request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// target returns the principal and the company the request acts on. It
// writes the error response itself and returns ok=false when the caller
// should stop.
func (h *Handlers) target(w http.ResponseWriter, r *http.Request) (*auth.Principal, string, bool) {
	p := contextkeys.GetPrincipal(r.Context())
	if p == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, "", false
	}
	companyID := RequestFor(r).CompanyID
	if companyID == "" {
		companyID = p.CompanyID
	}
	if companyID != p.CompanyID && h.companies != nil {
		exists, err := h.companies.CompanyExists(r.Context(), companyID)
		if err != nil {
			h.writeError(w, r, err)
			return nil, "", false
		}
		if !exists {
			httputil.WriteNotFoundError(w, "company not found")
			return nil, "", false
		}
	}
	return p, companyID, true
}

func (h *Handlers) audit(ctx context.Context, eventType audit.EventType, companyID, resourceType, resourceID string, metadata map[string]interface{}) {
	event := audit.NewEvent(ctx, eventType, h.clock.Now())
	event.Action = string(ActionAdminister)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Allowed = true
	if d, ok := ctx.Value(contextkeys.DecisionKey).(Decision); ok {
		event.MatchedRule = d.MatchedRule
	}
	if companyID != "" && companyID != event.CompanyID {
		event.Metadata["target_company_id"] = companyID
	}
	for k, v := range metadata {
		event.Metadata[k] = v
	}
	h.emitter.Emit(ctx, event)
}

// ListRoles lists the built-in and custom roles of the target company
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	roles, err := h.registry.ListRoles(r.Context(), companyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, ViewOf(role))
	}
	httputil.WriteSuccess(w, map[string]interface{}{"company_id": companyID, "roles": views})
}

type createRoleRequest struct {
	Name        string        `json:"name"`
	Permissions PermissionSet `json:"permissions"`
}

// CreateRole defines a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	p, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.registry.CreateCustomRole(r.Context(), companyID, req.Name, req.Permissions, p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), audit.EventTypeAdminRoleCreate, companyID, "role", role.ID, map[string]interface{}{
		"name":        role.Name,
		"permissions": role.BasePermissions.Slice(),
	})
	httputil.WriteCreated(w, ViewOf(role))
}

type updateRoleRequest struct {
	Permissions PermissionSet `json:"permissions"`
}

// UpdateRole replaces the base permissions of a custom role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permissions == nil {
		httputil.WriteValidationError(w, "permissions is required")
		return
	}

	role, err := h.registry.UpdateCustomRolePermissions(r.Context(), companyID, mux.Vars(r)["role"], req.Permissions)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), audit.EventTypeAdminRoleUpdate, companyID, "role", role.ID, map[string]interface{}{
		"permissions": role.BasePermissions.Slice(),
	})
	httputil.WriteSuccess(w, ViewOf(role))
}

// DeleteRole removes a custom role no active user holds
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	ref := mux.Vars(r)["role"]
	if err := h.registry.DeleteCustomRole(r.Context(), companyID, ref); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), audit.EventTypeAdminRoleDelete, companyID, "role", ref, nil)
	httputil.WriteNoContent(w)
}

// GetRolePages returns the page configuration of a role
func (h *Handlers) GetRolePages(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	role, err := h.registry.ResolveRole(r.Context(), companyID, mux.Vars(r)["role"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pages, err := h.matrix.RolePages(r.Context(), companyID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"role":           ViewOf(role),
		"default_policy": h.matrix.Policy().String(),
		"pages":          pages,
	})
}

type setRolePagesRequest struct {
	Pages []PageKey `json:"pages"`
}

// SetRolePages replaces the allowed pages of a role
func (h *Handlers) SetRolePages(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req setRolePagesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := h.registry.ResolveRole(r.Context(), companyID, mux.Vars(r)["role"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.matrix.SetRolePages(r.Context(), companyID, role, req.Pages); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), audit.EventTypeAdminRolePages, companyID, "role", role.RoleRef(), map[string]interface{}{
		"pages": NewPageSet(req.Pages...).Slice(),
	})

	pages, err := h.matrix.RolePages(r.Context(), companyID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"role": ViewOf(role), "pages": pages})
}

// ListAvailablePages lists the catalog with the company's switches
func (h *Handlers) ListAvailablePages(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	pages, err := h.availability.AvailablePages(r.Context(), companyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"company_id": companyID, "pages": pages})
}

type setAvailabilityRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetPageAvailability enables or disables a page for a company
func (h *Handlers) SetPageAvailability(w http.ResponseWriter, r *http.Request) {
	p, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	if companyID == auth.SystemCompanyID {
		httputil.WriteValidationError(w, "company_id is required")
		return
	}
	var req setAvailabilityRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		httputil.WriteValidationError(w, "enabled is required")
		return
	}

	page := PageKey(mux.Vars(r)["page"])
	if err := h.availability.SetPageEnabled(r.Context(), companyID, page, *req.Enabled, p.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), audit.EventTypeAdminPageAvailability, companyID, "page", string(page), map[string]interface{}{
		"enabled": *req.Enabled,
	})
	httputil.WriteSuccess(w, map[string]interface{}{"company_id": companyID, "page": page, "enabled": *req.Enabled})
}

// ListUsers lists the members of the target company
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	members, err := h.registry.Members(r.Context(), companyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"company_id": companyID, "users": members})
}

// member loads a user and hides users of other companies
func (h *Handlers) member(ctx context.Context, companyID, userID string) (*Member, error) {
	m, err := h.registry.Member(ctx, userID)
	if err != nil {
		return nil, err
	}
	if m.CompanyID != companyID {
		return nil, ErrUserNotFound
	}
	return m, nil
}

// GetUser returns one member of the target company
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	m, err := h.member(r.Context(), companyID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

type updateUserRequest struct {
	Role     string `json:"role"`
	IsActive *bool  `json:"is_active"`
}

// UpdateUser assigns a role to a user or switches the user on or off. An
// unknown user is added to the target company.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	p, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	userID := mux.Vars(r)["id"]
	roleRef, active := req.Role, true
	existing, err := h.member(ctx, companyID, userID)
	switch {
	case err == nil:
		active = existing.IsActive
		if roleRef == "" {
			roleRef = existing.RoleRef
		}
	case errors.Is(err, ErrUserNotFound) && roleRef != "":
	default:
		h.writeError(w, r, err)
		return
	}
	if req.IsActive != nil {
		active = *req.IsActive
	}

	refs := []string{roleRef}
	if existing != nil {
		refs = append(refs, existing.RoleRef)
	}
	if err := h.canManageMember(ctx, p, companyID, userID, refs...); err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.registry.AssignRole(ctx, companyID, userID, roleRef, active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(ctx, audit.EventTypeAdminUserUpdate, companyID, "user", userID, map[string]interface{}{
		"role":      m.RoleRef,
		"is_active": m.IsActive,
	})
	httputil.WriteSuccess(w, m)
}

// canManageMember guards membership edits beyond the endpoint rule: the
// caller needs manage_users in companyID, may not edit itself, and may not
// hand out or take away a role ranked above its own. Custom roles are outside
// the rank order and only need manage_users.
func (h *Handlers) canManageMember(ctx context.Context, p *auth.Principal, companyID, userID string, roleRefs ...string) error {
	allowed, err := h.overrides.HasPermission(ctx, p, companyID, PermManageUsers)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s is required", ErrPermissionDenied, PermManageUsers)
	}
	if userID == p.UserID {
		return ErrSelfAssignForbidden
	}

	caller, err := h.registry.ResolveRole(ctx, p.CompanyID, p.Role)
	if err != nil {
		return err
	}
	for _, ref := range roleRefs {
		role, err := h.registry.ResolveRole(ctx, companyID, ref)
		if errors.Is(err, ErrRoleNotFound) {
			// AssignRole reports an unknown new role; a deleted old one is no bar
			continue
		}
		if err != nil {
			return err
		}
		if IsBuiltin(role) && role.RoleRank() > caller.RoleRank() {
			return fmt.Errorf("%w: %s", ErrRoleAboveCaller, role.RoleName())
		}
	}
	return nil
}

// effectivePermissions is the caller's own view of what it can reach
type effectivePermissions struct {
	UserID      string       `json:"user_id"`
	CompanyID   string       `json:"company_id"`
	Role        RoleView     `json:"role"`
	Pages       []PageKey    `json:"pages"`
	Permissions []Permission `json:"permissions"`
	Overrides   []*Override  `json:"overrides"`
}

// EffectivePermissions reports the caller's pages after the company veto,
// plus its role permissions merged with active overrides
func (h *Handlers) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	p := contextkeys.GetPrincipal(r.Context())
	if p == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	ctx := r.Context()

	role, err := h.registry.ResolveRole(ctx, p.CompanyID, p.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	allowed, err := h.matrix.PagesFor(ctx, p.CompanyID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	pages := NewPageSet()
	for _, def := range catalog {
		if def.AlwaysAdmin && role.RoleRank() >= RankAdmin {
			pages[def.Key] = struct{}{}
			continue
		}
		if !allowed.Has(def.Key) {
			continue
		}
		enabled, err := h.availability.IsPageEnabledForCompany(ctx, p.CompanyID, def.Key)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if enabled {
			pages[def.Key] = struct{}{}
		}
	}

	overrides, err := h.overrides.ActiveOverridesFor(ctx, p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	perms := role.Permissions()
	mine := make([]*Override, 0, len(overrides))
	for _, o := range overrides {
		if o.CompanyID != p.CompanyID {
			continue
		}
		mine = append(mine, o)
		if o.Resource == "" {
			perms[o.Permission] = struct{}{}
		}
	}

	httputil.WriteSuccess(w, effectivePermissions{
		UserID:      p.UserID,
		CompanyID:   p.CompanyID,
		Role:        ViewOf(role),
		Pages:       pages.Slice(),
		Permissions: perms.Slice(),
		Overrides:   mine,
	})
}

// ListOverrides lists the overrides of the user named by ?user_id=
func (h *Handlers) ListOverrides(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.WriteValidationError(w, "user_id is required")
		return
	}

	all, err := h.overrides.Overrides(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]*Override, 0, len(all))
	for _, o := range all {
		if o.CompanyID == companyID {
			out = append(out, o)
		}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user_id": userID, "overrides": out})
}

// GrantOverride grants a permission to a user
func (h *Handlers) GrantOverride(w http.ResponseWriter, r *http.Request) {
	p, companyID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.CompanyID == "" {
		req.CompanyID = companyID
	}

	o, err := h.overrides.Grant(r.Context(), p, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), audit.EventTypeAdminOverrideGrant, o.CompanyID, "override", o.ID, map[string]interface{}{
		"target_user_id": o.UserID,
		"permission":     string(o.Permission),
		"resource":       o.Resource,
	})
	httputil.WriteCreated(w, o)
}

type extendOverrideRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

// ExtendOverride moves the expiry of an override later
func (h *Handlers) ExtendOverride(w http.ResponseWriter, r *http.Request) {
	p, _, ok := h.target(w, r)
	if !ok {
		return
	}
	var req extendOverrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ExpiresAt == nil {
		httputil.WriteValidationError(w, "expires_at is required")
		return
	}

	o, err := h.overrides.ExtendExpiry(r.Context(), p, mux.Vars(r)["id"], *req.ExpiresAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), audit.EventTypeAdminOverrideExtend, o.CompanyID, "override", o.ID, map[string]interface{}{
		"target_user_id": o.UserID,
		"expires_at":     o.ExpiresAt,
	})
	httputil.WriteSuccess(w, o)
}

// RevokeOverride deactivates an override
func (h *Handlers) RevokeOverride(w http.ResponseWriter, r *http.Request) {
	p, _, ok := h.target(w, r)
	if !ok {
		return
	}
	o, err := h.overrides.Deactivate(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r.Context(), audit.EventTypeAdminOverrideRevoke, o.CompanyID, "override", o.ID, map[string]interface{}{
		"target_user_id": o.UserID,
	})
	httputil.WriteSuccess(w, o)
}

// authorizeRequest asks for a decision on behalf of Principal, or of the
// caller when Principal is empty
type authorizeRequest struct {
	Principal  *auth.Principal `json:"principal,omitempty"`
	Method     string          `json:"method"`
	Path       string          `json:"path"`
	CompanyID  string          `json:"company_id,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
}

// trustedCaller reports whether caller may ask about other principals
func (h *Handlers) trustedCaller(caller *auth.Principal) bool {
	if caller == nil {
		return false
	}
	if isMasterAdmin(caller) {
		return true
	}
	_, ok := h.trusted[caller.UserID]
	return ok
}

// Authorize is the decision API for sidecars. A deny is a successful call;
// the decision is in the body. Only trusted callers may name a principal
// other than themselves; the decision event then records who asked.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Method == "" || req.Path == "" {
		httputil.WriteValidationError(w, "method and path are required")
		return
	}

	caller := contextkeys.GetPrincipal(r.Context())
	p := caller
	if req.Principal != nil && !samePrincipal(req.Principal, caller) {
		if !h.trustedCaller(caller) {
			h.writeError(w, r, ErrUntrustedCaller)
			return
		}
		p = req.Principal
	}

	d := h.engine.Authorize(r.Context(), p, Request{
		Method:     req.Method,
		Path:       req.Path,
		CompanyID:  req.CompanyID,
		ResourceID: req.ResourceID,
	})
	httputil.WriteSuccess(w, d)
}

func samePrincipal(a, b *auth.Principal) bool {
	return a != nil && b != nil && a.UserID == b.UserID && a.CompanyID == b.CompanyID && strings.EqualFold(a.Role, b.Role)
}
