package rbac

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// Override is a per-user grant of one permission, optionally limited to a
// single resource and optionally expiring
type Override struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	CompanyID  string     `json:"company_id"`
	Permission Permission `json:"permission"`
	Resource   string     `json:"resource,omitempty"`
	GrantedBy  string     `json:"granted_by"`
	GrantedAt  time.Time  `json:"granted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// ActiveAt reports whether the override is in force at now
func (o *Override) ActiveAt(now time.Time) bool {
	return o.IsActive && (o.ExpiresAt == nil || o.ExpiresAt.After(now))
}

// Grants reports whether the override covers perm on resource. An override
// without a resource covers every resource.
func (o *Override) Grants(perm Permission, resource string) bool {
	return o.Permission == perm && (o.Resource == "" || o.Resource == resource)
}

// GrantRequest describes a new override
type GrantRequest struct {
	UserID     string     `json:"user_id"`
	CompanyID  string     `json:"company_id,omitempty"`
	Permission Permission `json:"permission"`
	Resource   string     `json:"resource,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// OverrideSource yields the overrides in force for a user
type OverrideSource interface {
	ActiveOverridesFor(ctx context.Context, userID string) ([]*Override, error)
}

// OverrideStore manages user permission overrides. Reads always go to the
// database so an expired grant is never served.
type OverrideStore struct {
	store    *Store
	registry *Registry
	clock    clockwork.Clock
}

// NewOverrideStore creates an override store
func NewOverrideStore(store *Store, registry *Registry, clock clockwork.Clock) *OverrideStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OverrideStore{store: store, registry: registry, clock: clock}
}

// ActiveOverridesFor returns the overrides of userID that are active and
// unexpired now
func (s *OverrideStore) ActiveOverridesFor(ctx context.Context, userID string) ([]*Override, error) {
	now := s.clock.Now().UTC()
	rows, err := s.store.ListActiveOverrides(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, o := range rows {
		if o.ActiveAt(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

// Overrides returns every override of userID, including revoked and expired
// ones
func (s *OverrideStore) Overrides(ctx context.Context, userID string) ([]*Override, error) {
	return s.store.ListOverrides(ctx, userID)
}

// HasPermission reports whether p holds perm for companyID, through its role
// or through an active company-wide override
func (s *OverrideStore) HasPermission(ctx context.Context, p *auth.Principal, companyID string, perm Permission) (bool, error) {
	if p == nil {
		return false, nil
	}
	role, err := s.registry.ResolveRole(ctx, p.CompanyID, p.Role)
	if errors.Is(err, ErrRoleNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if p.CompanyID != companyID && role.RoleName() != RoleMasterAdmin {
		return false, nil
	}
	if role.Permissions().Has(perm) {
		return true, nil
	}

	overrides, err := s.ActiveOverridesFor(ctx, p.UserID)
	if err != nil {
		return false, err
	}
	for _, o := range overrides {
		if o.CompanyID == companyID && o.Permission == perm && o.Resource == "" {
			return true, nil
		}
	}
	return false, nil
}

func (s *OverrideStore) requireManager(ctx context.Context, granter *auth.Principal, companyID string) error {
	ok, err := s.HasPermission(ctx, granter, companyID, PermManagePermissions)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// Grant creates an override on behalf of granter
func (s *OverrideStore) Grant(ctx context.Context, granter *auth.Principal, req GrantRequest) (*Override, error) {
	if granter == nil {
		return nil, ErrPermissionDenied
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, invalidOverride("user_id is required")
	}
	if !req.Permission.Valid() {
		return nil, invalidOverride("unknown permission %q", req.Permission)
	}
	if req.Permission == PermManageCompanies {
		return nil, invalidOverride("%s cannot be granted", PermManageCompanies)
	}
	if req.UserID == granter.UserID {
		return nil, ErrSelfGrantForbidden
	}

	companyID := req.CompanyID
	if companyID == "" {
		companyID = granter.CompanyID
	}
	if companyID == "" || companyID == auth.SystemCompanyID {
		return nil, invalidOverride("a target company is required")
	}
	if err := s.requireManager(ctx, granter, companyID); err != nil {
		return nil, err
	}

	member, err := s.store.GetMember(ctx, req.UserID)
	switch {
	case err == nil && member.CompanyID != companyID:
		return nil, invalidOverride("user %s is not a member of %s", req.UserID, companyID)
	case err != nil && !errors.Is(err, ErrUserNotFound):
		return nil, err
	}

	now := s.clock.Now().UTC()
	o := &Override{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		CompanyID:  companyID,
		Permission: req.Permission,
		Resource:   strings.TrimSpace(req.Resource),
		GrantedBy:  granter.UserID,
		GrantedAt:  now,
		IsActive:   true,
	}
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, invalidOverride("expires_at must be in the future")
		}
		exp := req.ExpiresAt.UTC()
		o.ExpiresAt = &exp
	}

	if err := s.store.InsertOverride(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Deactivate revokes an override
func (s *OverrideStore) Deactivate(ctx context.Context, granter *auth.Principal, overrideID string) (*Override, error) {
	o, err := s.store.GetOverride(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, granter, o.CompanyID); err != nil {
		return nil, err
	}
	if err := s.store.SetOverrideActive(ctx, o.ID, false); err != nil {
		return nil, err
	}
	o.IsActive = false
	return o, nil
}

// ExtendExpiry moves the expiry of a live override later. It never shortens
// an override and never revives a dead one.
func (s *OverrideStore) ExtendExpiry(ctx context.Context, granter *auth.Principal, overrideID string, newExpiresAt time.Time) (*Override, error) {
	o, err := s.store.GetOverride(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if granter != nil && granter.UserID == o.UserID {
		return nil, ErrSelfGrantForbidden
	}
	if err := s.requireManager(ctx, granter, o.CompanyID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	switch {
	case !o.ActiveAt(now):
		return nil, invalidOverride("override %s is no longer active", o.ID)
	case o.ExpiresAt == nil:
		return nil, invalidOverride("override %s does not expire", o.ID)
	case !newExpiresAt.After(*o.ExpiresAt):
		return nil, invalidOverride("expiry can only move forward")
	}

	exp := newExpiresAt.UTC()
	if err := s.store.UpdateOverrideExpiry(ctx, o.ID, exp); err != nil {
		return nil, err
	}
	o.ExpiresAt = &exp
	return o, nil
}

// SweepExpired flips is_active off on overrides past expiry. Reads already
// ignore them; this only keeps the table tidy.
func (s *OverrideStore) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeactivateExpiredOverrides(ctx, s.clock.Now().UTC())
}
