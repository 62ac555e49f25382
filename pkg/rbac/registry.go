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

// Member is the minimal membership row that ties a user to a company role
type Member struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	RoleRef   string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry resolves built-in and company custom roles
type Registry struct {
	store *Store
	cache *Cache
	clock clockwork.Clock
}

// NewRegistry creates a role registry
func NewRegistry(store *Store, cache *Cache, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{store: store, cache: cache, clock: clock}
}

// ResolveRole resolves nameOrID within companyID. Built-in names win; a
// custom role of another company never resolves.
func (r *Registry) ResolveRole(ctx context.Context, companyID, nameOrID string) (Role, error) {
	if b, ok := LookupBuiltin(nameOrID); ok {
		return b, nil
	}
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" || companyID == "" {
		return nil, ErrRoleNotFound
	}

	return load(r.cache, r.cache.roles, "roles", cacheKey(companyID, nameOrID), func() (Role, error) {
		role, err := r.store.GetCustomRole(ctx, companyID, nameOrID)
		if errors.Is(err, ErrRoleNotFound) {
			role, err = r.store.GetCustomRoleByName(ctx, companyID, nameOrID)
		}
		if err != nil {
			return nil, err
		}
		return role, nil
	})
}

func validateBasePermissions(perms PermissionSet) error {
	if bad := perms.Invalid(); len(bad) > 0 {
		return invalidRole("unknown permission %q", bad[0])
	}
	if perms.Has(PermManageCompanies) {
		return invalidRole("%s is reserved for %s", PermManageCompanies, RoleMasterAdmin)
	}
	return nil
}

// CreateCustomRole defines a new role for companyID
func (r *Registry) CreateCustomRole(ctx context.Context, companyID, name string, perms PermissionSet, createdBy string) (*CustomRole, error) {
	name = strings.TrimSpace(name)
	switch {
	case companyID == "" || companyID == auth.SystemCompanyID:
		return nil, invalidRole("custom roles belong to a company")
	case name == "":
		return nil, invalidRole("name is required")
	}
	if _, ok := LookupBuiltin(name); ok {
		return nil, invalidRole("%q is a built-in role", name)
	}
	if perms == nil {
		perms = NewPermissionSet()
	}
	if err := validateBasePermissions(perms); err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC()
	role := &CustomRole{
		ID:              uuid.NewString(),
		CompanyID:       companyID,
		Name:            name,
		BasePermissions: perms.Clone(),
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.CreateCustomRole(ctx, role); err != nil {
		return nil, err
	}

	r.cache.Invalidate(ctx, Invalidation{Scope: ScopeRoles, CompanyID: companyID})
	return role, nil
}

func (r *Registry) customRole(ctx context.Context, companyID, nameOrID string) (*CustomRole, error) {
	role, err := r.ResolveRole(ctx, companyID, nameOrID)
	if err != nil {
		return nil, err
	}
	custom, ok := role.(*CustomRole)
	if !ok {
		return nil, ErrBuiltinRoleImmutable
	}
	return custom, nil
}

// DeleteCustomRole removes a custom role that no active user holds
func (r *Registry) DeleteCustomRole(ctx context.Context, companyID, nameOrID string) error {
	role, err := r.customRole(ctx, companyID, nameOrID)
	if err != nil {
		return err
	}
	if err := r.store.DeleteCustomRole(ctx, companyID, role.ID); err != nil {
		return err
	}
	r.cache.Invalidate(ctx, Invalidation{Scope: ScopeRoles, CompanyID: companyID})
	return nil
}

// UpdateCustomRolePermissions replaces the base permissions of a custom role
func (r *Registry) UpdateCustomRolePermissions(ctx context.Context, companyID, nameOrID string, perms PermissionSet) (*CustomRole, error) {
	if err := validateBasePermissions(perms); err != nil {
		return nil, err
	}
	role, err := r.customRole(ctx, companyID, nameOrID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC()
	if err := r.store.UpdateCustomRolePermissions(ctx, companyID, role.ID, perms, now); err != nil {
		return nil, err
	}
	r.cache.Invalidate(ctx, Invalidation{Scope: ScopeRoles, CompanyID: companyID})

	updated := *role
	updated.BasePermissions = perms.Clone()
	updated.UpdatedAt = now
	return &updated, nil
}

// ListRoles returns the built-in roles followed by the company's custom roles
func (r *Registry) ListRoles(ctx context.Context, companyID string) ([]Role, error) {
	out := make([]Role, 0, len(builtinRoles))
	for _, b := range builtinRoles {
		out = append(out, b)
	}
	if companyID == "" || companyID == auth.SystemCompanyID {
		return out, nil
	}

	custom, err := r.store.ListCustomRoles(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, c := range custom {
		out = append(out, c)
	}
	return out, nil
}

// AssignRole records userID as a member of companyID holding the given role
func (r *Registry) AssignRole(ctx context.Context, companyID, userID, nameOrID string, active bool) (*Member, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidRole("user id is required")
	}
	role, err := r.ResolveRole(ctx, companyID, nameOrID)
	if err != nil {
		return nil, err
	}
	if role.RoleName() == RoleMasterAdmin && companyID != auth.SystemCompanyID {
		return nil, invalidRole("%s belongs to the %s company", RoleMasterAdmin, auth.SystemCompanyID)
	}

	now := r.clock.Now().UTC()
	m := &Member{
		ID:        userID,
		CompanyID: companyID,
		RoleRef:   role.RoleRef(),
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := r.store.GetMember(ctx, userID); err == nil {
		if existing.CompanyID != companyID {
			return nil, ErrUserNotFound
		}
		m.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if err := r.store.UpsertMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Member returns the membership row of userID
func (r *Registry) Member(ctx context.Context, userID string) (*Member, error) {
	return r.store.GetMember(ctx, userID)
}

// Members lists the users of companyID
func (r *Registry) Members(ctx context.Context, companyID string) ([]*Member, error) {
	return r.store.ListMembers(ctx, companyID)
}
