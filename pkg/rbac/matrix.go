package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
)

// DefaultPolicy decides a page that has no explicit row for a role
type DefaultPolicy int

const (
	// DefaultAllow shows unconfigured pages, so companies that never touched
	// the matrix keep seeing everything
	DefaultAllow DefaultPolicy = iota
	DefaultDeny
)

func (p DefaultPolicy) String() string {
	if p == DefaultDeny {
		return "deny"
	}
	return "allow"
}

// ParseDefaultPolicy parses "allow" or "deny"
func ParseDefaultPolicy(s string) (DefaultPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow":
		return DefaultAllow, nil
	case "deny":
		return DefaultDeny, nil
	default:
		return DefaultAllow, fmt.Errorf("invalid default page policy %q", s)
	}
}

// PageAccess is one row of a role's page configuration as shown to admins
type PageAccess struct {
	Page        PageKey `json:"page"`
	Label       string  `json:"label"`
	Allowed     bool    `json:"allowed"`
	Configured  bool    `json:"configured"`
	AlwaysAdmin bool    `json:"always_admin"`

	// InheritedFrom names the lower built-in role that grants the page when
	// the role's own row (or the default policy) does not
	InheritedFrom string `json:"inherited_from,omitempty"`
}

// Matrix maps roles to the pages they may reach within a company
type Matrix struct {
	store  *Store
	cache  *Cache
	clock  clockwork.Clock
	policy DefaultPolicy
}

// NewMatrix creates a page access matrix
func NewMatrix(store *Store, cache *Cache, clock clockwork.Clock, policy DefaultPolicy) *Matrix {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Matrix{store: store, cache: cache, clock: clock, policy: policy}
}

// Policy returns the configured default policy
func (m *Matrix) Policy() DefaultPolicy {
	return m.policy
}

// inheritedRefs lists the role refs whose rows feed role's page set. A
// built-in role inherits every lower-ranked built-in so the hierarchy stays
// monotone whatever rows exist: an explicit deny on a role does not remove a
// page a lower built-in still reaches. Custom roles stand outside the rank
// order and see only their own rows.
func inheritedRefs(role Role) []string {
	if _, ok := role.(BuiltinRole); !ok {
		return []string{role.RoleRef()}
	}
	var refs []string
	for _, b := range builtinRoles {
		if b.Rank <= role.RoleRank() {
			refs = append(refs, b.Name)
		}
	}
	return refs
}

func (m *Matrix) allowedBy(rows map[string]map[PageKey]bool, ref string, page PageKey) bool {
	if allowed, ok := rows[ref][page]; ok {
		return allowed
	}
	return m.policy == DefaultAllow
}

func (m *Matrix) compute(ctx context.Context, companyID string, role Role) (PageSet, map[string]map[PageKey]bool, error) {
	refs := inheritedRefs(role)
	rows, err := m.store.PageAccessRows(ctx, companyID, refs...)
	if err != nil {
		return nil, nil, err
	}

	pages := NewPageSet()
	for _, def := range catalog {
		if def.AlwaysAdmin && role.RoleRank() >= RankAdmin {
			pages[def.Key] = struct{}{}
			continue
		}
		for _, ref := range refs {
			if m.allowedBy(rows, ref, def.Key) {
				pages[def.Key] = struct{}{}
				break
			}
		}
	}
	return pages, rows, nil
}

func checkRoleCompany(companyID string, role Role) error {
	if c, ok := role.(*CustomRole); ok && c.CompanyID != companyID {
		return ErrRoleNotFound
	}
	return nil
}

// PagesFor returns the pages role may reach in companyID, before the company
// veto is applied
func (m *Matrix) PagesFor(ctx context.Context, companyID string, role Role) (PageSet, error) {
	if err := checkRoleCompany(companyID, role); err != nil {
		return nil, err
	}
	return load(m.cache, m.cache.matrix, "matrix", cacheKey(companyID, role.RoleRef()), func() (PageSet, error) {
		pages, _, err := m.compute(ctx, companyID, role)
		return pages, err
	})
}

// RolePages returns the page configuration of role for the admin UI,
// uncached
func (m *Matrix) RolePages(ctx context.Context, companyID string, role Role) ([]PageAccess, error) {
	if err := checkRoleCompany(companyID, role); err != nil {
		return nil, err
	}
	pages, rows, err := m.compute(ctx, companyID, role)
	if err != nil {
		return nil, err
	}

	own := role.RoleRef()
	out := make([]PageAccess, 0, len(catalog))
	for _, def := range catalog {
		_, configured := rows[own][def.Key]
		access := PageAccess{
			Page:        def.Key,
			Label:       def.Label,
			Allowed:     pages.Has(def.Key),
			Configured:  configured,
			AlwaysAdmin: def.AlwaysAdmin,
		}
		if access.Allowed && !(def.AlwaysAdmin && role.RoleRank() >= RankAdmin) && !m.allowedBy(rows, own, def.Key) {
			access.InheritedFrom = m.grantingRef(rows, role, def.Key)
		}
		out = append(out, access)
	}
	return out, nil
}

// grantingRef returns the highest lower built-in whose row or default grants
// page to role
func (m *Matrix) grantingRef(rows map[string]map[PageKey]bool, role Role, page PageKey) string {
	for _, ref := range inheritedRefs(role) {
		if ref != role.RoleRef() && m.allowedBy(rows, ref, page) {
			return ref
		}
	}
	return ""
}

// SetRolePages replaces the allow-set of role in companyID. Every catalog
// page gets an explicit row, so calling it twice with the same keys leaves
// the same state.
func (m *Matrix) SetRolePages(ctx context.Context, companyID string, role Role, keys []PageKey) error {
	if err := checkRoleCompany(companyID, role); err != nil {
		return err
	}
	if err := validatePages(keys); err != nil {
		return err
	}

	if err := m.store.ReplaceRolePages(ctx, companyID, role.RoleRef(), NewPageSet(keys...), m.clock.Now().UTC()); err != nil {
		return err
	}
	// built-in rows feed the pages of every higher rank, so drop the whole
	// company matrix
	m.cache.Invalidate(ctx, Invalidation{Scope: ScopeMatrix, CompanyID: companyID})
	return nil
}

