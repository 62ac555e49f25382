package rbac

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Rank orders built-in roles. A higher rank is authorized for everything a
// lower rank is, except pages disabled company-wide.
type Rank int

const (
	RankUser        Rank = 0
	RankViewer      Rank = 1
	RankAnalyst     Rank = 2
	RankAdmin       Rank = 3
	RankMasterAdmin Rank = 4
)

// Built-in role names
const (
	RoleMasterAdmin = "master_admin"
	RoleAdmin       = "admin"
	RoleAnalyst     = "analyst"
	RoleViewer      = "viewer"
	RoleUser        = "user"
)

// Role is either a BuiltinRole or a CustomRole
type Role interface {
	// RoleName is the human-facing name
	RoleName() string
	// RoleRank places the role in the hierarchy
	RoleRank() Rank
	// RoleRef is the stable key used in page access rows and user membership
	RoleRef() string
	// Permissions the role carries on its own
	Permissions() PermissionSet

	role()
}

// BuiltinRole is a process-wide constant role
type BuiltinRole struct {
	Name string `json:"name"`
	Rank Rank   `json:"rank"`
}

func (r BuiltinRole) RoleName() string { return r.Name }
func (r BuiltinRole) RoleRank() Rank   { return r.Rank }
func (r BuiltinRole) RoleRef() string  { return r.Name }
func (r BuiltinRole) Permissions() PermissionSet {
	return builtinPermissions[r.Name].Clone()
}
func (BuiltinRole) role() {}

// CustomRole is defined by a company and scoped to it. Custom roles stand
// outside the rank order: RoleRank reports RankUser only so that role
// requirements treat them as the lowest tier, and they inherit no built-in
// pages. Their capability comes from BasePermissions and from the pages
// configured for them.
type CustomRole struct {
	ID              string        `json:"id"`
	CompanyID       string        `json:"company_id"`
	Name            string        `json:"name"`
	BasePermissions PermissionSet `json:"base_permissions"`
	CreatedBy       string        `json:"created_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (r *CustomRole) RoleName() string          { return r.Name }
func (r *CustomRole) RoleRank() Rank            { return RankUser }
func (r *CustomRole) RoleRef() string           { return r.ID }
func (r *CustomRole) Permissions() PermissionSet { return r.BasePermissions.Clone() }
func (*CustomRole) role()                       {}

var (
	MasterAdmin = BuiltinRole{Name: RoleMasterAdmin, Rank: RankMasterAdmin}
	Admin       = BuiltinRole{Name: RoleAdmin, Rank: RankAdmin}
	Analyst     = BuiltinRole{Name: RoleAnalyst, Rank: RankAnalyst}
	Viewer      = BuiltinRole{Name: RoleViewer, Rank: RankViewer}
	User        = BuiltinRole{Name: RoleUser, Rank: RankUser}
)

var builtinRoles = []BuiltinRole{MasterAdmin, Admin, Analyst, Viewer, User}

// BuiltinRoles returns the built-in roles from highest to lowest rank
func BuiltinRoles() []BuiltinRole {
	out := make([]BuiltinRole, len(builtinRoles))
	copy(out, builtinRoles)
	return out
}

// LookupBuiltin finds a built-in role by name, case-insensitively
func LookupBuiltin(name string) (BuiltinRole, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range builtinRoles {
		if r.Name == name {
			return r, true
		}
	}
	return BuiltinRole{}, false
}

// IsBuiltin reports whether role is a BuiltinRole
func IsBuiltin(role Role) bool {
	_, ok := role.(BuiltinRole)
	return ok
}

// RoleView is the JSON shape of a role for the admin API
type RoleView struct {
	Ref         string        `json:"ref"`
	Name        string        `json:"name"`
	Kind        string        `json:"kind"`
	Rank        Rank          `json:"rank"`
	CompanyID   string        `json:"company_id,omitempty"`
	Permissions PermissionSet `json:"permissions"`
}

// ViewOf converts a role into its API shape
func ViewOf(role Role) RoleView {
	v := RoleView{
		Ref:         role.RoleRef(),
		Name:        role.RoleName(),
		Kind:        "builtin",
		Rank:        role.RoleRank(),
		Permissions: role.Permissions(),
	}
	if c, ok := role.(*CustomRole); ok {
		v.Kind = "custom"
		v.CompanyID = c.CompanyID
	}
	return v
}

// Permission is a fine-grained capability that roles and overrides carry
type Permission string

const (
	PermManagePermissions Permission = "manage_permissions"
	PermManageRoles       Permission = "manage_roles"
	PermManageUsers       Permission = "manage_users"
	PermManageCompanies   Permission = "manage_companies"
	PermViewReports       Permission = "view_reports"
	PermExportReports     Permission = "export_reports"
	PermViewAnalytics     Permission = "view_analytics"
	PermViewAuditLogs     Permission = "view_audit_logs"
	PermViewPHI           Permission = "view_phi"
)

var knownPermissions = map[Permission]struct{}{
	PermManagePermissions: {},
	PermManageRoles:       {},
	PermManageUsers:       {},
	PermManageCompanies:   {},
	PermViewReports:       {},
	PermExportReports:     {},
	PermViewAnalytics:     {},
	PermViewAuditLogs:     {},
	PermViewPHI:           {},
}

// Valid reports whether p is a known permission
func (p Permission) Valid() bool {
	_, ok := knownPermissions[p]
	return ok
}

var builtinPermissions = map[string]PermissionSet{
	RoleMasterAdmin: NewPermissionSet(
		PermManagePermissions, PermManageRoles, PermManageUsers, PermManageCompanies,
		PermViewReports, PermExportReports, PermViewAnalytics, PermViewAuditLogs, PermViewPHI,
	),
	RoleAdmin: NewPermissionSet(
		PermManagePermissions, PermManageRoles, PermManageUsers,
		PermViewReports, PermExportReports, PermViewAnalytics, PermViewAuditLogs,
	),
	RoleAnalyst: NewPermissionSet(PermViewReports, PermExportReports, PermViewAnalytics),
	RoleViewer:  NewPermissionSet(PermViewReports),
	RoleUser:    NewPermissionSet(),
}

// PermissionSet is an unordered set of permissions. It encodes as a sorted
// JSON array.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from perms
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Clone returns an independent copy
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Slice returns the permissions sorted by name
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Invalid returns the members that are not known permissions
func (s PermissionSet) Invalid() []Permission {
	var out []Permission
	for _, p := range s.Slice() {
		if !p.Valid() {
			out = append(out, p)
		}
	}
	return out
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}
