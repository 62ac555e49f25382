package rbac

import "sort"

// PageKey identifies a UI surface or a logical group of API resources
type PageKey string

const (
	PageDashboard      PageKey = "dashboard"
	PageReports        PageKey = "reports"
	PageAnalytics      PageKey = "analytics"
	PageExports        PageKey = "exports"
	PageSettings       PageKey = "settings"
	PagePermissions    PageKey = "permissions"
	PageUserManagement PageKey = "user_management"
	PageAuditLogs      PageKey = "audit_logs"
)

// PageDefinition describes one page of the catalog
type PageDefinition struct {
	Key   PageKey `json:"key"`
	Label string  `json:"label"`
	// AlwaysAdmin pages are reachable by admin and master_admin no matter how
	// the matrix or company availability is configured.
	AlwaysAdmin bool `json:"always_admin"`
}

var catalog = []PageDefinition{
	{Key: PageDashboard, Label: "Dashboard"},
	{Key: PageReports, Label: "Reports"},
	{Key: PageAnalytics, Label: "Analytics"},
	{Key: PageExports, Label: "Exports"},
	{Key: PageSettings, Label: "Settings"},
	{Key: PagePermissions, Label: "Permissions"},
	{Key: PageUserManagement, Label: "User Management", AlwaysAdmin: true},
	{Key: PageAuditLogs, Label: "Audit Logs", AlwaysAdmin: true},
}

var catalogIndex = func() map[PageKey]PageDefinition {
	m := make(map[PageKey]PageDefinition, len(catalog))
	for _, p := range catalog {
		m[p.Key] = p
	}
	return m
}()

// Catalog returns every known page in display order
func Catalog() []PageDefinition {
	out := make([]PageDefinition, len(catalog))
	copy(out, catalog)
	return out
}

// LookupPage returns the definition for key
func LookupPage(key PageKey) (PageDefinition, bool) {
	p, ok := catalogIndex[key]
	return p, ok
}

// IsAlwaysAdmin reports whether key is flagged always-admin
func IsAlwaysAdmin(key PageKey) bool {
	return catalogIndex[key].AlwaysAdmin
}

// PageSet is a set of page keys
type PageSet map[PageKey]struct{}

// NewPageSet builds a set from keys
func NewPageSet(keys ...PageKey) PageSet {
	s := make(PageSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether k is in the set
func (s PageSet) Has(k PageKey) bool {
	_, ok := s[k]
	return ok
}

// Slice returns the keys in catalog order, followed by any unknown keys sorted
func (s PageSet) Slice() []PageKey {
	out := make([]PageKey, 0, len(s))
	for _, p := range catalog {
		if s.Has(p.Key) {
			out = append(out, p.Key)
		}
	}
	var extra []PageKey
	for k := range s {
		if _, ok := catalogIndex[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// validatePages returns ErrUnknownPage for the first key not in the catalog
func validatePages(keys []PageKey) error {
	for _, k := range keys {
		if _, ok := catalogIndex[k]; !ok {
			return unknownPage(k)
		}
	}
	return nil
}
