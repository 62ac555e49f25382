package rbac

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Action classifies what a capability does to the target company's data
type Action string

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionAdminister Action = "administer"
)

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionAdminister:
		return true
	}
	return false
}

// actionForMethod is the action of a rule that does not name one
func actionForMethod(method string) Action {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionRead
	default:
		return ActionWrite
	}
}

// Rule maps an endpoint to the capability it requires
type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	// Method is matched exactly; empty or "*" matches any method
	Method       string     `yaml:"method" json:"method,omitempty"`
	Page         PageKey    `yaml:"page" json:"page,omitempty"`
	Permission   Permission `yaml:"permission" json:"permission,omitempty"`
	MinRole      string     `yaml:"min_role" json:"min_role,omitempty"`
	ExactRole    string     `yaml:"role" json:"role,omitempty"`
	Action       Action     `yaml:"action" json:"action,omitempty"`
	PHI          bool       `yaml:"phi" json:"phi,omitempty"`
	ResourceType string     `yaml:"resource_type" json:"resource_type,omitempty"`
}

func (r Rule) anyMethod() bool {
	return r.Method == "" || r.Method == "*"
}

// Capability is what a request needs in order to be allowed
type Capability struct {
	Rule         string     `json:"rule,omitempty"`
	Page         PageKey    `json:"page,omitempty"`
	Permission   Permission `json:"permission,omitempty"`
	MinRole      string     `json:"min_role,omitempty"`
	ExactRole    string     `json:"role,omitempty"`
	Action       Action     `json:"action"`
	PHI          bool       `json:"phi,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	CompanyID    string     `json:"company_id,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
}

// capability turns a matched rule into the capability for method
func (r Rule) capability(method string) Capability {
	action := r.Action
	if action == "" {
		action = actionForMethod(method)
	}
	resourceType := r.ResourceType
	if resourceType == "" {
		resourceType = string(r.Page)
	}
	return Capability{
		Rule:         r.Name,
		Page:         r.Page,
		Permission:   r.Permission,
		MinRole:      r.MinRole,
		ExactRole:    r.ExactRole,
		Action:       action,
		PHI:          r.PHI,
		ResourceType: resourceType,
	}
}

func (r *Rule) validate() error {
	if !strings.HasPrefix(r.Pattern, "/") {
		return fmt.Errorf("pattern %q must start with /", r.Pattern)
	}
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Name == "" {
		m := r.Method
		if r.anyMethod() {
			m = "*"
		}
		r.Name = m + " " + r.Pattern
	}
	if r.Page != "" {
		if _, ok := LookupPage(r.Page); !ok {
			return fmt.Errorf("rule %s: %w", r.Name, unknownPage(r.Page))
		}
	}
	if r.Permission != "" && !r.Permission.Valid() {
		return fmt.Errorf("rule %s: unknown permission %q", r.Name, r.Permission)
	}
	if r.MinRole != "" {
		if _, ok := LookupBuiltin(r.MinRole); !ok {
			return fmt.Errorf("rule %s: min_role %q is not a built-in role", r.Name, r.MinRole)
		}
	}
	if r.ExactRole != "" {
		if _, ok := LookupBuiltin(r.ExactRole); !ok {
			return fmt.Errorf("rule %s: role %q is not a built-in role", r.Name, r.ExactRole)
		}
	}
	if r.Action != "" && !r.Action.Valid() {
		return fmt.Errorf("rule %s: unknown action %q", r.Name, r.Action)
	}
	return nil
}

// PatternTable is an ordered list of rules; the first rule matching both the
// path and the method wins
type PatternTable struct {
	rules  []Rule
	router *mux.Router
	index  map[*mux.Route]int
}

// matcherHandler lets mux clear a method mismatch when a later route matches
var matcherHandler = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

// NewPatternTable compiles rules
func NewPatternTable(rules []Rule) (*PatternTable, error) {
	t := &PatternTable{
		rules:  make([]Rule, len(rules)),
		router: mux.NewRouter(),
		index:  make(map[*mux.Route]int, len(rules)),
	}
	copy(t.rules, rules)

	for i := range t.rules {
		rule := &t.rules[i]
		if err := rule.validate(); err != nil {
			return nil, err
		}
		route := t.router.NewRoute().Path(rule.Pattern).Handler(matcherHandler)
		if !rule.anyMethod() {
			route = route.Methods(rule.Method)
		}
		if err := route.GetError(); err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.Name, err)
		}
		t.index[route] = i
	}
	return t, nil
}

// Rules returns a copy of the rules in order
func (t *PatternTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Match finds the first rule for method and path. vars holds the path
// variables of the matched template.
func (t *PatternTable) Match(method, path string) (rule Rule, vars map[string]string, ok bool) {
	if path == "" {
		path = "/"
	}
	req := &http.Request{Method: strings.ToUpper(method), URL: &url.URL{Path: path}}

	var m mux.RouteMatch
	if !t.router.Match(req, &m) || m.MatchErr != nil {
		return Rule{}, nil, false
	}
	i, found := t.index[m.Route]
	if !found {
		return Rule{}, nil, false
	}
	return t.rules[i], m.Vars, true
}

type patternFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParsePatternTable compiles a YAML document of the form
//
//	rules:
//	  - name: users.list
//	    pattern: /api/users
//	    method: GET
//	    page: user_management
func ParsePatternTable(data []byte) (*PatternTable, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pattern table: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("pattern table has no rules")
	}
	return NewPatternTable(f.Rules)
}

// LoadPatternTable reads and compiles a YAML pattern table file
func LoadPatternTable(path string) (*PatternTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern table: %w", err)
	}
	return ParsePatternTable(data)
}

// PatternSource holds the table currently in force. Readers never block.
type PatternSource struct {
	current atomic.Pointer[PatternTable]
}

// NewPatternSource creates a source serving t
func NewPatternSource(t *PatternTable) *PatternSource {
	s := &PatternSource{}
	s.current.Store(t)
	return s
}

// Current returns the table in force
func (s *PatternSource) Current() *PatternTable {
	return s.current.Load()
}

// Store swaps in a new table
func (s *PatternSource) Store(t *PatternTable) {
	s.current.Store(t)
}

// WatchPatternTable reloads path into source whenever the file changes,
// until ctx is done. A file that fails to parse leaves the previous table in
// force.
func WatchPatternTable(ctx context.Context, path string, source *PatternSource, metrics *observability.Metrics, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace files, so watch the directory
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	logger = logger.WithField("pattern_table", abs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			t, err := LoadPatternTable(abs)
			if err != nil {
				metrics.RecordPatternReload(false)
				logger.WithError(err).Error("pattern table reload failed, keeping previous table")
				continue
			}
			source.Store(t)
			metrics.RecordPatternReload(true)
			logger.WithField("rules", len(t.rules)).Info("pattern table reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("pattern table watcher error")
		}
	}
}

// DefaultRules is the built-in endpoint table
func DefaultRules() []Rule {
	return []Rule{
		{Name: "users.list", Pattern: "/api/users", Method: http.MethodGet, Page: PageUserManagement, ResourceType: "user"},
		{Name: "users.get", Pattern: "/api/users/{id}", Method: http.MethodGet, Page: PageUserManagement, ResourceType: "user"},
		{Name: "users.update", Pattern: "/api/users/{id}", Method: http.MethodPatch, Page: PageUserManagement, Permission: PermManageUsers, ResourceType: "user"},
		{Name: "company_roles.create", Pattern: "/api/company/roles", Method: http.MethodPost, Page: PageUserManagement, MinRole: RoleAdmin, ResourceType: "role"},
		{Name: "audit.list", Pattern: "/api/audit", Method: http.MethodGet, Page: PageAuditLogs, Permission: PermViewAuditLogs, ResourceType: "audit_log"},
		{Name: "companies.list", Pattern: "/api/companies", Method: http.MethodGet, ExactRole: RoleMasterAdmin, Action: ActionAdminister, ResourceType: "company"},
		{Name: "companies.create", Pattern: "/api/companies", Method: http.MethodPost, ExactRole: RoleMasterAdmin, Action: ActionAdminister, ResourceType: "company"},
		{Name: "companies.get", Pattern: "/api/companies/{companyId}", Method: http.MethodGet, ExactRole: RoleMasterAdmin, Action: ActionRead, ResourceType: "company"},
		{Name: "companies.update", Pattern: "/api/companies/{companyId}", Method: http.MethodPatch, ExactRole: RoleMasterAdmin, Action: ActionAdminister, ResourceType: "company"},

		{Name: "dashboard.view", Pattern: "/api/dashboard", Method: http.MethodGet, Page: PageDashboard},
		{Name: "reports.export", Pattern: "/api/reports/export", Method: http.MethodPost, Page: PageExports, Permission: PermExportReports, Action: ActionRead, PHI: true, ResourceType: "report"},
		{Name: "reports.list", Pattern: "/api/reports", Method: http.MethodGet, Page: PageReports, Permission: PermViewReports, PHI: true, ResourceType: "report"},
		{Name: "reports.get", Pattern: "/api/reports/{id}", Method: http.MethodGet, Page: PageReports, Permission: PermViewReports, PHI: true, ResourceType: "report"},
		{Name: "analytics.view", Pattern: "/api/analytics", Method: http.MethodGet, Page: PageAnalytics, Permission: PermViewAnalytics},
		{Name: "settings.view", Pattern: "/api/settings", Method: http.MethodGet, Page: PageSettings},
		{Name: "settings.update", Pattern: "/api/settings", Method: http.MethodPut, Page: PageSettings, MinRole: RoleAdmin},

		{Name: "roles.list", Pattern: "/company/roles", Method: http.MethodGet, Page: PageUserManagement, ResourceType: "role"},
		{Name: "roles.create", Pattern: "/company/roles", Method: http.MethodPost, Page: PageUserManagement, Permission: PermManageRoles, MinRole: RoleAdmin, ResourceType: "role"},
		{Name: "roles.delete", Pattern: "/company/roles/{role}", Method: http.MethodDelete, Page: PageUserManagement, Permission: PermManageRoles, MinRole: RoleAdmin, ResourceType: "role"},
		{Name: "roles.update", Pattern: "/company/roles/{role}", Method: http.MethodPatch, Page: PageUserManagement, Permission: PermManageRoles, MinRole: RoleAdmin, ResourceType: "role"},
		{Name: "role_pages.get", Pattern: "/company/roles/{role}/pages", Method: http.MethodGet, Page: PageUserManagement, ResourceType: "role"},
		{Name: "role_pages.set", Pattern: "/company/roles/{role}/pages", Method: http.MethodPut, Page: PageUserManagement, Permission: PermManageRoles, MinRole: RoleAdmin, ResourceType: "role"},
		{Name: "available_pages.list", Pattern: "/company/available-pages", Method: http.MethodGet, ResourceType: "page"},
		{Name: "available_pages.set", Pattern: "/company/available-pages/{page}", Method: http.MethodPut, ExactRole: RoleMasterAdmin, Action: ActionAdminister, ResourceType: "page"},

		{Name: "permissions.self", Pattern: "/user/permissions", Method: http.MethodGet, ResourceType: "permission"},
		{Name: "overrides.list", Pattern: "/user/overrides", Method: http.MethodGet, Page: PagePermissions, Permission: PermManagePermissions, ResourceType: "override"},
		{Name: "overrides.grant", Pattern: "/user/overrides", Method: http.MethodPost, Page: PagePermissions, Permission: PermManagePermissions, ResourceType: "override"},
		{Name: "overrides.extend", Pattern: "/user/overrides/{id}", Method: http.MethodPatch, Page: PagePermissions, Permission: PermManagePermissions, ResourceType: "override"},
		{Name: "overrides.revoke", Pattern: "/user/overrides/{id}", Method: http.MethodDelete, Page: PagePermissions, Permission: PermManagePermissions, ResourceType: "override"},

		{Name: "authorize", Pattern: "/authorize", Method: http.MethodPost, Action: ActionRead, ResourceType: "decision"},
	}
}

// DefaultPatternTable compiles DefaultRules
func DefaultPatternTable() *PatternTable {
	t, err := NewPatternTable(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("rbac: invalid default rules: %v", err))
	}
	return t
}
