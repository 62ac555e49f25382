package rbac

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

func TestPatternTable_Match(t *testing.T) {
	table := DefaultPatternTable()

	tests := []struct {
		method string
		path   string
		rule   string
		vars   map[string]string
	}{
		{http.MethodGet, "/api/users", "users.list", nil},
		{http.MethodGet, "/api/users/u-7", "users.get", map[string]string{"id": "u-7"}},
		{http.MethodPatch, "/api/users/u-7", "users.update", map[string]string{"id": "u-7"}},
		{"patch", "/api/users/u-7", "users.update", map[string]string{"id": "u-7"}},
		{http.MethodPost, "/api/reports/export", "reports.export", nil},
		{http.MethodGet, "/api/reports/r-1", "reports.get", map[string]string{"id": "r-1"}},
		{http.MethodPatch, "/api/companies/globex", "companies.update", map[string]string{"companyId": "globex"}},
		{http.MethodPut, "/company/roles/auditor/pages", "role_pages.set", map[string]string{"role": "auditor"}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rule, vars, ok := table.Match(tt.method, tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.rule, rule.Name)
			assert.Len(t, vars, len(tt.vars))
			for k, v := range tt.vars {
				assert.Equal(t, v, vars[k])
			}
		})
	}
}

func TestPatternTable_NoMatch(t *testing.T) {
	table := DefaultPatternTable()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/unknown"},
		{http.MethodDelete, "/api/users/u-7"},
		{http.MethodGet, ""},
		{http.MethodGet, "/api/users/u-7/extra"},
	} {
		_, _, ok := table.Match(tc.method, tc.path)
		assert.False(t, ok, "%s %s", tc.method, tc.path)
	}
}

func TestPatternTable_FirstMatchWins(t *testing.T) {
	table, err := NewPatternTable([]Rule{
		{Name: "specific", Pattern: "/api/things/special", Method: http.MethodGet},
		{Name: "generic", Pattern: "/api/things/{id}", Method: http.MethodGet},
		{Name: "anything", Pattern: "/api/things/{id}"},
	})
	require.NoError(t, err)

	rule, _, ok := table.Match(http.MethodGet, "/api/things/special")
	require.True(t, ok)
	assert.Equal(t, "specific", rule.Name)

	rule, _, ok = table.Match(http.MethodGet, "/api/things/1")
	require.True(t, ok)
	assert.Equal(t, "generic", rule.Name)

	rule, _, ok = table.Match(http.MethodDelete, "/api/things/1")
	require.True(t, ok, "a method mismatch falls through to the any-method rule")
	assert.Equal(t, "anything", rule.Name)
}

func TestRule_Capability(t *testing.T) {
	table := DefaultPatternTable()

	rule, _, ok := table.Match(http.MethodPost, "/api/reports/export")
	require.True(t, ok)
	c := rule.capability(http.MethodPost)
	assert.Equal(t, ActionRead, c.Action, "an explicit action beats the method")
	assert.True(t, c.PHI)
	assert.Equal(t, "report", c.ResourceType)

	rule, _, ok = table.Match(http.MethodGet, "/api/dashboard")
	require.True(t, ok)
	c = rule.capability(http.MethodGet)
	assert.Equal(t, ActionRead, c.Action)
	assert.Equal(t, "dashboard", c.ResourceType, "the page names the resource when the rule does not")

	rule, _, ok = table.Match(http.MethodPut, "/api/settings")
	require.True(t, ok)
	assert.Equal(t, ActionWrite, rule.capability(http.MethodPut).Action)
}

const testPatternYAML = `
rules:
  - name: widgets.list
    pattern: /api/widgets
    method: get
    page: dashboard
  - pattern: /api/widgets/{id}
    permission: view_reports
    min_role: viewer
`

func TestParsePatternTable(t *testing.T) {
	table, err := ParsePatternTable([]byte(testPatternYAML))
	require.NoError(t, err)

	rules := table.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, http.MethodGet, rules[0].Method)
	assert.Equal(t, "* /api/widgets/{id}", rules[1].Name, "unnamed rules get a generated name")

	rule, vars, ok := table.Match(http.MethodPost, "/api/widgets/w-1")
	require.True(t, ok)
	assert.Equal(t, rules[1].Name, rule.Name)
	assert.Equal(t, "w-1", vars["id"])
}

func TestParsePatternTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "rules: [:"},
		{"empty", "rules: []"},
		{"relative pattern", "rules:\n  - pattern: api/x\n"},
		{"unknown page", "rules:\n  - pattern: /x\n    page: billing\n"},
		{"unknown permission", "rules:\n  - pattern: /x\n    permission: fly\n"},
		{"custom min role", "rules:\n  - pattern: /x\n    min_role: auditor\n"},
		{"unknown exact role", "rules:\n  - pattern: /x\n    role: owner\n"},
		{"unknown action", "rules:\n  - pattern: /x\n    action: delete\n"},
		{"bad template", "rules:\n  - pattern: /x/{id\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePatternTable([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestWatchPatternTable_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPatternYAML), 0o600))

	table, err := LoadPatternTable(path)
	require.NoError(t, err)
	source := NewPatternSource(table)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchPatternTable(ctx, path, source, metrics, observability.NewNopLogger()) }()

	broken := []byte("rules: [:")
	updated := []byte("rules:\n  - name: gadgets\n    pattern: /api/gadgets\n")

	// the watcher may not be registered yet, so keep rewriting
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, broken, 0o600)
		return testutil.ToFloat64(metrics.PatternTableReloadsTotal.WithLabelValues("failure")) > 0
	}, 5*time.Second, 50*time.Millisecond)
	_, _, ok := source.Current().Match(http.MethodGet, "/api/widgets")
	assert.True(t, ok, "a broken file keeps the previous table")

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, updated, 0o600)
		_, _, ok := source.Current().Match(http.MethodGet, "/api/gadgets")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
	_, _, ok = source.Current().Match(http.MethodGet, "/api/widgets")
	assert.False(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestExamplePatternFile_MatchesDefaults(t *testing.T) {
	table, err := LoadPatternTable(filepath.Join("..", "..", "configs", "patterns.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPatternTable().Rules(), table.Rules())
}
