//go:build integration

package rbac_test

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tenantgate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestPostgres_EndToEnd(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)

	require.NoError(t, orgs.RunMigrations(ctx, db))
	companies := orgs.NewStore(db, orgs.StoreConfig{})
	now := time.Now().UTC()
	require.NoError(t, companies.CreateCompany(ctx, &orgs.Company{
		ID: "acme", Name: "Acme", IsActive: true, DataRetentionDays: 365, CreatedAt: now, UpdatedAt: now,
	}))

	mgr := rbac.NewManager(rbac.Dependencies{DB: db, Companies: companies}, rbac.DefaultConfig())
	require.NoError(t, mgr.Initialize(ctx))
	// a second run finds every migration applied
	require.NoError(t, mgr.Initialize(ctx))

	role, err := mgr.Registry().CreateCustomRole(ctx, "acme", "auditor", rbac.NewPermissionSet(rbac.PermViewReports), "u-admin")
	require.NoError(t, err)
	_, err = mgr.Registry().CreateCustomRole(ctx, "acme", "auditor", nil, "u-admin")
	assert.ErrorIs(t, err, rbac.ErrRoleExists)

	resolved, err := mgr.Registry().ResolveRole(ctx, "acme", role.ID)
	require.NoError(t, err)
	assert.Equal(t, "auditor", resolved.RoleName())
	_, err = mgr.Registry().ResolveRole(ctx, "globex", "auditor")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)

	viewer := &auth.Principal{UserID: "u-1", CompanyID: "acme", Role: rbac.RoleViewer, SessionID: "s-1"}
	reports := rbac.Request{Method: http.MethodGet, Path: "/api/reports"}

	d := mgr.Engine().Authorize(ctx, viewer, reports)
	assert.True(t, d.Allowed)
	assert.Equal(t, rbac.ReasonRolePages, d.Reason)

	require.NoError(t, mgr.Availability().SetPageEnabled(ctx, "acme", rbac.PageReports, false, "root"))
	d = mgr.Engine().Authorize(ctx, viewer, reports)
	assert.False(t, d.Allowed)
	assert.Equal(t, rbac.ReasonPageDisabled, d.Reason)
}
