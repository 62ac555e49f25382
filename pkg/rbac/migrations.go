package rbac

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/tenantgate/pkg/schema"
)

var migrations = []schema.Migration{
	{
		Version:     1,
		Description: "Create custom_roles tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS custom_roles (
				id VARCHAR(64) PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				created_by VARCHAR(255),
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE(company_id, name)
			);

			CREATE TABLE IF NOT EXISTS custom_role_permissions (
				role_id VARCHAR(64) NOT NULL REFERENCES custom_roles(id) ON DELETE CASCADE,
				permission VARCHAR(64) NOT NULL,
				PRIMARY KEY (role_id, permission)
			);

			CREATE INDEX IF NOT EXISTS idx_custom_roles_company_id ON custom_roles(company_id);
		`,
	},
	{
		Version:     2,
		Description: "Create role_page_access table",
		SQL: `
			CREATE TABLE IF NOT EXISTS role_page_access (
				company_id VARCHAR(255) NOT NULL,
				role_ref VARCHAR(255) NOT NULL,
				page_key VARCHAR(64) NOT NULL,
				allowed BOOLEAN NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (company_id, role_ref, page_key)
			);
		`,
	},
	{
		Version:     3,
		Description: "Create company_available_pages table",
		SQL: `
			CREATE TABLE IF NOT EXISTS company_available_pages (
				company_id VARCHAR(255) NOT NULL,
				page_key VARCHAR(64) NOT NULL,
				is_enabled BOOLEAN NOT NULL,
				created_by VARCHAR(255),
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (company_id, page_key)
			);
		`,
	},
	{
		Version:     4,
		Description: "Create user_permission_overrides table",
		SQL: `
			CREATE TABLE IF NOT EXISTS user_permission_overrides (
				id VARCHAR(64) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				company_id VARCHAR(255) NOT NULL,
				permission VARCHAR(64) NOT NULL,
				resource VARCHAR(255) NOT NULL DEFAULT '',
				granted_by VARCHAR(255) NOT NULL,
				granted_at TIMESTAMP NOT NULL,
				expires_at TIMESTAMP,
				is_active BOOLEAN NOT NULL DEFAULT TRUE
			);

			CREATE INDEX IF NOT EXISTS idx_overrides_user_active ON user_permission_overrides(user_id, is_active);
			CREATE INDEX IF NOT EXISTS idx_overrides_expires_at ON user_permission_overrides(expires_at);
		`,
	},
	{
		Version:     5,
		Description: "Create users membership table",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(255) PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL,
				role_ref VARCHAR(255) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_users_company_role ON users(company_id, role_ref);
		`,
	},
}

// RunMigrations applies the pending rbac migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return schema.Apply(ctx, db, "rbac", migrations)
}
