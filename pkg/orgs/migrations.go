package orgs

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/tenantgate/pkg/schema"
)

var migrations = []schema.Migration{
	{
		Version:     1,
		Description: "Create companies table",
		SQL: `
			CREATE TABLE IF NOT EXISTS companies (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				data_retention_days INT NOT NULL,
				created_by VARCHAR(255),
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
		`,
	},
}

// RunMigrations creates the company tables, skipping versions already applied.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return schema.Apply(ctx, db, "orgs", migrations)
}
