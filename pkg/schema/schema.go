// Package schema applies versioned DDL for the packages that own tables.
//
// Every component records its applied versions in a shared
// schema_migrations table keyed by component name, so the rbac and orgs
// stores can migrate independently against the same database. DDL should
// stick to the subset Postgres and SQLite share; the unit tests migrate an
// in-memory SQLite database with the same statements production runs.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one forward-only DDL step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

const ledgerDDL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		component VARCHAR(64) NOT NULL,
		version INT NOT NULL,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (component, version)
	)
`

// Apply runs the migrations of component that are not recorded yet, in
// version order, each in its own transaction.
func Apply(ctx context.Context, db *sql.DB, component string, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("schema ledger: %w", err)
	}

	done, err := Applied(ctx, db, component)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		if err := applyOne(ctx, db, component, m); err != nil {
			return err
		}
	}
	return nil
}

// Applied returns the recorded versions of component.
func Applied(ctx context.Context, db *sql.DB, component string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations WHERE component = $1`, component)
	if err != nil {
		return nil, fmt.Errorf("%s: list applied versions: %w", component, err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%s: scan version: %w", component, err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

func applyOne(ctx context.Context, db *sql.DB, component string, m Migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s v%d: begin: %w", component, m.Version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("%s v%d (%s): %w", component, m.Version, m.Description, err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)`,
		component, m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("%s v%d: record: %w", component, m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s v%d: commit: %w", component, m.Version, err)
	}
	return nil
}
