package schema

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

var widgets = []Migration{
	{Version: 2, Description: "add color", SQL: `ALTER TABLE widgets ADD COLUMN color TEXT`},
	{Version: 1, Description: "create widgets", SQL: `CREATE TABLE widgets (id TEXT PRIMARY KEY)`},
}

func TestApply_OrdersAndRecords(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	require.NoError(t, Apply(ctx, db, "widgets", widgets))
	_, err := db.Exec(`INSERT INTO widgets (id, color) VALUES ('w1', 'red')`)
	require.NoError(t, err)

	done, err := Applied(ctx, db, "widgets")
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true, 2: true}, done)

	require.NoError(t, Apply(ctx, db, "widgets", widgets), "a second run is a no-op")
}

func TestApply_ComponentsAreIndependent(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	require.NoError(t, Apply(ctx, db, "widgets", widgets))
	require.NoError(t, Apply(ctx, db, "gadgets", []Migration{
		{Version: 1, Description: "create gadgets", SQL: `CREATE TABLE gadgets (id TEXT PRIMARY KEY)`},
	}))

	done, err := Applied(ctx, db, "gadgets")
	require.NoError(t, err)
	assert.Len(t, done, 1)
}

func TestApply_FailedStepRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WithArgs("widgets").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE widgets").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = Apply(context.Background(), db, "widgets", widgets[1:])
	assert.ErrorContains(t, err, "create widgets")
	assert.NoError(t, mock.ExpectationsWereMet())
}
