package orgs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, RunMigrations(context.Background(), db))
	return db
}

func seedCompany(t *testing.T, store *Store, id string, active bool) *Company {
	t.Helper()
	c := &Company{ID: id, Name: id, IsActive: active, DataRetentionDays: 30, CreatedAt: testNow, UpdatedAt: testNow}
	require.NoError(t, store.CreateCompany(context.Background(), c))
	return c
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, RunMigrations(context.Background(), db))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE component = 'orgs'`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t), StoreConfig{})

	c := seedCompany(t, store, "acme", true)

	got, err := store.GetCompany(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.True(t, got.IsActive)
	assert.Equal(t, 30, got.DataRetentionDays)
	assert.True(t, testNow.Equal(got.CreatedAt))

	err = store.CreateCompany(ctx, &Company{ID: "acme", Name: "again", CreatedAt: testNow, UpdatedAt: testNow})
	assert.ErrorIs(t, err, ErrCompanyExists)

	_, err = store.GetCompany(ctx, "globex")
	assert.ErrorIs(t, err, ErrCompanyNotFound)
}

func TestStore_CreateCompany_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM companies`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO companies`).
		WillReturnError(&pq.Error{Code: "23505"})

	store := NewStore(db, StoreConfig{})
	err = store.CreateCompany(context.Background(), &Company{ID: "acme", Name: "Acme"})
	assert.ErrorIs(t, err, ErrCompanyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListCompanies(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t), StoreConfig{})
	seedCompany(t, store, "globex", true)
	seedCompany(t, store, "acme", true)
	seedCompany(t, store, "initech", false)

	active, err := store.ListCompanies(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "acme", active[0].ID)
	assert.Equal(t, "globex", active[1].ID)

	all, err := store.ListCompanies(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_UpdateCompany(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t), StoreConfig{})
	seedCompany(t, store, "acme", true)

	later := testNow.Add(time.Hour)
	inactive := false
	days := 90
	got, err := store.UpdateCompany(ctx, "acme", UpdateCompanyRequest{IsActive: &inactive, DataRetentionDays: &days}, later)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, 90, got.DataRetentionDays)
	assert.Equal(t, "acme", got.Name)
	assert.True(t, later.Equal(got.UpdatedAt))

	unchanged, err := store.UpdateCompany(ctx, "acme", UpdateCompanyRequest{}, later.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, later.Equal(unchanged.UpdatedAt))

	_, err = store.UpdateCompany(ctx, "globex", UpdateCompanyRequest{IsActive: &inactive}, later)
	assert.ErrorIs(t, err, ErrCompanyNotFound)
}

func TestStore_CompanyStatus(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t), StoreConfig{StatusTTL: time.Minute})
	seedCompany(t, store, "acme", true)
	seedCompany(t, store, "initech", false)

	tests := []struct {
		id     string
		exists bool
		active bool
	}{
		{"acme", true, true},
		{"initech", true, false},
		{"globex", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			exists, err := store.CompanyExists(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.exists, exists)

			active, err := store.IsCompanyActive(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.active, active)
		})
	}

	// updates drop the cached status
	disabled := false
	_, err := store.UpdateCompany(ctx, "acme", UpdateCompanyRequest{IsActive: &disabled}, testNow)
	require.NoError(t, err)
	active, err := store.IsCompanyActive(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestStore_IsCompanyActive_UsesCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT is_active FROM companies`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))

	store := NewStore(db, StoreConfig{StatusTTL: time.Minute})
	for i := 0; i < 3; i++ {
		active, err := store.IsCompanyActive(context.Background(), "acme")
		require.NoError(t, err)
		assert.True(t, active)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
