package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lib/pq"
)

// StoreConfig tunes the company status cache
type StoreConfig struct {
	StatusCacheSize int
	StatusTTL       time.Duration
}

// Store persists companies
type Store struct {
	db     *sql.DB
	status *lru.LRU[string, bool]
}

// NewStore creates a company store. A zero StatusTTL disables the status cache.
func NewStore(db *sql.DB, cfg StoreConfig) *Store {
	s := &Store{db: db}
	if cfg.StatusTTL > 0 {
		size := cfg.StatusCacheSize
		if size <= 0 {
			size = 1024
		}
		s.status = lru.NewLRU[string, bool](size, nil, cfg.StatusTTL)
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const companyColumns = `id, name, is_active, data_retention_days, created_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCompany(row scanner) (*Company, error) {
	c := &Company{}
	var createdBy sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.IsActive, &c.DataRetentionDays, &createdBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.CreatedBy = createdBy.String
	return c, nil
}

// CreateCompany inserts c. The id must be unused.
func (s *Store) CreateCompany(ctx context.Context, c *Company) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies WHERE id = $1`, c.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check company: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrCompanyExists, c.ID)
	}

	var createdBy sql.NullString
	if c.CreatedBy != "" {
		createdBy = sql.NullString{String: c.CreatedBy, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, is_active, data_retention_days, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Name, c.IsActive, c.DataRetentionDays, createdBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrCompanyExists, c.ID)
		}
		return fmt.Errorf("failed to create company: %w", err)
	}
	if s.status != nil {
		s.status.Remove(c.ID)
	}
	return nil
}

// GetCompany returns the company with the given id
func (s *Store) GetCompany(ctx context.Context, id string) (*Company, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCompanyNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return c, nil
}

// ListCompanies returns every company ordered by id
func (s *Store) ListCompanies(ctx context.Context, includeInactive bool) ([]*Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies`
	if !includeInactive {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var companies []*Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	return companies, nil
}

// UpdateCompany applies the non-nil fields of u and returns the stored result
func (s *Store) UpdateCompany(ctx context.Context, id string, u UpdateCompanyRequest, now time.Time) (*Company, error) {
	if u.Empty() {
		return s.GetCompany(ctx, id)
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1
	if u.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, strings.TrimSpace(*u.Name))
		argPos++
	}
	if u.IsActive != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *u.IsActive)
		argPos++
	}
	if u.DataRetentionDays != nil {
		setClauses = append(setClauses, fmt.Sprintf("data_retention_days = $%d", argPos))
		args = append(args, *u.DataRetentionDays)
		argPos++
	}
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, now)
	argPos++
	args = append(args, id)

	query := fmt.Sprintf("UPDATE companies SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update company: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update company: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCompanyNotFound, id)
	}
	if s.status != nil {
		s.status.Remove(id)
	}
	return s.GetCompany(ctx, id)
}

// CompanyExists reports whether a company row exists, active or not
func (s *Store) CompanyExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies WHERE id = $1`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check company: %w", err)
	}
	return n > 0, nil
}

// IsCompanyActive reports whether the company exists and is not disabled
func (s *Store) IsCompanyActive(ctx context.Context, id string) (bool, error) {
	if s.status != nil {
		if active, ok := s.status.Get(id); ok {
			return active, nil
		}
	}
	var active bool
	err := s.db.QueryRowContext(ctx, `SELECT is_active FROM companies WHERE id = $1`, id).Scan(&active)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check company status: %w", err)
	}
	if s.status != nil {
		s.status.Add(id, active)
	}
	return active, nil
}
