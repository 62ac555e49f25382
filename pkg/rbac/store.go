package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store handles RBAC data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// isUniqueViolation reports whether err is a Postgres unique_violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateCustomRole inserts role and its base permissions in one transaction
func (s *Store) CreateCustomRole(ctx context.Context, role *CustomRole) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM custom_roles WHERE company_id = $1 AND name = $2`,
		role.CompanyID, role.Name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check role name: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrRoleExists, role.Name)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO custom_roles (id, company_id, name, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, role.ID, role.CompanyID, role.Name, nullString(role.CreatedBy), role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrRoleExists, role.Name)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	if err := insertRolePermissions(ctx, tx, role.ID, role.BasePermissions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}
	return nil
}

func insertRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, perms PermissionSet) error {
	for _, p := range perms.Slice() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custom_role_permissions (role_id, permission) VALUES ($1, $2)`,
			roleID, string(p),
		); err != nil {
			return fmt.Errorf("failed to add permission %s: %w", p, err)
		}
	}
	return nil
}

const customRoleColumns = `id, company_id, name, created_by, created_at, updated_at`

func scanCustomRole(row interface{ Scan(...interface{}) error }) (*CustomRole, error) {
	var r CustomRole
	var createdBy sql.NullString
	if err := row.Scan(&r.ID, &r.CompanyID, &r.Name, &createdBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.CreatedBy = createdBy.String
	r.BasePermissions = NewPermissionSet()
	return &r, nil
}

// GetCustomRole fetches a custom role of companyID by id
func (s *Store) GetCustomRole(ctx context.Context, companyID, roleID string) (*CustomRole, error) {
	return s.getCustomRole(ctx, `company_id = $1 AND id = $2`, companyID, roleID)
}

// GetCustomRoleByName fetches a custom role of companyID by name
func (s *Store) GetCustomRoleByName(ctx context.Context, companyID, name string) (*CustomRole, error) {
	return s.getCustomRole(ctx, `company_id = $1 AND name = $2`, companyID, name)
}

func (s *Store) getCustomRole(ctx context.Context, where string, args ...interface{}) (*CustomRole, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customRoleColumns+` FROM custom_roles WHERE `+where, args...)
	role, err := scanCustomRole(row)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	perms, err := s.rolePermissions(ctx, `role_id = $1`, role.ID)
	if err != nil {
		return nil, err
	}
	role.BasePermissions = perms[role.ID]
	if role.BasePermissions == nil {
		role.BasePermissions = NewPermissionSet()
	}
	return role, nil
}

func (s *Store) rolePermissions(ctx context.Context, where string, args ...interface{}) (map[string]PermissionSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id, permission FROM custom_role_permissions
		WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]PermissionSet)
	for rows.Next() {
		var roleID, perm string
		if err := rows.Scan(&roleID, &perm); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		if out[roleID] == nil {
			out[roleID] = NewPermissionSet()
		}
		out[roleID][Permission(perm)] = struct{}{}
	}
	return out, rows.Err()
}

// ListCustomRoles lists the custom roles of companyID ordered by name
func (s *Store) ListCustomRoles(ctx context.Context, companyID string) ([]*CustomRole, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+customRoleColumns+` FROM custom_roles WHERE company_id = $1 ORDER BY name ASC`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	var roles []*CustomRole
	for rows.Next() {
		role, err := scanCustomRole(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	rows.Close()

	if len(roles) == 0 {
		return roles, nil
	}

	perms, err := s.rolePermissions(ctx,
		`role_id IN (SELECT id FROM custom_roles WHERE company_id = $1)`, companyID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if p, ok := perms[role.ID]; ok {
			role.BasePermissions = p
		}
	}
	return roles, nil
}

// UpdateCustomRolePermissions replaces the base permissions of a custom role
func (s *Store) UpdateCustomRolePermissions(ctx context.Context, companyID, roleID string, perms PermissionSet, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE custom_roles SET updated_at = $1 WHERE id = $2 AND company_id = $3`,
		now, roleID, companyID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if err := insertRolePermissions(ctx, tx, roleID, perms); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}
	return nil
}

// DeleteCustomRole removes a custom role together with its page rows. It
// refuses while any active user still holds the role.
func (s *Store) DeleteCustomRole(ctx context.Context, companyID, roleID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var inUse int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE company_id = $1 AND role_ref = $2 AND is_active = $3`,
		companyID, roleID, true,
	).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("failed to count role users: %w", err)
	}
	if inUse > 0 {
		return fmt.Errorf("%w: %d active users", ErrRoleInUse, inUse)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_page_access WHERE company_id = $1 AND role_ref = $2`, companyID, roleID,
	); err != nil {
		return fmt.Errorf("failed to delete role pages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM custom_roles WHERE company_id = $1 AND id = $2`, companyID, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role deletion: %w", err)
	}
	return nil
}

// PageAccessRows returns the explicit page rows of the given roles in
// companyID, keyed by role ref
func (s *Store) PageAccessRows(ctx context.Context, companyID string, roleRefs ...string) (map[string]map[PageKey]bool, error) {
	out := make(map[string]map[PageKey]bool, len(roleRefs))
	if len(roleRefs) == 0 {
		return out, nil
	}

	args := make([]interface{}, 0, len(roleRefs)+1)
	args = append(args, companyID)
	placeholders := make([]string, len(roleRefs))
	for i, ref := range roleRefs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, ref)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role_ref, page_key, allowed FROM role_page_access
		WHERE company_id = $1 AND role_ref IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load page access: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref, page string
		var allowed bool
		if err := rows.Scan(&ref, &page, &allowed); err != nil {
			return nil, fmt.Errorf("failed to scan page access: %w", err)
		}
		if out[ref] == nil {
			out[ref] = make(map[PageKey]bool)
		}
		out[ref][PageKey(page)] = allowed
	}
	return out, rows.Err()
}

// ReplaceRolePages writes one explicit row per catalog page for roleRef in a
// single transaction: allowed when the page is in pages, denied otherwise.
func (s *Store) ReplaceRolePages(ctx context.Context, companyID, roleRef string, pages PageSet, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_page_access WHERE company_id = $1 AND role_ref = $2`, companyID, roleRef,
	); err != nil {
		return fmt.Errorf("failed to clear role pages: %w", err)
	}

	for _, page := range catalog {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_page_access (company_id, role_ref, page_key, allowed, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, companyID, roleRef, string(page.Key), pages.Has(page.Key), now); err != nil {
			return fmt.Errorf("failed to write page %s: %w", page.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role pages: %w", err)
	}
	return nil
}

// CompanyPageStates returns the explicit availability rows of companyID
func (s *Store) CompanyPageStates(ctx context.Context, companyID string) (map[PageKey]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_key, is_enabled FROM company_available_pages WHERE company_id = $1`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company pages: %w", err)
	}
	defer rows.Close()

	out := make(map[PageKey]bool)
	for rows.Next() {
		var page string
		var enabled bool
		if err := rows.Scan(&page, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan company page: %w", err)
		}
		out[PageKey(page)] = enabled
	}
	return out, rows.Err()
}

// CompanyPageEnabled returns the availability of one page. A missing row is
// enabled.
func (s *Store) CompanyPageEnabled(ctx context.Context, companyID string, page PageKey) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_enabled FROM company_available_pages WHERE company_id = $1 AND page_key = $2`,
		companyID, string(page),
	).Scan(&enabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get company page: %w", err)
	}
	return enabled, nil
}

// UpsertCompanyPage records the availability of page for companyID
func (s *Store) UpsertCompanyPage(ctx context.Context, companyID string, page PageKey, enabled bool, actor string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO company_available_pages (company_id, page_key, is_enabled, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, page_key)
		DO UPDATE SET is_enabled = excluded.is_enabled, created_by = excluded.created_by, updated_at = excluded.updated_at
	`, companyID, string(page), enabled, nullString(actor), now)
	if err != nil {
		return fmt.Errorf("failed to set company page: %w", err)
	}
	return nil
}

const overrideColumns = `id, user_id, company_id, permission, resource, granted_by, granted_at, expires_at, is_active`

func scanOverride(row interface{ Scan(...interface{}) error }) (*Override, error) {
	var o Override
	var perm string
	var expiresAt sql.NullTime
	err := row.Scan(&o.ID, &o.UserID, &o.CompanyID, &perm, &o.Resource,
		&o.GrantedBy, &o.GrantedAt, &expiresAt, &o.IsActive)
	if err != nil {
		return nil, err
	}
	o.Permission = Permission(perm)
	if expiresAt.Valid {
		t := expiresAt.Time
		o.ExpiresAt = &t
	}
	return &o, nil
}

func (s *Store) queryOverrides(ctx context.Context, query string, args ...interface{}) ([]*Override, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var out []*Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertOverride stores a new override
func (s *Store) InsertOverride(ctx context.Context, o *Override) error {
	var expiresAt interface{}
	if o.ExpiresAt != nil {
		expiresAt = *o.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permission_overrides (`+overrideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.ID, o.UserID, o.CompanyID, string(o.Permission), o.Resource,
		o.GrantedBy, o.GrantedAt, expiresAt, o.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create override: %w", err)
	}
	return nil
}

// GetOverride fetches one override by id
func (s *Store) GetOverride(ctx context.Context, id string) (*Override, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+overrideColumns+` FROM user_permission_overrides WHERE id = $1`, id)
	o, err := scanOverride(row)
	if err == sql.ErrNoRows {
		return nil, ErrOverrideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get override: %w", err)
	}
	return o, nil
}

// ListActiveOverrides returns the overrides of userID that are active and
// unexpired at now
func (s *Store) ListActiveOverrides(ctx context.Context, userID string, now time.Time) ([]*Override, error) {
	return s.queryOverrides(ctx, `
		SELECT `+overrideColumns+` FROM user_permission_overrides
		WHERE user_id = $1 AND is_active = $2 AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY granted_at ASC
	`, userID, true, now)
}

// ListOverrides returns every override of userID, including inactive ones
func (s *Store) ListOverrides(ctx context.Context, userID string) ([]*Override, error) {
	return s.queryOverrides(ctx, `
		SELECT `+overrideColumns+` FROM user_permission_overrides
		WHERE user_id = $1
		ORDER BY granted_at ASC
	`, userID)
}

// SetOverrideActive toggles an override
func (s *Store) SetOverrideActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_permission_overrides SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOverrideNotFound
	}
	return nil
}

// UpdateOverrideExpiry sets a new expiry on an override
func (s *Store) UpdateOverrideExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_permission_overrides SET expires_at = $1 WHERE id = $2`, expiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to update override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOverrideNotFound
	}
	return nil
}

// DeactivateExpiredOverrides flips is_active off for rows past expiry and
// returns how many changed
func (s *Store) DeactivateExpiredOverrides(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_permission_overrides SET is_active = $1
		WHERE is_active = $2 AND expires_at IS NOT NULL AND expires_at <= $3
	`, false, true, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired overrides: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired overrides: %w", err)
	}
	return n, nil
}

const memberColumns = `id, company_id, role_ref, is_active, created_at, updated_at`

func scanMember(row interface{ Scan(...interface{}) error }) (*Member, error) {
	var m Member
	if err := row.Scan(&m.ID, &m.CompanyID, &m.RoleRef, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMember creates or updates a membership row
func (s *Store) UpsertMember(ctx context.Context, m *Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+memberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET company_id = excluded.company_id, role_ref = excluded.role_ref,
			is_active = excluded.is_active, updated_at = excluded.updated_at
	`, m.ID, m.CompanyID, m.RoleRef, m.IsActive, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetMember fetches a membership row
func (s *Store) GetMember(ctx context.Context, userID string) (*Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM users WHERE id = $1`, userID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return m, nil
}

// ListMembers lists the users of companyID
func (s *Store) ListMembers(ctx context.Context, companyID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM users WHERE company_id = $1 ORDER BY id ASC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
