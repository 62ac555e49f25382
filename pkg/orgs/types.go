package orgs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// DefaultDataRetentionDays is applied when a company is created without one
const DefaultDataRetentionDays = 2555

var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrCompanyExists   = errors.New("company already exists")
	ErrInvalidCompany  = errors.New("invalid company")
)

// Company is one tenant
type Company struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	IsActive          bool      `json:"is_active"`
	DataRetentionDays int       `json:"data_retention_days"`
	CreatedBy         string    `json:"created_by,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateCompanyRequest is the body of POST /api/companies
type CreateCompanyRequest struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	DataRetentionDays int    `json:"data_retention_days,omitempty"`
}

// UpdateCompanyRequest is the body of PATCH /api/companies/{companyId}.
// Nil fields are left unchanged.
type UpdateCompanyRequest struct {
	Name              *string `json:"name,omitempty"`
	IsActive          *bool   `json:"is_active,omitempty"`
	DataRetentionDays *int    `json:"data_retention_days,omitempty"`
}

// Empty reports whether the update changes nothing
func (u UpdateCompanyRequest) Empty() bool {
	return u.Name == nil && u.IsActive == nil && u.DataRetentionDays == nil
}

// Validate checks an update before it reaches the store
func (u UpdateCompanyRequest) Validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidCompany)
	}
	if u.DataRetentionDays != nil && *u.DataRetentionDays <= 0 {
		return fmt.Errorf("%w: data_retention_days must be positive", ErrInvalidCompany)
	}
	return nil
}

// normalize fills defaults and validates the request, returning the company
// to insert
func (r CreateCompanyRequest) normalize() (*Company, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCompany)
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = generateSlug(name)
	}
	if id == "" || id != generateSlug(id) {
		return nil, fmt.Errorf("%w: id must be lowercase letters, digits and dashes", ErrInvalidCompany)
	}
	if id == auth.SystemCompanyID {
		return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidCompany, id)
	}
	retention := r.DataRetentionDays
	if retention < 0 {
		return nil, fmt.Errorf("%w: data_retention_days must be positive", ErrInvalidCompany)
	}
	if retention == 0 {
		retention = DefaultDataRetentionDays
	}
	return &Company{ID: id, Name: name, IsActive: true, DataRetentionDays: retention}, nil
}

// generateSlug derives a company id from its display name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
}
