package auth

import (
	"fmt"
	"strings"
)

// SystemCompanyID is the company id carried by master_admin principals
const SystemCompanyID = "system"

// MasterAdminRole is the only role that may act across tenants
const MasterAdminRole = "master_admin"

// PHIAccessLevel describes how much protected health information a principal may see
type PHIAccessLevel string

const (
	PHIAccessNone    PHIAccessLevel = "none"
	PHIAccessLimited PHIAccessLevel = "limited"
	PHIAccessFull    PHIAccessLevel = "full"
)

// Valid reports whether the level is one of the known values
func (l PHIAccessLevel) Valid() bool {
	switch l {
	case PHIAccessNone, PHIAccessLimited, PHIAccessFull:
		return true
	}
	return false
}

// Principal is a validated caller bound to a company and role for one request.
// It is built by the external authentication layer and never persisted.
type Principal struct {
	UserID         string         `json:"user_id"`
	CompanyID      string         `json:"company_id"`
	Role           string         `json:"role"`
	PHIAccessLevel PHIAccessLevel `json:"phi_access_level,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	IsMobile       bool           `json:"is_mobile,omitempty"`
}

// Validate checks that the principal carries the fields authorization depends on
func (p *Principal) Validate() error {
	if p == nil {
		return fmt.Errorf("principal is nil")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("principal user id is required")
	}
	if strings.TrimSpace(p.CompanyID) == "" {
		return fmt.Errorf("principal company id is required")
	}
	if strings.TrimSpace(p.Role) == "" {
		return fmt.Errorf("principal role is required")
	}
	if strings.EqualFold(strings.TrimSpace(p.Role), MasterAdminRole) && p.CompanyID != SystemCompanyID {
		return fmt.Errorf("%s principals must belong to the %s company", MasterAdminRole, SystemCompanyID)
	}
	if p.PHIAccessLevel != "" && !p.PHIAccessLevel.Valid() {
		return fmt.Errorf("invalid phi access level: %s", p.PHIAccessLevel)
	}
	return nil
}

// IsSystem reports whether the principal belongs to the system tenant
func (p *Principal) IsSystem() bool {
	return p != nil && p.CompanyID == SystemCompanyID
}
