package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization decisions, one per Authorize or Evaluate call
	EventTypeAuthzDecision EventType = "authz.decision"

	// Admin mutations
	EventTypeAdminRoleCreate       EventType = "admin.role_create"
	EventTypeAdminRoleUpdate       EventType = "admin.role_update"
	EventTypeAdminRoleDelete       EventType = "admin.role_delete"
	EventTypeAdminRolePages        EventType = "admin.role_pages"
	EventTypeAdminPageAvailability EventType = "admin.page_availability"
	EventTypeAdminOverrideGrant    EventType = "admin.override_grant"
	EventTypeAdminOverrideRevoke   EventType = "admin.override_revoke"
	EventTypeAdminOverrideExtend   EventType = "admin.override_extend"
	EventTypeAdminUserUpdate       EventType = "admin.user_update"
	EventTypeAdminCompanyCreate    EventType = "admin.company_create"
	EventTypeAdminCompanyUpdate    EventType = "admin.company_update"

	// Housekeeping
	EventTypeOverrideSweep EventType = "maintenance.override_sweep"
)

// Severity ranks an event for the audit collaborator
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one audit record handed to the emitter
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Actor
	UserID    string `json:"user_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// What was attempted
	Action       string `json:"action,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Outcome
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason,omitempty"`
	Severity    Severity `json:"severity"`
	PHIAccessed bool     `json:"phi_accessed"`
	MatchedRule string   `json:"matched_rule,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}
