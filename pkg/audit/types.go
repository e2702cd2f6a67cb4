package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"
	EventTypeAuthRateLimited EventType = "auth.rate_limited"
	EventTypeAuthTokenCreate EventType = "auth.token_create"
	EventTypeAuthTokenRevoke EventType = "auth.token_revoke"

	// Authorization events
	EventTypeAuthzPermissionDenied EventType = "authz.permission_denied"
	EventTypeAuthzMalformedCheck   EventType = "authz.malformed_permission"

	// Tenant events
	EventTypeTenantAccessDenied    EventType = "tenant.access_denied"
	EventTypeTenantSuspendedAccess EventType = "tenant.suspended_access"
	EventTypeTenantInvalidated     EventType = "tenant.handle_invalidated"

	// Quota events
	EventTypeQuotaExceeded EventType = "quota.exceeded"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry. Connection coordinates
// and credentials never appear here.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	PrincipalID string `json:"principal_id,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
