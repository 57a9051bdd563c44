package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeSSOStart       EventType = "sso.start"
	EventTypeSSOCallback    EventType = "sso.callback"
	EventTypeSSOProvisioned EventType = "sso.provisioned"
	EventTypeSSOLinked      EventType = "sso.linked"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// AuditEvent represents a single audit log entry. It never carries tokens,
// codes, verifiers or client secrets.
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`

	ProviderKey string `json:"provider,omitempty"`
	TenantID    *int64 `json:"tenant_id,omitempty"`
	UserID      *int64 `json:"user_id,omitempty"`
	IdentityID  *int64 `json:"identity_id,omitempty"`
	Policy      string `json:"policy,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh id and the current UTC time
func NewEvent(eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
	}
}

// sensitiveKeys may never appear in event metadata
var sensitiveKeys = map[string]struct{}{
	"code":          {},
	"state":         {},
	"nonce":         {},
	"code_verifier": {},
	"pkce_verifier": {},
	"id_token":      {},
	"access_token":  {},
	"refresh_token": {},
	"client_secret": {},
	"password":      {},
}

// Sanitize drops metadata entries whose keys name credentials
func (e *AuditEvent) Sanitize() {
	for k := range e.Metadata {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			delete(e.Metadata, k)
		}
	}
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}
