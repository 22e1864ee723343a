package core

import "time"

// SecurityEventType names an entry in the security audit trail.
type SecurityEventType string

const (
	EventAuthSuccess        SecurityEventType = "auth_success"
	EventAuthFailure        SecurityEventType = "auth_failure"
	EventRateLimit          SecurityEventType = "rate_limit"
	EventSessionRevoked     SecurityEventType = "session_revoked"
	EventSuspiciousActivity SecurityEventType = "suspicious_activity"
	EventNonceReuse         SecurityEventType = "nonce_reuse"
)

// SecurityEvent is one append-only audit record.
type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      SecurityEventType `json:"type"`
	Address   string            `json:"address,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
