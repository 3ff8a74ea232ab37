// Package audit captures key verification-flow actions for operational and
// security review. Events are emitted from domain logic, buffered, and
// fanned out to a store plus optional external sinks.
package audit

import (
	"context"
	"time"
)

// Category classifies events for retention and routing.
type Category string

const (
	// CategorySecurity feeds monitoring and forensics (blocked issuers,
	// rejected presentations).
	CategorySecurity Category = "security"

	// CategoryOperations covers routine lifecycle events with short
	// retention.
	CategoryOperations Category = "operations"
)

// Action names one auditable event.
type Action string

const (
	ActionSessionCreated   Action = "session_created"
	ActionSessionVerified  Action = "session_verified"
	ActionSessionFailed    Action = "session_failed"
	ActionSessionCancelled Action = "session_cancelled"
	ActionUntrustedIssuer  Action = "untrusted_issuer_blocked"
)

// Event is emitted from domain logic. Keep it transport-agnostic so stores
// and sinks can fan out. No PII: claims never travel through the audit
// trail, only session and issuer identifiers.
type Event struct {
	Category  Category  `json:"category"`
	Action    Action    `json:"action"`
	SessionID string    `json:"session_id,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Sink receives a copy of every event for out-of-process delivery. Sinks are
// best-effort; a sink error never fails the emit.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
	Close()
}
