// Package models holds the verification domain entities shared by the store,
// bridge, and service layers.
package models

import "time"

// State is the lifecycle state of a verification session. Transitions are
// monotonic: pending is the only non-terminal state.
type State string

const (
	StatePending  State = "pending"
	StateVerified State = "verified"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	return s == StatePending || s == StateVerified || s == StateFailed
}

// Session is the durable record of one QR-initiated verification flow. The
// session id doubles as the OID4VP state parameter, so a wallet response can
// be correlated back to the record.
type Session struct {
	ID        string         `json:"session_id"`
	State     State          `json:"state"`
	Nonce     string         `json:"nonce"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	UserData  map[string]any `json:"user_data,omitempty"`
}

// Expired reports whether the record must be treated as absent. Readers check
// this on top of the backing store's own TTL.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
