// Package store persists verification session records. Two implementations
// exist: an in-memory map for development and tests, and the Redis store used
// in deployments where several instances share session state.
package store

import (
	"context"
	"time"

	"eudi-verifier/internal/verification/models"
	dErrors "eudi-verifier/pkg/domain-errors"
)

var (
	// ErrNotFound is returned for absent records. Expired and never-created
	// sessions are indistinguishable on purpose.
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "session not found")

	// ErrDuplicateSession guards session id reuse while a live record exists.
	ErrDuplicateSession = dErrors.New(dErrors.CodeConflict, "session already exists")

	// ErrInvalidTransition rejects mutations of absent or already-terminal
	// records. Re-delivery of the same terminal state is not an error; see
	// Store.Transition.
	ErrInvalidTransition = dErrors.New(dErrors.CodeConflict, "session is not pending")
)

// Unavailable wraps a backing-store outage. Retry policy belongs to callers.
func Unavailable(err error) error {
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "session store unavailable")
}

// Store is the session record store. All mutations are guarded by the
// only-from-pending rule, which makes concurrent duplicate terminal writes
// idempotent without locking across instances.
type Store interface {
	// Create writes a new pending record. Fails with ErrDuplicateSession if
	// the id already exists and is unexpired.
	Create(ctx context.Context, sessionID, nonce string, ttl time.Duration) (*models.Session, error)

	// Get returns the record if present and unexpired, ErrNotFound otherwise.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// Transition moves a pending record to a terminal state. A non-terminal
	// target state is rejected with ErrInvalidTransition. The bool result
	// is true when this call performed the change; a repeated write of the
	// same terminal state succeeds with false so the caller publishes the
	// terminal event at most once. Different-state writes on a terminal
	// record fail with ErrInvalidTransition, as does any write on an absent
	// record.
	Transition(ctx context.Context, sessionID string, to models.State, userData map[string]any) (*models.Session, bool, error)

	// Delete removes the record early. Deleting an absent record is a no-op.
	Delete(ctx context.Context, sessionID string) error
}
