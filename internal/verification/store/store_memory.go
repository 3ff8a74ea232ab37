package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"eudi-verifier/internal/verification/models"
)

// InMemoryStore keeps session records in a process-local map. Expiry is
// enforced lazily on read, matching the TTL semantics of the Redis store
// closely enough for tests and single-instance development runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.Session),
		now:      time.Now,
	}
}

func (s *InMemoryStore) Create(_ context.Context, sessionID, nonce string, ttl time.Duration) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.sessions[sessionID]; ok && !existing.Expired(now) {
		return nil, ErrDuplicateSession
	}

	sess := &models.Session{
		ID:        sessionID,
		State:     models.StatePending,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.sessions[sessionID] = sess
	return copySession(sess), nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

func (s *InMemoryStore) Transition(_ context.Context, sessionID string, to models.State, userData map[string]any) (*models.Session, bool, error) {
	if !to.Terminal() {
		return nil, false, ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.Expired(s.now()) {
		return nil, false, ErrInvalidTransition
	}

	if sess.State != models.StatePending {
		if sess.State == to {
			// Idempotent re-delivery of the same terminal state.
			return copySession(sess), false, nil
		}
		return nil, false, ErrInvalidTransition
	}

	sess.State = to
	if userData != nil {
		sess.UserData = maps.Clone(userData)
	}
	return copySession(sess), true, nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func copySession(sess *models.Session) *models.Session {
	out := *sess
	out.UserData = maps.Clone(sess.UserData)
	return &out
}
