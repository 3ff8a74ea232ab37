package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"eudi-verifier/internal/verification/models"
)

// Redis key prefix for session records. One record per session:<id>, stored
// with a TTL equal to the remaining session lifetime so abandoned sessions
// are reclaimed without a sweep process.
const sessionKeyPrefix = "session:"

// transitionScript performs the pending->terminal transition atomically.
// Result codes: 0 changed, 1 absent, 2 state conflict, 3 idempotent no-op.
// The remaining TTL is preserved across the rewrite.
var transitionScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {1, ''}
end
local rec = cjson.decode(raw)
if rec.state ~= 'pending' then
  if rec.state == ARGV[1] then
    return {3, raw}
  end
  return {2, raw}
end
rec.state = ARGV[1]
if ARGV[2] ~= '' then
  rec.user_data = cjson.decode(ARGV[2])
end
local out = cjson.encode(rec)
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], out, 'PX', ttl)
else
  redis.call('SET', KEYS[1], out)
end
return {0, out}
`)

// RedisStore is the shared session record store. This is the implementation
// to run when more than one instance serves the verification flow.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func (s *RedisStore) Create(ctx context.Context, sessionID, nonce string, ttl time.Duration) (*models.Session, error) {
	now := s.now()
	sess := &models.Session{
		ID:        sessionID,
		State:     models.StatePending,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKey(sessionID), raw, ttl).Result()
	if err != nil {
		return nil, Unavailable(err)
	}
	if !ok {
		return nil, ErrDuplicateSession
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Unavailable(err)
	}

	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	// The TTL should have reclaimed the key already; double-check against
	// wall clock in case of clock drift on the Redis side.
	if sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *RedisStore) Transition(ctx context.Context, sessionID string, to models.State, userData map[string]any) (*models.Session, bool, error) {
	if !to.Terminal() {
		return nil, false, ErrInvalidTransition
	}

	var dataArg string
	// Empty maps are passed as "no data": cjson cannot tell an empty object
	// from an empty array when re-encoding.
	if len(userData) > 0 {
		raw, err := json.Marshal(userData)
		if err != nil {
			return nil, false, fmt.Errorf("marshal user data: %w", err)
		}
		dataArg = string(raw)
	}

	res, err := transitionScript.Run(ctx, s.client, []string{sessionKey(sessionID)}, string(to), dataArg).Result()
	if err != nil {
		return nil, false, Unavailable(err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return nil, false, fmt.Errorf("unexpected transition reply: %v", res)
	}
	code, _ := reply[0].(int64)
	raw, _ := reply[1].(string)

	switch code {
	case 1, 2:
		return nil, false, ErrInvalidTransition
	case 0, 3:
		var sess models.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, false, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
		}
		return &sess, code == 0, nil
	default:
		return nil, false, fmt.Errorf("unexpected transition code %d", code)
	}
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return Unavailable(err)
	}
	return nil
}
