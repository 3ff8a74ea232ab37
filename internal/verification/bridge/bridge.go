// Package bridge fans state-change events out to live push subscribers. The
// subscriber registry is process-local by design: the durable session record
// lives in the shared store, while a push connection only ever exists on the
// instance that accepted it. Push delivery is a latency optimisation; the
// polling fallback against the store is the delivery guarantee.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"eudi-verifier/internal/verification/metrics"
	"eudi-verifier/internal/verification/models"
	"eudi-verifier/internal/verification/store"
)

// Event types pushed over a subscription.
const (
	EventConnected = "connected"
	EventVerified  = "verified"
	EventError     = "error"
)

// Event is one message delivered to a subscriber.
type Event struct {
	Type string
	Data map[string]any
}

// ErrSubscriberGone marks a handle whose consumer stopped draining or whose
// connection closed. Publish evicts such handles.
var ErrSubscriberGone = errors.New("subscriber gone")

// subscriberBuffer must hold the connected ack plus the single terminal
// event with room to spare; a subscriber that falls further behind than this
// is treated as dead.
const subscriberBuffer = 8

// Subscriber is one live delivery handle. Events are drained via Events();
// the channel is closed when the subscription ends.
type Subscriber struct {
	sessionID string

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Events returns the delivery channel. It is closed on unsubscribe or when
// the session completes.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// SessionID returns the session this handle is subscribed to.
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

func (s *Subscriber) send(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberGone
	}
	select {
	case s.ch <- evt:
		return nil
	default:
		return ErrSubscriberGone
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// SessionReader is the subset of the session store the bridge needs to
// confirm a session exists before accepting a subscription.
type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
}

// Bridge owns the per-session subscriber sets. Sets are created on first
// subscription and discarded as soon as they empty; publishes to a session
// with no local subscribers deliver to nobody, which the polling fallback
// covers.
type Bridge struct {
	sessions SessionReader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

func New(sessions SessionReader, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		sessions: sessions,
		logger:   logger,
		metrics:  m,
		subs:     make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a delivery handle for sessionID and immediately queues
// the connected acknowledgment. Returns store.ErrNotFound when the session
// is absent or expired.
func (b *Bridge) Subscribe(ctx context.Context, sessionID string) (*Subscriber, error) {
	if _, err := b.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	sub := &Subscriber{
		sessionID: sessionID,
		ch:        make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	b.metrics.SubscriberConnected()

	// The ack cannot fail: the buffer is fresh and the handle not yet shared.
	_ = sub.send(Event{
		Type: EventConnected,
		Data: map[string]any{"status": "connected", "session_id": sessionID},
	})

	return sub, nil
}

// Publish delivers the event to every handle currently subscribed to
// sessionID on this instance. Handles that fail delivery are evicted without
// aborting the remaining deliveries. Returns the number of successful
// deliveries. Within one instance, publishes for a session are delivered in
// call order.
func (b *Bridge) Publish(sessionID, eventType string, data map[string]any) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sessionID]
	if !ok {
		return 0
	}

	notified := 0
	for sub := range set {
		if err := sub.send(Event{Type: eventType, Data: data}); err != nil {
			b.removeLocked(sessionID, sub)
			b.logger.Warn("evicted dead subscriber",
				"session_id", sessionID,
				"event", eventType,
			)
			continue
		}
		notified++
	}

	b.metrics.AddDelivered(notified)
	return notified
}

// Unsubscribe removes the handle and closes its channel. Safe to call more
// than once and after the handle was already evicted.
func (b *Bridge) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	b.removeLocked(sub.sessionID, sub)
	b.mu.Unlock()
}

// Complete tears down every remaining subscription for a session. Called
// after the terminal event was published, and on cancellation.
func (b *Bridge) Complete(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[sessionID] {
		b.removeLocked(sessionID, sub)
	}
}

// SubscriberCount reports the live handle count for a session.
func (b *Bridge) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

func (b *Bridge) removeLocked(sessionID string, sub *Subscriber) {
	set, ok := b.subs[sessionID]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sessionID)
	}
	sub.close()
	b.metrics.SubscriberGone()
}

// ensure the reader contract matches the concrete stores.
var _ SessionReader = (store.Store)(nil)
