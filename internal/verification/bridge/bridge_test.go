package bridge

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eudi-verifier/internal/verification/store"
)

func newTestBridge(t *testing.T) (*Bridge, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return New(st, slog.New(slog.DiscardHandler), nil), st
}

func mustCreate(t *testing.T, st *store.InMemoryStore, id string) {
	t.Helper()
	_, err := st.Create(context.Background(), id, "nonce", 5*time.Minute)
	require.NoError(t, err)
}

func TestSubscribeUnknownSession(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := b.Subscribe(context.Background(), "s2")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, b.SubscriberCount("s2"))
}

func TestSubscribeReceivesConnectedAck(t *testing.T) {
	b, st := newTestBridge(t)
	mustCreate(t, st, "s1")

	sub, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	evt := <-sub.Events()
	assert.Equal(t, EventConnected, evt.Type)
	assert.Equal(t, "s1", evt.Data["session_id"])
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b, st := newTestBridge(t)
	mustCreate(t, st, "s1")

	a, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	c, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	notified := b.Publish("s1", EventVerified, map[string]any{"state": "verified"})
	assert.Equal(t, 2, notified)

	for _, sub := range []*Subscriber{a, c} {
		<-sub.Events() // connected
		evt := <-sub.Events()
		assert.Equal(t, EventVerified, evt.Type)
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	b, st := newTestBridge(t)
	mustCreate(t, st, "s1")

	sub, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	<-sub.Events() // connected

	b.Publish("s1", "first", nil)
	b.Publish("s1", "second", nil)

	assert.Equal(t, "first", (<-sub.Events()).Type)
	assert.Equal(t, "second", (<-sub.Events()).Type)
}

// A handle that fails delivery is evicted without aborting delivery to the
// remaining handles.
func TestPublishEvictsFailingHandle(t *testing.T) {
	b, st := newTestBridge(t)
	mustCreate(t, st, "s1")

	healthy, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	dead, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	// Simulate a torn-down connection.
	dead.close()

	notified := b.Publish("s1", EventVerified, map[string]any{"state": "verified"})
	assert.Equal(t, 1, notified)
	assert.Equal(t, 1, b.SubscriberCount("s1"))

	<-healthy.Events() // connected
	evt := <-healthy.Events()
	assert.Equal(t, EventVerified, evt.Type)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b, st := newTestBridge(t)
	mustCreate(t, st, "s1")

	assert.Equal(t, 0, b.Publish("s1", EventVerified, nil))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b, st := newTestBridge(t)
	mustCreate(t, st, "s1")

	sub, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second call must not panic or double-remove
	b.Unsubscribe(nil)

	assert.Equal(t, 0, b.SubscriberCount("s1"))

	// Channel is closed exactly once; reads after close drain then report
	// closed.
	for range sub.Events() {
	}
}

func TestEmptySetIsDiscarded(t *testing.T) {
	b, st := newTestBridge(t)
	mustCreate(t, st, "s1")

	sub, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	b.Unsubscribe(sub)

	b.mu.Lock()
	_, retained := b.subs["s1"]
	b.mu.Unlock()
	assert.False(t, retained, "empty subscriber set must not be retained")
}

func TestCompleteClosesAllHandles(t *testing.T) {
	b, st := newTestBridge(t)
	mustCreate(t, st, "s1")

	a, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	c, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	b.Publish("s1", EventVerified, nil)
	b.Complete("s1")

	assert.Equal(t, 0, b.SubscriberCount("s1"))

	// Buffered events remain readable after Complete; the channel then ends.
	for _, sub := range []*Subscriber{a, c} {
		var types []string
		for evt := range sub.Events() {
			types = append(types, evt.Type)
		}
		assert.Equal(t, []string{EventConnected, EventVerified}, types)
	}
}
