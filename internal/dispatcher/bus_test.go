package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingDispatcher) DispatchEvent(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

var busEventTypes = []string{EventFavoriteAdded, EventMessageSent}

func TestPublishSubscribe(t *testing.T) {
	mr, rdb := setupRedis(t)
	rec := &recordingDispatcher{}
	sub := NewSubscriber(rdb, "events:", busEventTypes, rec, logger.NewTestLogger(t))
	pub := NewPublisher(rdb, "events:", busEventTypes)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 10*time.Millisecond)

	err := pub.Publish(ctx, models.Event{Type: EventFavoriteAdded, Actor: "bob", Target: "alice"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "alice", rec.events[0].Target)
	assert.False(t, rec.events[0].OccurredAt.IsZero())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestPublisherRejectsInvalidEvents(t *testing.T) {
	_, rdb := setupRedis(t)
	pub := NewPublisher(rdb, "events:", busEventTypes)

	err := pub.Publish(context.Background(), models.Event{Type: "teleported", Target: "alice"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidEvent))

	err = pub.Publish(context.Background(), models.Event{Type: EventMessageSent})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidEvent))
}

func TestSubscriberHandleDropsBadPayloads(t *testing.T) {
	_, rdb := setupRedis(t)
	rec := &recordingDispatcher{}
	sub := NewSubscriber(rdb, "events:", busEventTypes, rec, logger.NewTestLogger(t))
	ctx := context.Background()

	sub.Handle(ctx, "events:favorite_added", []byte("{not json"))
	sub.Handle(ctx, "events:favorite_added", []byte(`{"event_type":"favorite_added"}`))
	sub.Handle(ctx, "events:message_sent", []byte(`{"event_type":"favorite_added","target":"alice"}`))
	assert.Equal(t, 0, rec.count())

	sub.Handle(ctx, "events:message_sent", []byte(`{"event_type":"message_sent","actor":"bob","target":"alice","metadata":{"preview":"hi"}}`))
	assert.Equal(t, 1, rec.count())
}
