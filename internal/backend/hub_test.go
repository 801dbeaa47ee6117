package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/mq"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (r *recorder) handle(_ context.Context, e domain.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []domain.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChangeEvent(nil), r.events...)
}

func TestDecodeEvent(t *testing.T) {
	t.Run("round trips published events", func(t *testing.T) {
		now := time.Date(2026, 3, 4, 5, 6, 7, 123456000, time.UTC)
		c := domain.Connection{ID: "c1", RequesterID: "a", RecipientID: "b", Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}

		data, err := EncodeEvent(domain.ChangeEvent{Type: domain.EventInsert, Table: domain.ConnectionsTable, New: &c})
		require.NoError(t, err)

		event, err := DecodeEvent(data)
		require.NoError(t, err)
		assert.Equal(t, domain.EventInsert, event.Type)
		require.NotNil(t, event.New)
		assert.Equal(t, c.ID, event.New.ID)
		assert.True(t, c.UpdatedAt.Equal(event.New.UpdatedAt))
		assert.Nil(t, event.Old)
	})

	t.Run("accepts realtime style payload", func(t *testing.T) {
		payload := `{
			"eventType": "update",
			"old": {},
			"new": {"id": "c1", "requester_id": "a", "recipient_id": "b", "status": "accepted",
			        "created_at": "2026-03-04 05:06:07.123+00", "updated_at": "2026-03-04T05:07:00.5Z"},
			"commit_timestamp": "2026-03-04T05:07:00.6Z"
		}`
		event, err := DecodeEvent([]byte(payload))
		require.NoError(t, err)
		assert.Equal(t, domain.EventUpdate, event.Type)
		assert.Equal(t, domain.ConnectionsTable, event.Table)
		assert.Nil(t, event.Old)
		require.NotNil(t, event.New)
		assert.Equal(t, domain.StatusAccepted, event.New.Status)
		assert.Equal(t, 2026, event.New.CreatedAt.Year())
	})

	t.Run("rejects malformed events", func(t *testing.T) {
		for _, payload := range []string{
			`not json`,
			`{"event_type": "TRUNCATE"}`,
			`{"event_type": "INSERT"}`,
			`{"event_type": "DELETE", "new": {"id": "c1"}}`,
		} {
			_, err := DecodeEvent([]byte(payload))
			assert.Error(t, err, payload)
		}
	})
}

func TestHub(t *testing.T) {
	ctx := context.Background()
	ab := domain.Connection{ID: "c1", RequesterID: "alice", RecipientID: "bob", Status: domain.StatusPending}

	t.Run("filters events by participant", func(t *testing.T) {
		h := NewHub()
		var alice, bob, carol, all recorder
		for user, rec := range map[string]*recorder{"alice": &alice, "bob": &bob, "carol": &carol} {
			_, err := h.Subscribe(ctx, user, rec.handle)
			require.NoError(t, err)
		}
		_, err := h.SubscribeAll(all.handle)
		require.NoError(t, err)

		h.Dispatch(ctx, domain.ChangeEvent{Type: domain.EventInsert, New: &ab})

		assert.Len(t, alice.all(), 1)
		assert.Len(t, bob.all(), 1)
		assert.Empty(t, carol.all())
		assert.Len(t, all.all(), 1)
	})

	t.Run("ignores other tables", func(t *testing.T) {
		h := NewHub()
		var rec recorder
		_, err := h.Subscribe(ctx, "alice", rec.handle)
		require.NoError(t, err)

		h.Dispatch(ctx, domain.ChangeEvent{Type: domain.EventInsert, Table: "messages", New: &ab})
		assert.Empty(t, rec.all())
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		h := NewHub()
		var rec recorder
		sub, err := h.Subscribe(ctx, "alice", rec.handle)
		require.NoError(t, err)

		sub.Unsubscribe()
		h.Dispatch(ctx, domain.ChangeEvent{Type: domain.EventInsert, New: &ab})

		assert.Empty(t, rec.all())
		assert.NoError(t, sub.Err())
		select {
		case <-sub.Dropped():
		default:
			t.Fatal("dropped channel should be closed")
		}
		assert.Equal(t, 0, h.Subscribers())
	})

	t.Run("reset drops user subscriptions with cause", func(t *testing.T) {
		h := NewHub()
		var rec recorder
		sub, err := h.Subscribe(ctx, "alice", rec.handle)
		require.NoError(t, err)
		all, err := h.SubscribeAll(rec.handle)
		require.NoError(t, err)

		cause := errors.New("rebalance")
		h.Reset(cause)

		<-sub.Dropped()
		assert.ErrorIs(t, sub.Err(), cause)
		assert.NoError(t, all.Err())
		assert.Equal(t, 1, h.Subscribers())
	})

	t.Run("closed hub refuses subscriptions", func(t *testing.T) {
		h := NewHub()
		sub, err := h.Subscribe(ctx, "alice", func(context.Context, domain.ChangeEvent) {})
		require.NoError(t, err)

		h.Close()
		assert.ErrorIs(t, sub.Err(), ErrHubClosed)

		_, err = h.Subscribe(ctx, "alice", func(context.Context, domain.ChangeEvent) {})
		assert.ErrorIs(t, err, ErrHubClosed)
	})

	t.Run("empty user id is invalid", func(t *testing.T) {
		_, err := NewHub().Subscribe(ctx, "", func(context.Context, domain.ChangeEvent) {})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	queue := mq.NewInMemoryQueue()
	hub := NewHub()
	require.NoError(t, queue.Subscribe(DefaultTopic, hub.Handle))

	var bob recorder
	_, err := hub.Subscribe(ctx, "bob", bob.handle)
	require.NoError(t, err)

	repo := NewPublisher(NewMemory(), queue, "")

	c, err := repo.Insert(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, c.ID, "alice", domain.StatusAccepted)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = repo.UpdateStatus(ctx, c.ID, "bob", domain.StatusRejected)
	require.NoError(t, err)

	again, err := repo.Insert(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = repo.Delete(ctx, again.ID, "alice")
	require.NoError(t, err)

	events := bob.all()
	require.Len(t, events, 4, "failed mutations publish nothing")
	assert.Equal(t, domain.EventInsert, events[0].Type)
	assert.Equal(t, domain.EventUpdate, events[1].Type)
	assert.Equal(t, domain.StatusRejected, events[1].New.Status)
	assert.Equal(t, domain.StatusPending, events[1].Old.Status)
	assert.Equal(t, domain.EventInsert, events[2].Type)
	assert.Equal(t, domain.EventDelete, events[3].Type)
	assert.Equal(t, again.ID, events[3].Old.ID)
	assert.False(t, events[3].CommitTimestamp.IsZero())
}
