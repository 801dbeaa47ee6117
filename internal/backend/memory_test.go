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
)

func TestMemoryInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending row with server assigned fields", func(t *testing.T) {
		m := NewMemory()
		c, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)

		assert.NotEmpty(t, c.ID)
		assert.Equal(t, domain.StatusPending, c.Status)
		assert.Equal(t, "alice", c.RequesterID)
		assert.Equal(t, "bob", c.RecipientID)
		assert.False(t, c.CreatedAt.IsZero())
		assert.Equal(t, c.CreatedAt, c.UpdatedAt)
	})

	t.Run("rejects duplicate pair in either direction", func(t *testing.T) {
		m := NewMemory()
		_, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)

		_, err = m.Insert(ctx, "alice", "bob")
		assert.ErrorIs(t, err, domain.ErrAlreadyPending)

		_, err = m.Insert(ctx, "bob", "alice")
		assert.ErrorIs(t, err, domain.ErrAlreadyPending)
	})

	t.Run("accepted pair reports already connected", func(t *testing.T) {
		m := NewMemory()
		c, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)
		_, err = m.UpdateStatus(ctx, c.ID, "bob", domain.StatusAccepted)
		require.NoError(t, err)

		_, err = m.Insert(ctx, "bob", "alice")
		assert.ErrorIs(t, err, domain.ErrAlreadyConnected)
	})

	t.Run("rejected pair does not block a new request", func(t *testing.T) {
		m := NewMemory()
		c, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)
		_, err = m.UpdateStatus(ctx, c.ID, "bob", domain.StatusRejected)
		require.NoError(t, err)

		again, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.NotEqual(t, c.ID, again.ID)

		rows, err := m.FindBetween(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("concurrent opposite requests create one row", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			m := NewMemory()

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for j, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[j] = m.Insert(ctx, pair[0], pair[1])
				}()
			}
			wg.Wait()

			var ok, pending int
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, domain.ErrAlreadyPending):
					pending++
				}
			}
			require.Equal(t, 1, ok, "errors: %v", errs)
			require.Equal(t, 1, pending, "errors: %v", errs)

			rows, err := m.FindBetween(ctx, "alice", "bob")
			require.NoError(t, err)
			require.Len(t, rows, 1)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		m := NewMemory()
		_, err := m.Insert(ctx, "alice", "alice")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		_, err = m.Insert(ctx, "", "bob")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestMemoryUpdateStatus(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Memory, domain.Connection) {
		m := NewMemory()
		c, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)
		return m, c
	}

	t.Run("only the recipient may respond", func(t *testing.T) {
		m, c := setup(t)
		_, err := m.UpdateStatus(ctx, c.ID, "alice", domain.StatusAccepted)
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)

		_, err = m.UpdateStatus(ctx, c.ID, "mallory", domain.StatusRejected)
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	})

	t.Run("second accept fails with invalid state", func(t *testing.T) {
		m, c := setup(t)
		accepted, err := m.UpdateStatus(ctx, c.ID, "bob", domain.StatusAccepted)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAccepted, accepted.Status)

		_, err = m.UpdateStatus(ctx, c.ID, "bob", domain.StatusAccepted)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("updatedAt strictly advances even with a frozen clock", func(t *testing.T) {
		m := NewMemory()
		frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		m.SetClock(func() time.Time { return frozen })

		c, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)
		updated, err := m.UpdateStatus(ctx, c.ID, "bob", domain.StatusRejected)
		require.NoError(t, err)
		assert.True(t, updated.UpdatedAt.After(c.UpdatedAt))
		assert.True(t, updated.Supersedes(c))
	})

	t.Run("unknown id", func(t *testing.T) {
		m, _ := setup(t)
		_, err := m.UpdateStatus(ctx, "missing", "bob", domain.StatusAccepted)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("pending is not a response", func(t *testing.T) {
		m, c := setup(t)
		_, err := m.UpdateStatus(ctx, c.ID, "bob", domain.StatusPending)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("requester cancels pending request", func(t *testing.T) {
		m := NewMemory()
		c, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)

		_, err = m.Delete(ctx, c.ID, "bob")
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)

		deleted, err := m.Delete(ctx, c.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, c.ID, deleted.ID)

		_, err = m.Get(ctx, c.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = m.Delete(ctx, c.ID, "alice")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("accepted rows cannot be cancelled", func(t *testing.T) {
		m := NewMemory()
		c, err := m.Insert(ctx, "alice", "bob")
		require.NoError(t, err)
		_, err = m.UpdateStatus(ctx, c.ID, "bob", domain.StatusAccepted)
		require.NoError(t, err)

		_, err = m.Delete(ctx, c.ID, "alice")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestMemoryListJoinsProfiles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutProfile(domain.Profile{UserID: "bob", FullName: "Bob Builder", Title: "Engineer"})

	_, err := m.Insert(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = m.Insert(ctx, "carol", "alice")
	require.NoError(t, err)

	sent, err := m.ListAsRequester(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "Bob Builder", sent[0].Counterparty.FullName)

	received, err := m.ListAsRecipient(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, domain.PlaceholderProfile("carol"), received[0].Counterparty)

	_, err = m.GetProfile(ctx, "carol")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
