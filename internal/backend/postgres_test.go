package backend

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/ideahub/internal/domain"
)

// setupPostgres 连接测试库；未设置 IDEAHUB_POSTGRES_DSN 时跳过
func setupPostgres(t *testing.T) *Postgres {
	t.Helper()

	dsn := os.Getenv("IDEAHUB_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("IDEAHUB_POSTGRES_DSN not set, skipping postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}

	p := NewPostgres(pool)
	require.NoError(t, p.EnsureSchema(ctx))
	return p
}

func TestPostgresRules(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()

	// 每次运行使用新的用户 id，避免与历史数据冲突
	alice, bob := "alice-"+uuid.NewString(), "bob-"+uuid.NewString()
	require.NoError(t, p.PutProfile(ctx, domain.Profile{UserID: bob, FullName: "Bob", Title: "Engineer"}))

	c, err := p.Insert(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, c.Status)

	_, err = p.Insert(ctx, bob, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyPending)

	_, err = p.UpdateStatus(ctx, c.ID, alice, domain.StatusAccepted)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = p.Delete(ctx, c.ID, bob)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	accepted, err := p.UpdateStatus(ctx, c.ID, bob, domain.StatusAccepted)
	require.NoError(t, err)
	assert.True(t, accepted.UpdatedAt.After(c.UpdatedAt))

	_, err = p.UpdateStatus(ctx, c.ID, bob, domain.StatusAccepted)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = p.Insert(ctx, alice, bob)
	assert.ErrorIs(t, err, domain.ErrAlreadyConnected)

	sent, err := p.ListAsRequester(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "Bob", sent[0].Counterparty.FullName)

	received, err := p.ListAsRecipient(ctx, bob)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, domain.UnknownUserName, received[0].Counterparty.FullName)

	_, err = p.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresCancel(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()
	alice, bob := "alice-"+uuid.NewString(), "bob-"+uuid.NewString()

	c, err := p.Insert(ctx, alice, bob)
	require.NoError(t, err)

	deleted, err := p.Delete(ctx, c.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, c.ID, deleted.ID)

	_, err = p.Delete(ctx, c.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rows, err := p.FindBetween(ctx, alice, bob)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
