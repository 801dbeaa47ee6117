package backend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/ideahub/internal/domain"
)

type countingProfiles struct {
	*Memory
	calls int
}

func (c *countingProfiles) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	c.calls++
	return c.Memory.GetProfile(ctx, userID)
}

func TestCachedProfilesWithoutRedis(t *testing.T) {
	source := &countingProfiles{Memory: NewMemory()}
	source.PutProfile(domain.Profile{UserID: "bob", FullName: "Bob"})

	cache := NewCachedProfiles(source, nil, "test:", time.Minute)
	p, err := cache.GetProfile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", p.FullName)

	_, err = cache.GetProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 2, source.calls)
	assert.NoError(t, cache.Invalidate(context.Background(), "bob"))
}

func TestCachedProfilesRedis(t *testing.T) {
	addr := os.Getenv("IDEAHUB_REDIS_ADDR")
	if addr == "" {
		t.Skip("IDEAHUB_REDIS_ADDR not set, skipping redis integration test")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	source := &countingProfiles{Memory: NewMemory()}
	source.PutProfile(domain.Profile{UserID: "bob", FullName: "Bob"})

	prefix := "ideahub-test:" + time.Now().Format("150405.000000") + ":"
	cache := NewCachedProfiles(source, client, prefix, time.Minute)
	defer cache.Invalidate(ctx, "bob")

	for i := 0; i < 3; i++ {
		p, err := cache.GetProfile(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "Bob", p.FullName)
	}
	assert.Equal(t, 1, source.calls)

	require.NoError(t, cache.Invalidate(ctx, "bob"))
	_, err := cache.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}
