package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// CachedProfiles Redis 读穿缓存，位于 ProfileSource 之前
//
// 缓存只用于展示资料；Redis 故障时直接回源，不影响请求结果。
type CachedProfiles struct {
	source ProfileSource
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ ProfileSource = (*CachedProfiles)(nil)

// NewCachedProfiles 创建资料缓存；client 为 nil 时退化为直接回源
func NewCachedProfiles(source ProfileSource, client redis.UniversalClient, prefix string, ttl time.Duration) *CachedProfiles {
	return &CachedProfiles{
		source: source,
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: log.Logger("profile-cache"),
	}
}

func (c *CachedProfiles) key(userID string) string {
	return c.prefix + "profile:" + userID
}

// GetProfile implements ProfileSource.
func (c *CachedProfiles) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if c.client == nil {
		return c.source.GetProfile(ctx, userID)
	}

	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	switch {
	case err == nil:
		var p domain.Profile
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil {
			return p, nil
		}
		c.logger.Warn("drop corrupt cached profile", "user_id", userID)
	case err != redis.Nil:
		c.logger.Warn("profile cache read failed", "user_id", userID, "error", err)
	}

	p, err := c.source.GetProfile(ctx, userID)
	if err != nil {
		return p, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.client.Set(ctx, c.key(userID), data, c.ttl).Err(); err != nil {
			c.logger.Warn("profile cache write failed", "user_id", userID, "error", err)
		}
	}
	return p, nil
}

// Invalidate 删除缓存的资料
func (c *CachedProfiles) Invalidate(ctx context.Context, userID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(userID)).Err()
}
