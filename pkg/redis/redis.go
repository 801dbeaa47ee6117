package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Package-level singleton instance
var clientInstance *redis.Client

// DefaultProfileTTL 展示资料缓存默认过期时间
const DefaultProfileTTL = 5 * time.Minute

// Config Redis 配置
type Config struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	Enabled    bool   `toml:"enabled"`
	KeyPrefix  string `toml:"key_prefix"`  // 缓存 key 前缀，默认 ideahub:
	ProfileTTL string `toml:"profile_ttl"` // 展示资料缓存时间，如 5m
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("addr is required when redis is enabled")
	}
	if c.ProfileTTL != "" {
		if _, err := time.ParseDuration(c.ProfileTTL); err != nil {
			return fmt.Errorf("profile_ttl is invalid: %w", err)
		}
	}
	return nil
}

// TTL 返回展示资料缓存时间
func (c *Config) TTL() time.Duration {
	if d, err := time.ParseDuration(c.ProfileTTL); err == nil && d > 0 {
		return d
	}
	return DefaultProfileTTL
}

// Prefix 返回缓存 key 前缀
func (c *Config) Prefix() string {
	if c.KeyPrefix == "" {
		return "ideahub:"
	}
	return c.KeyPrefix
}

// Init initializes the Redis client singleton with config.
func Init(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	clientInstance = client
	return nil
}

// Client returns the singleton Redis client instance.
// Returns nil if Redis is not enabled or not initialized.
func Client() *redis.Client {
	return clientInstance
}

// Close closes the Redis client connection.
func Close() error {
	if clientInstance == nil {
		return nil
	}
	return clientInstance.Close()
}
