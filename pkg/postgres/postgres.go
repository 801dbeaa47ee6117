package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Package-level singleton instance.
var poolInstance *pgxpool.Pool

// Init initializes the connection pool singleton with config.
func Init(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	pool, err := NewPool(context.Background(), cfg)
	if err != nil {
		return err
	}

	poolInstance = pool
	return nil
}

// Pool returns the singleton pool. Returns nil if PostgreSQL is not enabled.
func Pool() *pgxpool.Pool {
	return poolInstance
}

// Close closes the singleton pool.
func Close() {
	if poolInstance != nil {
		poolInstance.Close()
	}
}

// NewPool creates and pings a pgx connection pool.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}

	poolConfig.MaxConnLifetime = time.Hour
	if d, err := time.ParseDuration(cfg.MaxConnLifetime); err == nil && d > 0 {
		poolConfig.MaxConnLifetime = d
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return pool, nil
}
