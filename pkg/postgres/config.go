package postgres

import (
	"fmt"
	"time"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Enabled         bool   `toml:"enabled"`
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Database        string `toml:"database"`
	SSLMode         string `toml:"ssl_mode"`
	MaxConnections  int32  `toml:"max_connections"`
	MaxConnLifetime string `toml:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// Validate checks PostgreSQL configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.MaxConnLifetime != "" {
		if _, err := time.ParseDuration(c.MaxConnLifetime); err != nil {
			return fmt.Errorf("max_conn_lifetime is invalid: %w", err)
		}
	}
	return nil
}
