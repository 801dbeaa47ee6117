package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Zereker/ideahub/internal/backend"
	"github.com/Zereker/ideahub/internal/connection"
	"github.com/Zereker/ideahub/pkg/graph"
	"github.com/Zereker/ideahub/pkg/log"
	"github.com/Zereker/ideahub/pkg/mq"
	"github.com/Zereker/ideahub/pkg/postgres"
	"github.com/Zereker/ideahub/pkg/redis"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig      `toml:"server"`
	Log      log.Config        `toml:"log"`
	Backend  BackendConfig     `toml:"backend"`
	Postgres postgres.Config   `toml:"postgres"`
	Redis    redis.Config      `toml:"redis"`
	Kafka    mq.KafkaConfig    `toml:"kafka"`
	Feed     FeedConfig        `toml:"feed"`
	Neo4j    graph.Neo4jConfig `toml:"neo4j"`
	Session  SessionConfig     `toml:"session"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Mode string `toml:"mode"` // http, mcp, or both
	Port int    `toml:"port"`
}

// 后端驱动
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// BackendConfig 连接记录存储
type BackendConfig struct {
	Driver   string        `toml:"driver"` // memory 或 postgres
	Profiles []SeedProfile `toml:"profiles"`
}

// SeedProfile 启动时写入的展示资料（用于本地和演示环境）
type SeedProfile struct {
	UserID    string `toml:"user_id"`
	FullName  string `toml:"full_name"`
	AvatarURL string `toml:"avatar_url"`
	Title     string `toml:"title"`
}

// FeedConfig 变更推送
type FeedConfig struct {
	Topic string `toml:"topic"`
}

// SessionConfig 用户会话
type SessionConfig struct {
	ReloadInterval      string  `toml:"reload_interval"` // 0 或空表示关闭周期 reload
	IdleTimeout         string  `toml:"idle_timeout"`    // 0 或空表示不卸载
	ReloadAfterMutation bool    `toml:"reload_after_mutation"`
	InboxSize           int     `toml:"inbox_size"`
	Backoff             Backoff `toml:"backoff"`
}

// Backoff 重订阅退避
type Backoff struct {
	Initial string `toml:"initial"`
	Max     string `toml:"max"`
}

// Validate checks server configuration
func (s *ServerConfig) Validate() error {
	if s.Mode == "" {
		s.Mode = "http" // default mode
	}
	switch s.Mode {
	case "http", "mcp", "both":
		// valid
	default:
		return fmt.Errorf("invalid mode: %s, must be http, mcp, or both", s.Mode)
	}
	if s.Mode != "mcp" && (s.Port <= 0 || s.Port > 65535) {
		return fmt.Errorf("port is required and must be between 1 and 65535")
	}
	return nil
}

// Validate checks backend configuration
func (b *BackendConfig) Validate() error {
	if b.Driver == "" {
		b.Driver = DriverMemory
	}
	switch b.Driver {
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("invalid driver: %s, must be memory or postgres", b.Driver)
	}
	for i, p := range b.Profiles {
		if strings.TrimSpace(p.UserID) == "" {
			return fmt.Errorf("profiles[%d].user_id is required", i)
		}
	}
	return nil
}

// TopicOrDefault 返回变更推送 topic
func (f FeedConfig) TopicOrDefault() string {
	if f.Topic == "" {
		return backend.DefaultTopic
	}
	return f.Topic
}

// Validate checks session configuration
func (s *SessionConfig) Validate() error {
	for name, value := range map[string]string{
		"reload_interval": s.ReloadInterval,
		"idle_timeout":    s.IdleTimeout,
		"backoff.initial": s.Backoff.Initial,
		"backoff.max":     s.Backoff.Max,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
	}
	if s.InboxSize < 0 {
		return fmt.Errorf("inbox_size must not be negative")
	}
	return nil
}

// Registry 转换为会话注册表配置，须在 Validate 之后调用
func (s SessionConfig) Registry() connection.RegistryConfig {
	reload, _ := parseDuration(s.ReloadInterval)
	idle, _ := parseDuration(s.IdleTimeout)
	initial, _ := parseDuration(s.Backoff.Initial)
	maxInterval, _ := parseDuration(s.Backoff.Max)

	return connection.RegistryConfig{
		Session: connection.SessionConfig{
			ReloadInterval:      reload,
			ReloadAfterMutation: s.ReloadAfterMutation,
			InboxSize:           s.InboxSize,
			Backoff: connection.BackoffConfig{
				InitialInterval: initial,
				MaxInterval:     maxInterval,
			},
		},
		IdleTimeout: idle,
	}
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}

// Validate checks all configuration fields
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	if c.Backend.Driver == DriverPostgres && !c.Postgres.Enabled {
		return fmt.Errorf("backend: driver postgres requires [postgres] enabled = true")
	}

	if err := c.Postgres.Validate(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	if err := c.Neo4j.Validate(); err != nil {
		return fmt.Errorf("neo4j: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	return nil
}

// LoadConfig reads and parses the configuration file
func LoadConfig(filename string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
