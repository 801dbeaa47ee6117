package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.Path = " " }},
		{"bad rotation time", func(c *Config) { c.RotationTime = "daily" }},
		{"bad max age", func(c *Config) { c.MaxAge = "" }},
		{"empty pattern", func(c *Config) { c.DefaultPattern = "" }},
		{"unknown level", func(c *Config) { c.Level = "trace" }},
		{"unknown format", func(c *Config) { c.Format = "xml" }},
		{"unknown console", func(c *Config) { c.Console = "syslog" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMapLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", mapLevel("Debug").String())
	assert.Equal(t, "WARN", mapLevel("warn").String())
	assert.Equal(t, "INFO", mapLevel("bogus").String())
}
