package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Crawl.Concurrency)
	assert.Equal(t, 3, cfg.Crawl.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Crawl.RetryDelay.Duration)
	assert.Equal(t, 10*time.Second, cfg.Crawl.RequestTimeout.Duration)
	assert.True(t, cfg.Server.CancelOnDisconnect)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
crawl:
  concurrency: 8
  retry_delay: 500ms
  request_timeout: 3
  max_depth: 4
robots:
  ignore: true
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Crawl.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Crawl.RetryDelay.Duration)
	assert.Equal(t, 3*time.Second, cfg.Crawl.RequestTimeout.Duration)
	assert.Equal(t, 4, cfg.Crawl.MaxDepth)
	assert.True(t, cfg.Robots.Ignore)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultUserAgent, cfg.Crawl.UserAgent)
	assert.Equal(t, 3, cfg.Crawl.MaxAttempts)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  concurrency: 0\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"too many workers", func(c *Config) { c.Crawl.Concurrency = 1000 }},
		{"zero attempts", func(c *Config) { c.Crawl.MaxAttempts = 0 }},
		{"too many attempts", func(c *Config) { c.Crawl.MaxAttempts = 11 }},
		{"negative depth", func(c *Config) { c.Crawl.MaxDepth = -1 }},
		{"zero timeout", func(c *Config) { c.Crawl.RequestTimeout = DurationFrom(0) }},
		{"negative rate", func(c *Config) { c.Crawl.RateLimit = -1 }},
		{"negative expected pages", func(c *Config) { c.Crawl.ExpectedPages = -1 }},
		{"no user agent", func(c *Config) { c.Crawl.UserAgent = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
