package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
cache:
  dir: /tmp/cache
  ttl: 0s
retry:
  max_retries: 5
  base_delay: 200ms
  max_delay: 5s
crawl:
  batch_size: 3
  delay_ms: 10
  update_existing: true
  targets: ["acme/mongo", "solo"]
  server_url_template: https://directory.example/server/{owner}/{slug}
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Duration(0), cfg.Cache.TTL)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 3, cfg.Crawl.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Crawl.Delay())
	assert.True(t, cfg.Crawl.UpdateExisting)
	assert.Equal(t, []string{"acme/mongo", "solo"}, cfg.Crawl.Targets)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "https://directory.example/server/{owner}/{slug}", cfg.Crawl.Layout().ServerURLTemplate)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, ".cache/remote", cfg.Cache.Dir)
	assert.Equal(t, ".cache/checkpoints", cfg.Checkpoint.Dir)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 1, cfg.Crawl.BatchSize)
	assert.Equal(t, 5, cfg.Crawl.ConcurrentBatchSize)
	assert.Equal(t, 2*time.Second, cfg.Crawl.Delay())
	assert.False(t, cfg.Crawl.UpdateExisting)
}

// Not parallel: mutates process environment.
func TestLoadBareEnvBindings(t *testing.T) {
	t.Setenv("CRAWL_BATCH_SIZE", "7")
	t.Setenv("UPDATE_EXISTING", "true")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("DATABASE_URL", "postgres://localhost/mcp")
	t.Setenv("CRAWLER_EXTRACT_API_KEY", "fc-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Crawl.BatchSize)
	assert.True(t, cfg.Crawl.UpdateExisting)
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
	assert.Equal(t, "postgres://localhost/mcp", cfg.DB.DSN)
	assert.Equal(t, "fc-key", cfg.ExtractAPI.APIKey)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Cache:      CacheConfig{Dir: "c", TTL: time.Hour},
		Checkpoint: CheckpointConfig{Dir: "cp"},
		Retry:      RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute},
		Crawl: CrawlConfig{
			BatchSize:           1,
			ConcurrentBatchSize: 5,
			ServerURLTemplate:   "https://x.dev/{slug}",
		},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "negative ttl", mutate: func(c *Config) { c.Cache.TTL = -time.Second }, want: "cache.ttl"},
		{name: "cache without dir", mutate: func(c *Config) { c.Cache.Dir = "" }, want: "cache.dir"},
		{name: "no checkpoint dir", mutate: func(c *Config) { c.Checkpoint.Dir = "" }, want: "checkpoint.dir"},
		{name: "retry delays inverted", mutate: func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, want: "retry.base_delay"},
		{name: "zero batch", mutate: func(c *Config) { c.Crawl.BatchSize = 0 }, want: "crawl.batch_size"},
		{name: "template without slug", mutate: func(c *Config) { c.Crawl.ServerURLTemplate = "https://x.dev" }, want: "server_url_template"},
		{name: "browser without timeout", mutate: func(c *Config) { c.Browser.Enabled = true }, want: "browser.nav_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
