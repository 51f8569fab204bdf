package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rag-crawler/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "X-User-ID", cfg.Auth.IdentityHeader)
	require.Equal(t, crawler.DefaultMaxPagesLimit, cfg.Crawler.MaxPagesLimit)
	require.Equal(t, 30*time.Second, cfg.Crawler.Timeouts.Single)
	require.Equal(t, 5*time.Minute, cfg.Crawler.Timeouts.Limited)
	require.Equal(t, 10*time.Minute, cfg.Crawler.Timeouts.Deep)
	require.Equal(t, "auto", cfg.RateLimit.Backend)
	require.Equal(t, 5, cfg.RateLimit.PerMinute)
	require.Equal(t, 20, cfg.RateLimit.PerHour)
	require.Equal(t, 5, cfg.CrawlQuotas()[crawler.ModeDeep])
	require.Equal(t, "memory", cfg.Vector.Backend)
	require.Equal(t, "recursive", cfg.Chunking.Strategy)
	require.Equal(t, crawler.Timeouts{Single: 30 * time.Second, Limited: 5 * time.Minute, Deep: 10 * time.Minute}, cfg.CrawlTimeouts())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
  identity_header: X-Caller
crawler:
  concurrency: 6
  max_pages_limit: 25
  timeouts:
    single: 10s
    limited: 2m
    deep: 4m
ratelimit:
  backend: redis
  redis_url: redis://localhost:6379/0
  per_minute: 10
  per_hour: 100
  crawl_per_hour:
    deep: 2
  admin_emails: ["ops@example.com"]
embedding:
  default: local
  providers:
    local:
      kind: ollama
      base_url: http://localhost:11434
      model: nomic-embed-text
      dimensions: 768
vector:
  backend: sqlite
  path: /tmp/vectors.db
chunking:
  strategy: markdown
  size: 800
  overlap: 100
storage:
  backend: minio
  bucket: snaps
  minio_endpoint: localhost:9000
logging:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "X-Caller", cfg.Auth.IdentityHeader)
	require.Equal(t, 6, cfg.Crawler.Concurrency)
	require.Equal(t, 25, cfg.Crawler.MaxPagesLimit)
	require.Equal(t, 10*time.Second, cfg.Crawler.Timeouts.Single)
	require.Equal(t, "redis", cfg.RateLimit.Backend)
	require.Equal(t, 2, cfg.CrawlQuotas()[crawler.ModeDeep])
	require.Equal(t, []string{"ops@example.com"}, cfg.RateLimit.AdminEmails)
	require.Equal(t, "ollama", cfg.Embedding.Providers["local"].Kind)
	require.Equal(t, 768, cfg.Embedding.Providers["local"].Dimensions)
	require.Equal(t, "sqlite", cfg.Vector.Backend)
	require.Equal(t, "markdown", cfg.Chunking.Strategy)
	require.Equal(t, "minio", cfg.Storage.Backend)
	require.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RAGCRAWLER_SERVER_PORT", "7070")
	t.Setenv("RAGCRAWLER_RATELIMIT_BACKEND", "disabled")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "disabled", cfg.RateLimit.Backend)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"port":             func(c *Config) { c.Server.Port = 0 },
		"auth key":         func(c *Config) { c.Auth.Enabled = true },
		"concurrency":      func(c *Config) { c.Crawler.Concurrency = 0 },
		"max pages limit":  func(c *Config) { c.Crawler.MaxPagesLimit = 0 },
		"timeouts":         func(c *Config) { c.Crawler.Timeouts.Deep = 0 },
		"redis url":        func(c *Config) { c.RateLimit.Backend = "redis" },
		"ratelimit kind":   func(c *Config) { c.RateLimit.Backend = "etcd" },
		"crawl quota mode": func(c *Config) { c.RateLimit.CrawlPerHour = map[string]int{"everything": 1} },
		"provider kind": func(c *Config) {
			c.Embedding.Providers = map[string]ProviderConfig{"x": {Kind: "cohere", Model: "m"}}
			c.Embedding.Default = "x"
		},
		"default provider": func(c *Config) {
			c.Embedding.Providers = map[string]ProviderConfig{"x": {Kind: "openai", Model: "m"}}
			c.Embedding.Default = "y"
		},
		"vector backend": func(c *Config) { c.Vector.Backend = "pinecone" },
		"overlap":        func(c *Config) { c.Chunking.Overlap = c.Chunking.Size },
		"gcs bucket":     func(c *Config) { c.Storage.Backend = "gcs" },
		"storage":        func(c *Config) { c.Storage.Backend = "s3" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.RateLimit.CrawlPerHour = map[string]int{"deep": 5}
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
