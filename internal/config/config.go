// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/rag-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles and caller identity lookup.
type AuthConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	IdentityHeader string `mapstructure:"identity_header"`
}

// CrawlerConfig governs the crawl orchestrator and the async worker pool.
type CrawlerConfig struct {
	Concurrency     int            `mapstructure:"concurrency"`
	UserAgent       string         `mapstructure:"user_agent"`
	RequestTimeout  time.Duration  `mapstructure:"request_timeout"`
	MaxBodyBytes    int            `mapstructure:"max_body_bytes"`
	Timeouts        TimeoutsConfig `mapstructure:"timeouts"`
	MaxPagesLimit   int            `mapstructure:"max_pages_limit"`
	PolitenessRPS   float64        `mapstructure:"politeness_rps"`
	PolitenessBurst int            `mapstructure:"politeness_burst"`
	MaxRetries      int            `mapstructure:"max_retries"`
	QueueDepth      int            `mapstructure:"queue_depth"`
	Workers         int            `mapstructure:"workers"`
	Snapshot        bool           `mapstructure:"snapshot"`
}

// TimeoutsConfig is the per-mode crawl budget.
type TimeoutsConfig struct {
	Single  time.Duration `mapstructure:"single"`
	Limited time.Duration `mapstructure:"limited"`
	Deep    time.Duration `mapstructure:"deep"`
}

// RateLimitConfig selects the limiter backend and its budgets.
type RateLimitConfig struct {
	Backend             string         `mapstructure:"backend"`
	RedisURL            string         `mapstructure:"redis_url"`
	KeyPrefix           string         `mapstructure:"key_prefix"`
	PerMinute           int            `mapstructure:"per_minute"`
	PerHour             int            `mapstructure:"per_hour"`
	CrawlPerHour        map[string]int `mapstructure:"crawl_per_hour"`
	SweepInterval       time.Duration  `mapstructure:"sweep_interval"`
	AdminEmails         []string       `mapstructure:"admin_emails"`
	EmergencyIdentities []string       `mapstructure:"emergency_identities"`
	// Emails maps identities to emails when no database directory is configured.
	Emails map[string]string `mapstructure:"emails"`
}

// EmbeddingConfig lists the configured embedding providers.
type EmbeddingConfig struct {
	Default   string                    `mapstructure:"default"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes one embedding endpoint.
type ProviderConfig struct {
	Kind        string        `mapstructure:"kind"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Dimensions  int           `mapstructure:"dimensions"`
	Timeout     time.Duration `mapstructure:"timeout"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
}

// VectorConfig selects the vector index.
type VectorConfig struct {
	Backend         string `mapstructure:"backend"`
	Path            string `mapstructure:"path"`
	UpsertBatchSize int    `mapstructure:"upsert_batch_size"`
	DispatchWindow  int    `mapstructure:"dispatch_window"`
}

// ChunkingConfig controls how page content is split.
type ChunkingConfig struct {
	Strategy string `mapstructure:"strategy"`
	Size     int    `mapstructure:"size"`
	Overlap  int    `mapstructure:"overlap"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	UsersTable string `mapstructure:"users_table"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
}

// StorageConfig sets where page snapshots are written.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	BaseDir        string `mapstructure:"base_dir"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`
}

// PubSubConfig holds metadata for crawl completion events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RAGCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "11m")
	v.SetDefault("auth.identity_header", "X-User-ID")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "rag-crawler/0.1")
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.timeouts.single", "30s")
	v.SetDefault("crawler.timeouts.limited", "5m")
	v.SetDefault("crawler.timeouts.deep", "10m")
	v.SetDefault("crawler.max_pages_limit", crawler.DefaultMaxPagesLimit)
	v.SetDefault("crawler.politeness_rps", 2.0)
	v.SetDefault("crawler.politeness_burst", 1)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.snapshot", false)
	v.SetDefault("ratelimit.backend", "auto")
	v.SetDefault("ratelimit.key_prefix", "ragcrawler:rl")
	v.SetDefault("ratelimit.per_minute", 5)
	v.SetDefault("ratelimit.per_hour", 20)
	v.SetDefault("ratelimit.crawl_per_hour", map[string]int{
		string(crawler.ModeSingle):  60,
		string(crawler.ModeLimited): 20,
		string(crawler.ModeDeep):    5,
	})
	v.SetDefault("ratelimit.sweep_interval", "5m")
	v.SetDefault("embedding.default", "openai")
	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.path", "ragcrawler.db")
	v.SetDefault("vector.upsert_batch_size", 100)
	v.SetDefault("vector.dispatch_window", 4)
	v.SetDefault("chunking.strategy", "recursive")
	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)
	v.SetDefault("database.table", "rag_url_configs")
	v.SetDefault("database.users_table", "users")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("pubsub.topic_name", "crawl-completed")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate ensures the loaded configuration has sane values.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxPagesLimit <= 0 {
		return fmt.Errorf("crawler.max_pages_limit must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.Timeouts.Single <= 0 || c.Crawler.Timeouts.Limited <= 0 || c.Crawler.Timeouts.Deep <= 0 {
		return fmt.Errorf("crawler.timeouts must all be > 0")
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateEmbedding(); err != nil {
		return err
	}
	switch c.Vector.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("vector.backend must be memory or sqlite, got %q", c.Vector.Backend)
	}
	if c.Vector.UpsertBatchSize <= 0 || c.Vector.DispatchWindow <= 0 {
		return fmt.Errorf("vector.upsert_batch_size and vector.dispatch_window must be > 0")
	}
	switch c.Chunking.Strategy {
	case "recursive", "markdown":
	default:
		return fmt.Errorf("chunking.strategy must be recursive or markdown, got %q", c.Chunking.Strategy)
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be > 0")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, chunking.size)")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for gcs")
		}
	case "minio":
		if c.Storage.Bucket == "" || c.Storage.MinioEndpoint == "" {
			return fmt.Errorf("storage.bucket and storage.minio_endpoint must be set for minio")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local, gcs or minio, got %q", c.Storage.Backend)
	}
	return nil
}

func (c Config) validateRateLimit() error {
	switch c.RateLimit.Backend {
	case "auto", "memory", "disabled":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("ratelimit.redis_url must be set for the redis backend")
		}
	default:
		return fmt.Errorf("ratelimit.backend must be auto, redis, memory or disabled, got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0 {
		return fmt.Errorf("ratelimit.per_minute and ratelimit.per_hour must be > 0")
	}
	for mode, limit := range c.RateLimit.CrawlPerHour {
		if !crawler.Mode(mode).Valid() {
			return fmt.Errorf("ratelimit.crawl_per_hour has unknown mode %q", mode)
		}
		if limit <= 0 {
			return fmt.Errorf("ratelimit.crawl_per_hour.%s must be > 0", mode)
		}
	}
	return nil
}

func (c Config) validateEmbedding() error {
	for name, p := range c.Embedding.Providers {
		switch p.Kind {
		case "openai", "ollama":
		default:
			return fmt.Errorf("embedding.providers.%s.kind must be openai or ollama, got %q", name, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("embedding.providers.%s.model must be set", name)
		}
	}
	if len(c.Embedding.Providers) > 0 {
		if _, ok := c.Embedding.Providers[c.Embedding.Default]; !ok {
			return fmt.Errorf("embedding.default %q is not a configured provider", c.Embedding.Default)
		}
	}
	return nil
}

// CrawlTimeouts converts the per-mode budgets into crawler.Timeouts.
func (c Config) CrawlTimeouts() crawler.Timeouts {
	return crawler.Timeouts{
		Single:  c.Crawler.Timeouts.Single,
		Limited: c.Crawler.Timeouts.Limited,
		Deep:    c.Crawler.Timeouts.Deep,
	}
}

// CrawlQuotas returns the per-mode hourly crawl quotas keyed by crawler.Mode.
func (c Config) CrawlQuotas() map[crawler.Mode]int {
	out := make(map[crawler.Mode]int, len(c.RateLimit.CrawlPerHour))
	for mode, limit := range c.RateLimit.CrawlPerHour {
		out[crawler.Mode(mode)] = limit
	}
	return out
}
