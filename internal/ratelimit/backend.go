package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Backend names reported in Status.Backend.
const (
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendDisabled = "disabled"
)

// Backend counts requests per key within a fixed window.
type Backend interface {
	// Incr adds one to the counter for key in the window containing now and
	// returns the new count and the start of that window.
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error)
	Name() string
	Close() error
}

// BackendConfig selects a Backend. Mode is auto, redis, memory or disabled.
type BackendConfig struct {
	Mode      string
	RedisURL  string
	KeyPrefix string
}

// NewBackend picks the backend once at startup. In auto mode redis is used
// when a URL is configured, memory otherwise.
func NewBackend(cfg BackendConfig) (Backend, error) {
	mode := cfg.Mode
	if mode == "" || mode == "auto" {
		mode = BackendMemory
		if cfg.RedisURL != "" {
			mode = BackendRedis
		}
	}
	switch mode {
	case BackendRedis:
		return NewRedisBackend(cfg.RedisURL, cfg.KeyPrefix)
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendDisabled:
		return DisabledBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Mode)
	}
}

// DisabledBackend never counts anything.
type DisabledBackend struct{}

// Incr always reports a zero count.
func (DisabledBackend) Incr(_ context.Context, _ string, window time.Duration, now time.Time) (int64, time.Time, error) {
	return 0, windowStart(now, window), nil
}

// Name returns "disabled".
func (DisabledBackend) Name() string { return BackendDisabled }

// Close is a no-op.
func (DisabledBackend) Close() error { return nil }

func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}
