package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend counts in Redis buckets shared by every instance.
type RedisBackend struct {
	opts   *redis.Options
	prefix string

	once   sync.Once
	mu     sync.Mutex
	client *redis.Client
	closed bool
}

// NewRedisBackend parses url eagerly; the connection opens on first use.
func NewRedisBackend(url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 || opts.DialTimeout > 2*time.Second {
		opts.DialTimeout = 2 * time.Second
	}
	if prefix == "" {
		prefix = "ragcrawler:rl"
	}
	return &RedisBackend{opts: opts, prefix: prefix}, nil
}

// Incr increments and expires the bucket in one transaction.
func (r *RedisBackend) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	client, err := r.conn()
	if err != nil {
		return 0, time.Time{}, err
	}
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	bucket := now.Unix() / secs
	redisKey := fmt.Sprintf("%s:%s:%d:%d", r.prefix, key, secs, bucket)

	pipe := client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: %w", redisKey, err)
	}
	return incr.Val(), time.Unix(bucket*secs, 0).UTC(), nil
}

func (r *RedisBackend) conn() (*redis.Client, error) {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.closed {
			r.client = redis.NewClient(r.opts)
		}
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.client == nil {
		return nil, fmt.Errorf("redis backend closed")
	}
	return r.client, nil
}

// Name returns "redis".
func (r *RedisBackend) Name() string { return BackendRedis }

// Close closes the client if it was opened.
func (r *RedisBackend) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
