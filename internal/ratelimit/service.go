// Package ratelimit enforces per-identity request budgets over an hourly and
// a per-minute window with a pluggable counting backend.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/metrics"
	"github.com/JakeFAU/rag-crawler/internal/store"
)

// ErrClosed is returned by checks made after Close.
var ErrClosed = errors.New("rate limiter closed")

// BypassBudget is the remaining budget reported for bypassed callers.
const BypassBudget = math.MaxInt32

// Bypass reasons.
const (
	BypassAdmin     = "admin"
	BypassEmergency = "emergency"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Options configures a Service.
type Options struct {
	PerMinute           int
	PerHour             int
	CrawlPerHour        map[crawler.Mode]int
	AdminEmails         []string
	EmergencyIdentities []string
	Directory           Directory
	Clock               Clock
	// SweepInterval starts the memory backend sweeper when positive.
	SweepInterval time.Duration
}

// Status is the outcome of a check.
type Status struct {
	Allowed         bool   `json:"allowed"`
	Remaining       int    `json:"remaining"`
	HourlyRemaining int    `json:"hourlyRemaining"`
	ResetTime       int64  `json:"resetTime"`
	RetryAfter      int    `json:"retryAfter,omitempty"`
	Backend         string `json:"backend"`
	Degraded        bool   `json:"degraded,omitempty"`
	Bypass          string `json:"bypass,omitempty"`
}

// Service applies budgets through a Backend chosen at startup.
type Service struct {
	backend   Backend
	opts      Options
	admins    map[string]struct{}
	emergency map[string]struct{}
	logger    *zap.Logger

	mu          sync.RWMutex
	closed      bool
	stopSweeper context.CancelFunc
	sweeperDone <-chan struct{}
}

// NewService builds a Service. The memory backend sweeper starts here and
// stops on Close.
func NewService(backend Backend, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if backend == nil {
		backend = DisabledBackend{}
	}
	s := &Service{
		backend:   backend,
		opts:      opts,
		admins:    toSet(opts.AdminEmails, true),
		emergency: toSet(opts.EmergencyIdentities, false),
		logger:    logger.Named("ratelimit"),
	}
	if mem, ok := backend.(*MemoryBackend); ok && opts.SweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopSweeper = cancel
		s.sweeperDone = mem.StartSweeper(ctx, opts.SweepInterval, opts.Clock)
	}
	return s
}

// Backend returns the backend name.
func (s *Service) Backend() string {
	return s.backend.Name()
}

// Check evaluates the general hourly and per-minute budgets for identity.
// The hourly window is evaluated first; an hour-denied call does not touch
// the minute window.
func (s *Service) Check(ctx context.Context, identity string) (Status, error) {
	if err := s.ensureOpen(); err != nil {
		return Status{}, err
	}
	if status, ok := s.bypass(ctx, identity); ok {
		return status, nil
	}
	now := s.opts.Clock.Now()

	hourCount, hourStart, err := s.backend.Incr(ctx, identity, time.Hour, now)
	if err != nil {
		return s.failOpen(identity, err), nil
	}
	hourRemaining := remaining(s.opts.PerHour, hourCount)
	if hourCount > int64(s.opts.PerHour) {
		return s.deny(now, hourStart, time.Hour, 0, hourRemaining), nil
	}

	minCount, minStart, err := s.backend.Incr(ctx, identity, time.Minute, now)
	if err != nil {
		return s.failOpen(identity, err), nil
	}
	minRemaining := remaining(s.opts.PerMinute, minCount)
	if minCount > int64(s.opts.PerMinute) {
		return s.deny(now, minStart, time.Minute, minRemaining, hourRemaining), nil
	}

	metrics.ObserveRateLimit(s.backend.Name(), "allowed")
	return Status{
		Allowed:         true,
		Remaining:       minRemaining,
		HourlyRemaining: hourRemaining,
		ResetTime:       minStart.Add(time.Minute).Unix(),
		Backend:         s.backend.Name(),
	}, nil
}

// CheckCrawl evaluates the hour-only crawl budget for (identity, mode).
// Modes without a configured quota use the general hourly budget.
func (s *Service) CheckCrawl(ctx context.Context, identity string, mode crawler.Mode) (Status, error) {
	if err := s.ensureOpen(); err != nil {
		return Status{}, err
	}
	if status, ok := s.bypass(ctx, identity); ok {
		return status, nil
	}
	limit := s.opts.CrawlPerHour[mode]
	if limit <= 0 {
		limit = s.opts.PerHour
	}
	now := s.opts.Clock.Now()
	key := identity + "|crawl:" + string(mode)

	count, start, err := s.backend.Incr(ctx, key, time.Hour, now)
	if err != nil {
		return s.failOpen(key, err), nil
	}
	left := remaining(limit, count)
	if count > int64(limit) {
		return s.deny(now, start, time.Hour, left, left), nil
	}
	metrics.ObserveRateLimit(s.backend.Name(), "allowed")
	return Status{
		Allowed:         true,
		Remaining:       left,
		HourlyRemaining: left,
		ResetTime:       start.Add(time.Hour).Unix(),
		Backend:         s.backend.Name(),
	}, nil
}

func (s *Service) bypass(ctx context.Context, identity string) (Status, bool) {
	reason := ""
	if s.opts.Directory != nil {
		email, err := s.opts.Directory.ResolveEmail(ctx, identity)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.logger.Debug("identity not in directory", zap.String("identity", identity))
		case err != nil:
			s.logger.Warn("identity resolution degraded; applying standard limits",
				zap.String("identity", identity), zap.Error(err))
		default:
			if _, ok := s.admins[strings.ToLower(email)]; ok {
				reason = BypassAdmin
			}
		}
	}
	if reason == "" {
		if _, ok := s.emergency[identity]; ok {
			reason = BypassEmergency
		}
	}
	if reason == "" {
		return Status{}, false
	}
	metrics.ObserveRateLimit(s.backend.Name(), "bypass")
	return Status{
		Allowed:         true,
		Remaining:       BypassBudget,
		HourlyRemaining: BypassBudget,
		ResetTime:       s.opts.Clock.Now().Add(time.Hour).Unix(),
		Backend:         s.backend.Name(),
		Bypass:          reason,
	}, true
}

func (s *Service) deny(now, start time.Time, window time.Duration, minuteLeft, hourLeft int) Status {
	end := start.Add(window)
	retry := int(math.Ceil(end.Sub(now).Seconds()))
	if retry < 1 {
		retry = 1
	}
	metrics.ObserveRateLimit(s.backend.Name(), "denied")
	return Status{
		Allowed:         false,
		Remaining:       minuteLeft,
		HourlyRemaining: hourLeft,
		ResetTime:       end.Unix(),
		RetryAfter:      retry,
		Backend:         s.backend.Name(),
	}
}

func (s *Service) failOpen(key string, err error) Status {
	s.logger.Error("rate limit backend unavailable; failing open",
		zap.String("backend", s.backend.Name()),
		zap.String("key", key),
		zap.Error(err))
	metrics.ObserveRateLimit(s.backend.Name(), "degraded")
	return Status{
		Allowed:         true,
		Remaining:       s.opts.PerMinute,
		HourlyRemaining: s.opts.PerHour,
		ResetTime:       s.opts.Clock.Now().Add(time.Minute).Unix(),
		Backend:         s.backend.Name(),
		Degraded:        true,
	}
}

func (s *Service) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the sweeper and closes the backend. It is safe to call twice.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopSweeper, s.sweeperDone
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	return s.backend.Close()
}

func remaining(limit int, count int64) int {
	left := int64(limit) - count
	if left < 0 {
		return 0
	}
	return int(left)
}

func toSet(values []string, lower bool) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
