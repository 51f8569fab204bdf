package crawler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
)

// Mode selects the traversal policy for a crawl.
type Mode string

// Crawl modes.
const (
	ModeSingle  Mode = "single"
	ModeLimited Mode = "limited"
	ModeDeep    Mode = "deep"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeSingle, ModeLimited, ModeDeep}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeLimited, ModeDeep:
		return true
	default:
		return false
	}
}

// DefaultMaxPagesLimit is the upper bound for limited crawls.
const DefaultMaxPagesLimit = 50

// CrawlConfig is the admin-selected traversal policy for a URL.
type CrawlConfig struct {
	Mode     Mode `json:"mode"`
	MaxPages *int `json:"maxPages,omitempty"`
	MaxDepth *int `json:"maxDepth,omitempty"`
}

// ParseCrawlConfig decodes a config document, rejecting unknown fields, and validates it.
func ParseCrawlConfig(data []byte, maxPagesLimit int) (CrawlConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg CrawlConfig
	if err := dec.Decode(&cfg); err != nil {
		return CrawlConfig{}, apperr.InvalidInput("invalid crawl config: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return CrawlConfig{}, apperr.InvalidInput("invalid crawl config: trailing data")
	}
	if err := cfg.Validate(maxPagesLimit); err != nil {
		return CrawlConfig{}, err
	}
	return cfg, nil
}

// Validate enforces the per-mode field rules. A non-positive limit falls back to DefaultMaxPagesLimit.
func (c CrawlConfig) Validate(maxPagesLimit int) error {
	if maxPagesLimit <= 0 {
		maxPagesLimit = DefaultMaxPagesLimit
	}
	switch c.Mode {
	case ModeSingle:
		if c.MaxPages != nil || c.MaxDepth != nil {
			return apperr.InvalidInput("single mode does not accept maxPages or maxDepth")
		}
	case ModeLimited:
		if c.MaxDepth != nil {
			return apperr.InvalidInput("limited mode does not accept maxDepth")
		}
		if c.MaxPages == nil {
			return apperr.InvalidInput("limited mode requires maxPages")
		}
		if *c.MaxPages < 1 || *c.MaxPages > maxPagesLimit {
			return apperr.InvalidInput("maxPages must be between 1 and %d, got %d", maxPagesLimit, *c.MaxPages)
		}
	case ModeDeep:
		if c.MaxPages != nil {
			return apperr.InvalidInput("deep mode does not accept maxPages")
		}
		if c.MaxDepth == nil {
			return apperr.InvalidInput("deep mode requires maxDepth")
		}
		if *c.MaxDepth != 2 && *c.MaxDepth != 3 {
			return apperr.InvalidInput("maxDepth must be 2 or 3, got %d", *c.MaxDepth)
		}
	default:
		return apperr.InvalidInput("mode must be one of single, limited, deep, got %q", c.Mode)
	}
	return nil
}

// PageCap returns the success cap for limited crawls and 0 otherwise.
func (c CrawlConfig) PageCap() int {
	if c.Mode == ModeLimited && c.MaxPages != nil {
		return *c.MaxPages
	}
	return 0
}

// DepthCap returns the hop limit for deep crawls and 0 otherwise.
func (c CrawlConfig) DepthCap() int {
	if c.Mode == ModeDeep && c.MaxDepth != nil {
		return *c.MaxDepth
	}
	return 0
}

// Single returns a single-page config.
func Single() CrawlConfig {
	return CrawlConfig{Mode: ModeSingle}
}

// Limited returns a limited config capped at maxPages successes.
func Limited(maxPages int) CrawlConfig {
	return CrawlConfig{Mode: ModeLimited, MaxPages: &maxPages}
}

// Deep returns a deep config bounded at maxDepth hops.
func Deep(maxDepth int) CrawlConfig {
	return CrawlConfig{Mode: ModeDeep, MaxDepth: &maxDepth}
}

// Timeouts holds the wall-clock budget per mode.
type Timeouts struct {
	Single  time.Duration
	Limited time.Duration
	Deep    time.Duration
}

// DefaultTimeouts returns the budgets used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Single:  30 * time.Second,
		Limited: 5 * time.Minute,
		Deep:    10 * time.Minute,
	}
}

// For returns the budget for mode, falling back to the defaults.
func (t Timeouts) For(mode Mode) time.Duration {
	def := DefaultTimeouts()
	switch mode {
	case ModeSingle:
		return orDefault(t.Single, def.Single)
	case ModeLimited:
		return orDefault(t.Limited, def.Limited)
	default:
		return orDefault(t.Deep, def.Deep)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
