package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/rag-crawler/internal/crawler"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInProgress rejects edits and deletes while a crawl is running.
	ErrInProgress = errors.New("crawl in progress")
)

// Status is the crawl state of a URL config.
type Status string

// Crawl statuses.
const (
	StatusPending        Status = "pending"
	StatusInProgress     Status = "in_progress"
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
)

// URLConfig is one admin-registered seed URL and its last crawl outcome.
type URLConfig struct {
	ID           string              `json:"id"`
	URL          string              `json:"url"`
	Namespace    string              `json:"namespace"`
	CrawlConfig  crawler.CrawlConfig `json:"crawlConfig"`
	IsActive     bool                `json:"isActive"`
	CrawlStatus  Status              `json:"crawlStatus"`
	PagesIndexed int                 `json:"pagesIndexed"`
	ErrorMessage *string             `json:"errorMessage,omitempty"`
	LastCrawled  *time.Time          `json:"lastCrawled,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Patch holds the editable fields; nil means unchanged.
type Patch struct {
	URL         *string              `json:"url,omitempty"`
	Namespace   *string              `json:"namespace,omitempty"`
	CrawlConfig *crawler.CrawlConfig `json:"crawlConfig,omitempty"`
	IsActive    *bool                `json:"isActive,omitempty"`
}

// Apply copies the set fields onto cfg.
func (p Patch) Apply(cfg *URLConfig) {
	if p.URL != nil {
		cfg.URL = *p.URL
	}
	if p.Namespace != nil {
		cfg.Namespace = *p.Namespace
	}
	if p.CrawlConfig != nil {
		cfg.CrawlConfig = *p.CrawlConfig
	}
	if p.IsActive != nil {
		cfg.IsActive = *p.IsActive
	}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.URL == nil && p.Namespace == nil && p.CrawlConfig == nil && p.IsActive == nil
}

// BeginResult is the outcome of trying to start a crawl.
type BeginResult string

// Begin results.
const (
	BeginOK                BeginResult = "ok"
	BeginAlreadyInProgress BeginResult = "already_in_progress"
	BeginInactive          BeginResult = "inactive"
)

// ListFilter narrows List results. Zero Limit means no limit.
type ListFilter struct {
	Namespace string
	Limit     int
	Offset    int
}

// Outcome summarises a finished crawl for CompleteCrawl.
type Outcome struct {
	PagesProcessed int
	FailedPages    int
	Errors         []string
	// TimedOut marks a crawl cut short by its deadline.
	TimedOut bool
	// Err is a crawl-level failure (invalid seed, pipeline misconfiguration).
	Err error
}

// Classify maps the outcome to a terminal status.
func (o Outcome) Classify() Status {
	switch {
	case o.Err != nil, o.PagesProcessed == 0:
		return StatusFailed
	case o.FailedPages > 0, o.TimedOut:
		return StatusPartialSuccess
	default:
		return StatusSuccess
	}
}

// PagesIndexed is PagesProcessed, or 0 when the crawl failed.
func (o Outcome) PagesIndexed() int {
	if o.Classify() == StatusFailed {
		return 0
	}
	return o.PagesProcessed
}

// ErrorMessage returns the condensed error text, or nil on success.
func (o Outcome) ErrorMessage() *string {
	errs := o.Errors
	if o.Err != nil {
		errs = append([]string{o.Err.Error()}, errs...)
	}
	status := o.Classify()
	if status == StatusSuccess {
		return nil
	}
	if len(errs) == 0 && status == StatusFailed {
		errs = []string{"no pages were indexed"}
	}
	if len(errs) == 0 && o.TimedOut {
		errs = []string{"crawl timed out"}
	}
	msg := CondenseErrors(errs)
	if msg == "" {
		return nil
	}
	return &msg
}

const (
	maxListedErrors  = 3
	maxErrorMsgRunes = 500
)

// CondenseErrors keeps the first few errors, notes how many were dropped,
// and truncates the result.
func CondenseErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	shown := errs
	if len(shown) > maxListedErrors {
		shown = shown[:maxListedErrors]
	}
	msg := strings.Join(shown, "; ")
	if extra := len(errs) - len(shown); extra > 0 {
		msg += fmt.Sprintf(" (+%d more)", extra)
	}
	if runes := []rune(msg); len(runes) > maxErrorMsgRunes {
		msg = string(runes[:maxErrorMsgRunes-1]) + "…"
	}
	return msg
}
