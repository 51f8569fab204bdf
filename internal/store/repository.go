package store

import "context"

// Repository persists URL configs and their crawl state.
type Repository interface {
	// Create inserts cfg with status pending.
	Create(ctx context.Context, cfg URLConfig) (URLConfig, error)
	// Get loads one config or returns ErrNotFound.
	Get(ctx context.Context, id string) (URLConfig, error)
	// List returns configs ordered by creation time.
	List(ctx context.Context, filter ListFilter) ([]URLConfig, error)
	// Update applies patch; ErrInProgress while a crawl runs.
	Update(ctx context.Context, id string, patch Patch) (URLConfig, error)
	// Delete removes a config; ErrInProgress while a crawl runs.
	Delete(ctx context.Context, id string) error
	// BeginCrawl atomically moves an active config to in_progress.
	BeginCrawl(ctx context.Context, id string) (BeginResult, error)
	// CompleteCrawl records the terminal status of the current crawl.
	CompleteCrawl(ctx context.Context, id string, outcome Outcome) (URLConfig, error)
}
