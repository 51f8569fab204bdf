package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/rag-crawler/internal/store"
)

// URLConfigStore implements store.Repository in memory.
type URLConfigStore struct {
	mu      sync.RWMutex
	configs map[string]store.URLConfig
	now     func() time.Time
}

// NewURLConfigStore constructs an empty URLConfigStore.
func NewURLConfigStore() *URLConfigStore {
	return &URLConfigStore{
		configs: make(map[string]store.URLConfig),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores cfg in pending state.
func (s *URLConfigStore) Create(_ context.Context, cfg store.URLConfig) (store.URLConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		return store.URLConfig{}, fmt.Errorf("url config id is required")
	}
	if _, exists := s.configs[cfg.ID]; exists {
		return store.URLConfig{}, fmt.Errorf("url config %s already exists", cfg.ID)
	}
	now := s.now()
	cfg.CrawlStatus = store.StatusPending
	cfg.PagesIndexed = 0
	cfg.ErrorMessage = nil
	cfg.LastCrawled = nil
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

// Get returns the config or store.ErrNotFound.
func (s *URLConfigStore) Get(_ context.Context, id string) (store.URLConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return store.URLConfig{}, store.ErrNotFound
	}
	return cfg, nil
}

// List returns configs ordered by creation time then ID.
func (s *URLConfigStore) List(_ context.Context, filter store.ListFilter) ([]store.URLConfig, error) {
	s.mu.RLock()
	out := make([]store.URLConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		if filter.Namespace != "" && cfg.Namespace != filter.Namespace {
			continue
		}
		out = append(out, cfg)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []store.URLConfig{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Update applies patch unless a crawl is running.
func (s *URLConfigStore) Update(_ context.Context, id string, patch store.Patch) (store.URLConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return store.URLConfig{}, store.ErrNotFound
	}
	if cfg.CrawlStatus == store.StatusInProgress {
		return store.URLConfig{}, store.ErrInProgress
	}
	patch.Apply(&cfg)
	cfg.UpdatedAt = s.now()
	s.configs[id] = cfg
	return cfg, nil
}

// Delete removes the config unless a crawl is running.
func (s *URLConfigStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return store.ErrNotFound
	}
	if cfg.CrawlStatus == store.StatusInProgress {
		return store.ErrInProgress
	}
	delete(s.configs, id)
	return nil
}

// BeginCrawl moves an active, idle config to in_progress and clears the
// previous run's error.
func (s *URLConfigStore) BeginCrawl(_ context.Context, id string) (store.BeginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return "", store.ErrNotFound
	}
	switch {
	case !cfg.IsActive:
		return store.BeginInactive, nil
	case cfg.CrawlStatus == store.StatusInProgress:
		return store.BeginAlreadyInProgress, nil
	}
	cfg.CrawlStatus = store.StatusInProgress
	cfg.ErrorMessage = nil
	cfg.UpdatedAt = s.now()
	s.configs[id] = cfg
	return store.BeginOK, nil
}

// CompleteCrawl writes the classified outcome.
func (s *URLConfigStore) CompleteCrawl(_ context.Context, id string, outcome store.Outcome) (store.URLConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return store.URLConfig{}, store.ErrNotFound
	}
	now := s.now()
	cfg.CrawlStatus = outcome.Classify()
	cfg.PagesIndexed = outcome.PagesIndexed()
	cfg.ErrorMessage = outcome.ErrorMessage()
	cfg.LastCrawled = &now
	cfg.UpdatedAt = now
	s.configs[id] = cfg
	return cfg, nil
}
