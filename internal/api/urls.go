package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/ratelimit"
	"github.com/JakeFAU/rag-crawler/internal/store"
)

type createURLConfigRequest struct {
	URL         string          `json:"url"`
	Namespace   string          `json:"namespace"`
	CrawlConfig json.RawMessage `json:"crawlConfig"`
	IsActive    *bool           `json:"isActive,omitempty"`
}

type updateURLConfigRequest struct {
	URL         *string         `json:"url,omitempty"`
	Namespace   *string         `json:"namespace,omitempty"`
	CrawlConfig json.RawMessage `json:"crawlConfig,omitempty"`
	IsActive    *bool           `json:"isActive,omitempty"`
}

type triggerResponse struct {
	Status      string `json:"status"`
	URLConfigID string `json:"urlConfigId"`
}

const maxListLimit = 500

func (s *Server) createURLConfig(w http.ResponseWriter, r *http.Request) {
	var req createURLConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := crawler.ParseSeed(req.URL); err != nil {
		s.writeError(w, apperr.InvalidInput("invalid url: %v", err))
		return
	}
	if strings.TrimSpace(req.Namespace) == "" {
		s.writeError(w, apperr.InvalidInput("namespace is required"))
		return
	}
	if len(req.CrawlConfig) == 0 {
		s.writeError(w, apperr.InvalidInput("crawlConfig is required"))
		return
	}
	crawlCfg, err := crawler.ParseCrawlConfig(req.CrawlConfig, s.cfg.Crawler.MaxPagesLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.writeError(w, apperr.Internal("generate id", err))
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	created, err := s.deps.Repo.Create(r.Context(), store.URLConfig{
		ID:          id,
		URL:         strings.TrimSpace(req.URL),
		Namespace:   strings.TrimSpace(req.Namespace),
		CrawlConfig: crawlCfg,
		IsActive:    active,
	})
	if err != nil {
		s.writeError(w, apperr.Internal("create url config", err))
		return
	}
	s.logger.Info("url config created", zap.String("id", created.ID), zap.String("url", created.URL))
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listURLConfigs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{Namespace: q.Get("namespace")}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit"), 0, maxListLimit); err != nil {
		s.writeError(w, apperr.InvalidInput("limit: %v", err))
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset"), 0, -1); err != nil {
		s.writeError(w, apperr.InvalidInput("offset: %v", err))
		return
	}
	configs, err := s.deps.Repo.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, apperr.Internal("list url configs", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"urlConfigs": configs})
}

func (s *Server) getURLConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) updateURLConfig(w http.ResponseWriter, r *http.Request) {
	var req updateURLConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	patch := store.Patch{Namespace: req.Namespace, IsActive: req.IsActive}
	if req.URL != nil {
		if _, err := crawler.ParseSeed(*req.URL); err != nil {
			s.writeError(w, apperr.InvalidInput("invalid url: %v", err))
			return
		}
		u := strings.TrimSpace(*req.URL)
		patch.URL = &u
	}
	if req.Namespace != nil && strings.TrimSpace(*req.Namespace) == "" {
		s.writeError(w, apperr.InvalidInput("namespace must not be empty"))
		return
	}
	if len(req.CrawlConfig) > 0 {
		crawlCfg, err := crawler.ParseCrawlConfig(req.CrawlConfig, s.cfg.Crawler.MaxPagesLimit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		patch.CrawlConfig = &crawlCfg
	}
	if patch.Empty() {
		s.writeError(w, apperr.InvalidInput("no fields to update"))
		return
	}
	updated, err := s.deps.Repo.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteURLConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// triggerCrawl checks the caller's crawl budget, moves the config to
// in_progress and queues it for a worker.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	cfg, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// No-op outcomes are answered before the crawl budget is charged.
	// BeginCrawl stays the authoritative guard.
	switch {
	case !cfg.IsActive:
		s.writeBegin(w, id, store.BeginInactive)
		return
	case cfg.CrawlStatus == store.StatusInProgress:
		s.writeBegin(w, id, store.BeginAlreadyInProgress)
		return
	}
	if _, ok := s.checkCrawl(w, r, cfg.CrawlConfig.Mode); !ok {
		return
	}

	begin, err := s.deps.Repo.BeginCrawl(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if begin != store.BeginOK {
		s.writeBegin(w, id, begin)
		return
	}

	item := crawler.QueueItem{URLConfigID: id, Identity: identity(ctx), Submitted: s.now().Unix()}
	if err := s.deps.Queue.TryEnqueue(item); err != nil {
		s.logger.Warn("crawl queue rejected item", zap.String("id", id), zap.Error(err))
		if _, cerr := s.deps.Repo.CompleteCrawl(ctx, id, store.Outcome{Err: errors.New("crawl queue unavailable: " + err.Error())}); cerr != nil {
			s.logger.Error("record rejected crawl failed", zap.String("id", id), zap.Error(cerr))
		}
		s.writeError(w, apperr.New(apperr.CodeUnavailable, "crawl queue is full, try again later", err))
		return
	}
	s.logger.Info("crawl queued", zap.String("id", id), zap.String("identity", item.Identity))
	s.writeJSON(w, http.StatusAccepted, triggerResponse{Status: "started", URLConfigID: id})
}

func (s *Server) writeBegin(w http.ResponseWriter, id string, begin store.BeginResult) {
	if begin == store.BeginInactive {
		s.writeError(w, apperr.New(apperr.CodeConflict, "url config is inactive", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, triggerResponse{Status: string(begin), URLConfigID: id})
}

// rateLimitStatus reports the caller's budget. The check itself counts as a
// request, and a denied status is still returned with 200.
func (s *Server) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limiter == nil {
		s.writeJSON(w, http.StatusOK, ratelimit.Status{Allowed: true, Backend: ratelimit.BackendDisabled})
		return
	}
	status, err := s.deps.Limiter.Check(r.Context(), identity(r.Context()))
	if err != nil {
		s.writeError(w, apperr.New(apperr.CodeUnavailable, "rate limiter unavailable", err))
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// queryInt parses an optional non-negative integer. limit < 0 means unbounded.
func queryInt(raw string, def, limit int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	if limit >= 0 && n > limit {
		return 0, errors.New("must be at most " + strconv.Itoa(limit))
	}
	return n, nil
}
