package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/embedding"
	"github.com/JakeFAU/rag-crawler/internal/ingest"
	"github.com/JakeFAU/rag-crawler/internal/ratelimit"
)

type crawlRequest struct {
	URL               string          `json:"url"`
	CrawlConfig       json.RawMessage `json:"crawlConfig"`
	EmbeddingProvider string          `json:"embeddingProvider,omitempty"`
	Namespace         string          `json:"namespace,omitempty"`
}

type crawlResponse struct {
	Pages         []crawler.Page      `json:"pages"`
	CrawlStats    crawler.Stats       `json:"crawlStats"`
	CrawlConfig   crawler.CrawlConfig `json:"crawlConfig"`
	Namespace     string              `json:"namespace,omitempty"`
	ChunksIndexed int                 `json:"chunksIndexed"`
	Warning       string              `json:"warning,omitempty"`
}

// adHocCrawl runs a crawl inline and returns its pages. Nothing is stored
// unless a namespace is given.
func (s *Server) adHocCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, apperr.InvalidInput("url is required"))
		return
	}
	if len(req.CrawlConfig) == 0 {
		s.writeError(w, apperr.InvalidInput("crawlConfig is required"))
		return
	}
	cfg, err := crawler.ParseCrawlConfig(req.CrawlConfig, s.cfg.Crawler.MaxPagesLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := crawler.ParseSeed(req.URL); err != nil {
		s.writeError(w, apperr.InvalidInput("invalid url: %v", err))
		return
	}

	var provider embedding.Provider
	if req.Namespace != "" || req.EmbeddingProvider != "" {
		if s.deps.Providers == nil {
			s.writeError(w, apperr.Configuration("no embedding providers configured", nil))
			return
		}
		if provider, err = s.deps.Providers.Get(req.EmbeddingProvider); err != nil {
			s.writeError(w, err)
			return
		}
	}

	limit, ok := s.checkCrawl(w, r, cfg.Mode)
	if !ok {
		return
	}

	pipeline := ingest.New(s.deps.Processor, provider, req.Namespace, s.logger)
	result, err := s.deps.Crawler.Crawl(r.Context(), req.URL, cfg, pipeline)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if result.Stats.PagesProcessed == 0 {
		s.writeError(w, zeroPageError(req.URL, result.Stats))
		return
	}

	chunks, _ := pipeline.Totals()
	if !pipeline.Indexing() {
		chunks = 0
	}
	pages := result.Pages
	if pages == nil {
		pages = []crawler.Page{}
	}
	s.writeJSON(w, http.StatusOK, crawlResponse{
		Pages:         pages,
		CrawlStats:    result.Stats,
		CrawlConfig:   cfg,
		Namespace:     req.Namespace,
		ChunksIndexed: chunks,
		Warning:       crawlWarning(result.Stats, limit),
	})
}

// checkCrawl applies the per-mode crawl budget on top of the request budget.
func (s *Server) checkCrawl(w http.ResponseWriter, r *http.Request, mode crawler.Mode) (ratelimit.Status, bool) {
	if s.deps.Limiter == nil {
		return ratelimit.Status{Allowed: true, Backend: ratelimit.BackendDisabled}, true
	}
	status, err := s.deps.Limiter.CheckCrawl(r.Context(), identity(r.Context()), mode)
	if err != nil {
		s.writeError(w, apperr.New(apperr.CodeUnavailable, "rate limiter unavailable", err))
		return status, false
	}
	return status, s.applyRateLimit(w, status)
}

// zeroPageError classifies a crawl where nothing succeeded.
func zeroPageError(seed string, stats crawler.Stats) error {
	if stats.TimedOut {
		return apperr.New(apperr.CodeTimeout, fmt.Sprintf("crawl of %s timed out before any page succeeded", seed), nil)
	}
	for _, fp := range stats.FailedPages {
		for _, code := range []apperr.Code{apperr.CodeExternalService, apperr.CodeConfiguration, apperr.CodeInvalidInput} {
			if strings.HasPrefix(fp.Error, string(code)+":") {
				return apperr.New(code, "no pages were indexed: "+fp.Error, nil)
			}
		}
	}
	msg := fmt.Sprintf("no pages could be crawled from %s", seed)
	if len(stats.Errors) > 0 {
		msg += ": " + stats.Errors[0]
	}
	return apperr.External(msg, nil)
}

func crawlWarning(stats crawler.Stats, limit ratelimit.Status) string {
	var parts []string
	if stats.TimedOut {
		parts = append(parts, "crawl timed out; partial results returned")
	}
	if n := len(stats.FailedPages); n > 0 {
		parts = append(parts, fmt.Sprintf("%d of %d pages failed", n, n+stats.PagesProcessed))
	}
	switch {
	case limit.Backend == ratelimit.BackendDisabled:
		parts = append(parts, "rate limiting is disabled")
	case limit.Degraded:
		parts = append(parts, "rate limiting is degraded")
	}
	return strings.Join(parts, "; ")
}
