package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/config"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/document"
	"github.com/JakeFAU/rag-crawler/internal/embedding"
	"github.com/JakeFAU/rag-crawler/internal/metrics"
	"github.com/JakeFAU/rag-crawler/internal/ratelimit"
	"github.com/JakeFAU/rag-crawler/internal/store"
)

// Crawler runs ad hoc crawls. *crawler.Orchestrator satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, seed string, cfg crawler.CrawlConfig, handler crawler.PageHandler) (crawler.Result, error)
}

// Limiter is the rate limiter. *ratelimit.Service satisfies it.
type Limiter interface {
	Check(ctx context.Context, identity string) (ratelimit.Status, error)
	CheckCrawl(ctx context.Context, identity string, mode crawler.Mode) (ratelimit.Status, error)
}

// Providers resolves embedding providers by name; "" is the default.
type Providers interface {
	Get(name string) (embedding.Provider, error)
}

// Queue accepts stored crawls for the workers.
type Queue interface {
	TryEnqueue(item crawler.QueueItem) error
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Repo      store.Repository
	Queue     Queue
	Crawler   Crawler
	Processor *document.Processor
	Providers Providers
	Limiter   Limiter
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	// Ready reports dependency health for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the crawl pipeline and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}
	if s.cfg.Auth.IdentityHeader == "" {
		s.cfg.Auth.IdentityHeader = "X-User-ID"
	}
	if s.cfg.Crawler.MaxPagesLimit <= 0 {
		s.cfg.Crawler.MaxPagesLimit = crawler.DefaultMaxPagesLimit
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 11 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(s.identityMiddleware)

		r.Route("/urls", func(r chi.Router) {
			r.Post("/", s.createURLConfig)
			r.Get("/", s.listURLConfigs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getURLConfig)
				r.Patch("/", s.updateURLConfig)
				r.Delete("/", s.deleteURLConfig)
				r.With(s.limitMiddleware).Post("/crawl", s.triggerCrawl)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.limitMiddleware)
			r.Post("/crawl", s.adHocCrawl)
			r.Post("/namespaces/{ns}/query", s.queryNamespace)
		})
		r.Get("/ratelimit", s.rateLimitStatus)
		r.Delete("/namespaces/{ns}", s.deleteNamespace)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now().UTC()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
