package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/api"
	"github.com/JakeFAU/rag-crawler/internal/clock/system"
	"github.com/JakeFAU/rag-crawler/internal/config"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/dispatcher"
	"github.com/JakeFAU/rag-crawler/internal/embedding"
	"github.com/JakeFAU/rag-crawler/internal/id/uuid"
	"github.com/JakeFAU/rag-crawler/internal/metrics"
	memorypublisher "github.com/JakeFAU/rag-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/rag-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/rag-crawler/internal/queue/memory"
	"github.com/JakeFAU/rag-crawler/internal/ratelimit"
	memoryStorage "github.com/JakeFAU/rag-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/rag-crawler/internal/storage/postgres"
	"github.com/JakeFAU/rag-crawler/internal/store"
	"github.com/JakeFAU/rag-crawler/internal/worker"
)

// shutdownTimeout bounds the HTTP drain and the wait for in-flight crawls.
const shutdownTimeout = 30 * time.Second

type closablePublisher interface {
	crawler.Publisher
	Close() error
}

// App contains the service's long-lived dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	pipeline  *Pipeline
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	limiter   *ratelimit.Service
	publisher closablePublisher
	pool      *pgxpool.Pool
}

// Build creates the service's dependencies. logger is owned by the caller.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("ratelimit_backend", cfg.RateLimit.Backend))

	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure()
		}
	}()

	var err error
	if app.pipeline, err = BuildPipeline(ctx, cfg, logger); err != nil {
		return nil, err
	}

	repo, err := app.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	if app.limiter, err = app.setupRateLimiter(); err != nil {
		return nil, err
	}
	if app.publisher, err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	app.dispatch = app.setupDispatcher(repo)

	deps := api.Deps{
		Repo:      repo,
		Queue:     app.queue,
		Crawler:   app.pipeline.Crawler,
		Processor: app.pipeline.Processor,
		Providers: app.pipeline.Providers,
		Limiter:   app.limiter,
		IDs:       uuid.New(),
		Clock:     system.New(),
	}
	if app.pool != nil {
		deps.Ready = app.pool.Ping
	}
	app.apiServer = api.NewServer(deps, cfg, logger)

	ok = true
	return app, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and runs the workers until ctx is canceled or SIGINT/SIGTERM
// arrives, then drains both.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	a.dispatch.Start(workerCtx)
	a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Workers))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	// Queued items are drained by the workers; a crawl still running at the
	// deadline is canceled and records its partial outcome.
	a.queue.Close()
	done := make(chan struct{})
	go func() {
		a.dispatch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not finish before the shutdown deadline")
		cancelWorkers()
		<-done
	}

	a.Close()
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// Close releases every external resource. It is safe to call after Run.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			a.logger.Warn("rate limiter close failed", zap.Error(err))
		}
		a.limiter = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.pipeline != nil {
		a.pipeline.Close()
		a.pipeline = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) setupDatabase(ctx context.Context) (store.Repository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, url configs are kept in memory")
		return memoryStorage.NewURLConfigStore(), nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.Database.DSN,
		MaxConns: a.cfg.Database.MaxConns,
		MinConns: a.cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	repo, err := pgstore.NewURLConfigStore(pool, a.cfg.Database.Table)
	if err != nil {
		return nil, fmt.Errorf("url config store init failed: %w", err)
	}
	a.logger.Info("url config store initialized", zap.String("table", a.cfg.Database.Table))
	return repo, nil
}

func (a *App) setupRateLimiter() (*ratelimit.Service, error) {
	backend, err := ratelimit.NewBackend(ratelimit.BackendConfig{
		Mode:      a.cfg.RateLimit.Backend,
		RedisURL:  a.cfg.RateLimit.RedisURL,
		KeyPrefix: a.cfg.RateLimit.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit backend init failed: %w", err)
	}
	if backend.Name() == ratelimit.BackendDisabled {
		a.logger.Warn("rate limiting is disabled")
	}

	var directory ratelimit.Directory
	switch {
	case a.pool != nil:
		dir, err := pgstore.NewDirectory(a.pool, a.cfg.Database.UsersTable)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("identity directory init failed: %w", err)
		}
		directory = dir
	case len(a.cfg.RateLimit.Emails) > 0:
		directory = ratelimit.StaticDirectory(a.cfg.RateLimit.Emails)
	}

	a.logger.Info("rate limiter configured",
		zap.String("backend", backend.Name()),
		zap.Int("per_minute", a.cfg.RateLimit.PerMinute),
		zap.Int("per_hour", a.cfg.RateLimit.PerHour))
	return ratelimit.NewService(backend, ratelimit.Options{
		PerMinute:           a.cfg.RateLimit.PerMinute,
		PerHour:             a.cfg.RateLimit.PerHour,
		CrawlPerHour:        a.cfg.CrawlQuotas(),
		AdminEmails:         a.cfg.RateLimit.AdminEmails,
		EmergencyIdentities: a.cfg.RateLimit.EmergencyIdentities,
		Directory:           directory,
		SweepInterval:       a.cfg.RateLimit.SweepInterval,
	}, a.logger), nil
}

func (a *App) setupPublisher(ctx context.Context) (closablePublisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}

func (a *App) setupDispatcher(repo store.Repository) *dispatcher.Dispatcher {
	var provider embedding.Provider
	if p, err := a.pipeline.Providers.Default(); err == nil {
		provider = p
	} else {
		a.logger.Warn("no default embedding provider, stored crawls into a namespace will fail", zap.Error(err))
	}
	clock := system.New()
	workerCfg := worker.Config{Topic: a.cfg.PubSub.TopicName}
	runners := make([]dispatcher.Runner, 0, a.cfg.Crawler.Workers)
	for i := 0; i < a.cfg.Crawler.Workers; i++ {
		runners = append(runners, worker.New(
			i,
			a.queue,
			repo,
			a.pipeline.Crawler,
			a.pipeline.Processor,
			provider,
			a.publisher,
			clock,
			workerCfg,
			a.logger,
		))
	}
	return dispatcher.New(a.queue, runners...)
}
