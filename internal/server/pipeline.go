// Package server wires configuration into the crawl pipeline and the HTTP service.
package server

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/clock/system"
	"github.com/JakeFAU/rag-crawler/internal/config"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/document"
	"github.com/JakeFAU/rag-crawler/internal/embedding"
	collyfetcher "github.com/JakeFAU/rag-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/rag-crawler/internal/hash/sha256"
	"github.com/JakeFAU/rag-crawler/internal/policy/politeness"
	gcsstorage "github.com/JakeFAU/rag-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/rag-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/rag-crawler/internal/storage/memory"
	miniostorage "github.com/JakeFAU/rag-crawler/internal/storage/minio"
	"github.com/JakeFAU/rag-crawler/internal/vectorstore"
	memoryindex "github.com/JakeFAU/rag-crawler/internal/vectorstore/memory"
	sqliteindex "github.com/JakeFAU/rag-crawler/internal/vectorstore/sqlite"
)

// Pipeline is the fetch, chunk and embed stack shared by the service and the
// crawl command.
type Pipeline struct {
	Crawler   *crawler.Orchestrator
	Processor *document.Processor
	Providers *embedding.Registry
	Index     vectorstore.Index

	blobs  io.Closer
	logger *zap.Logger
}

// BuildPipeline constructs the orchestrator, document processor and
// embedding registry described by cfg.
func BuildPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{logger: logger}

	registry, err := embedding.NewRegistry(providerConfigs(cfg), cfg.Embedding.Default, nil)
	if err != nil {
		return nil, err
	}
	p.Providers = registry
	logger.Info("embedding providers configured",
		zap.Strings("providers", registry.Names()),
		zap.String("default", cfg.Embedding.Default))

	p.Index, err = setupIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	splitter, err := document.NewSplitter(cfg.Chunking.Strategy, cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("chunking config: %w", err)
	}
	p.Processor = document.NewProcessor(splitter, p.Index, document.Options{
		UpsertBatchSize: cfg.Vector.UpsertBatchSize,
		DispatchWindow:  cfg.Vector.DispatchWindow,
	}, logger.Named("document"))

	var blobs crawler.BlobStore
	if cfg.Crawler.Snapshot {
		if blobs, err = setupStorage(ctx, cfg, logger); err != nil {
			p.Close()
			return nil, err
		}
		if c, ok := blobs.(io.Closer); ok {
			p.blobs = c
		}
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.Crawler.RequestTimeout,
		MaxBodySize: cfg.Crawler.MaxBodyBytes,
	})
	logger.Info("using colly fetcher", zap.String("user_agent", cfg.Crawler.UserAgent))

	policy := politeness.New(politeness.Config{
		RPS:   cfg.Crawler.PolitenessRPS,
		Burst: cfg.Crawler.PolitenessBurst,
	})
	logger.Info("politeness limiter configured",
		zap.Float64("rps", cfg.Crawler.PolitenessRPS),
		zap.Int("burst", cfg.Crawler.PolitenessBurst))

	var retry crawler.RetryPolicy
	if cfg.Crawler.MaxRetries > 0 {
		retry = crawler.NewExponentialRetryPolicy(cfg.Crawler.MaxRetries + 1)
	}

	p.Crawler = crawler.NewOrchestrator(
		fetcher,
		policy,
		retry,
		blobs,
		sha256.New(),
		system.New(),
		crawler.Options{
			Concurrency:    cfg.Crawler.Concurrency,
			Timeouts:       cfg.CrawlTimeouts(),
			MaxPagesLimit:  cfg.Crawler.MaxPagesLimit,
			SnapshotPrefix: cfg.Storage.Prefix,
		},
		logger.Named("crawler"),
	)
	return p, nil
}

// Close releases the vector index and snapshot store.
func (p *Pipeline) Close() {
	if p.blobs != nil {
		if err := p.blobs.Close(); err != nil {
			p.logger.Warn("blob store close failed", zap.Error(err))
		}
	}
	if p.Index != nil {
		if err := p.Index.Close(); err != nil {
			p.logger.Warn("vector index close failed", zap.Error(err))
		}
	}
}

func providerConfigs(cfg config.Config) map[string]embedding.Config {
	out := make(map[string]embedding.Config, len(cfg.Embedding.Providers))
	for name, pc := range cfg.Embedding.Providers {
		out[name] = embedding.Config{
			Kind:        pc.Kind,
			BaseURL:     pc.BaseURL,
			APIKey:      pc.APIKey,
			Model:       pc.Model,
			Dimensions:  pc.Dimensions,
			Timeout:     pc.Timeout,
			BatchSize:   pc.BatchSize,
			Concurrency: pc.Concurrency,
		}
	}
	return out
}

func setupIndex(ctx context.Context, cfg config.Config, logger *zap.Logger) (vectorstore.Index, error) {
	switch cfg.Vector.Backend {
	case "sqlite":
		idx, err := sqliteindex.Open(ctx, cfg.Vector.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite vector index init failed: %w", err)
		}
		logger.Info("using sqlite vector index", zap.String("path", cfg.Vector.Path))
		return idx, nil
	default:
		logger.Info("using in-memory vector index")
		return memoryindex.New(), nil
	}
}

func setupStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Storage.Bucket}, logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		logger.Info("using GCS storage backend", zap.String("bucket", cfg.Storage.Bucket))
		return blobs, nil
	case "minio":
		blobs, err := miniostorage.Open(ctx, miniostorage.Config{
			Endpoint:     cfg.Storage.MinioEndpoint,
			AccessKey:    cfg.Storage.MinioAccessKey,
			SecretKey:    cfg.Storage.MinioSecretKey,
			Bucket:       cfg.Storage.Bucket,
			UseSSL:       cfg.Storage.MinioUseSSL,
			CreateBucket: true,
		})
		if err != nil {
			return nil, fmt.Errorf("minio blob store init failed: %w", err)
		}
		logger.Info("using MinIO storage backend",
			zap.String("endpoint", cfg.Storage.MinioEndpoint),
			zap.String("bucket", cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		logger.Info("using local storage backend", zap.String("path", cfg.Storage.BaseDir))
		return blobs, nil
	default:
		logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}
