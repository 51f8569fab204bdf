package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/document"
	"github.com/JakeFAU/rag-crawler/internal/embedding"
	"github.com/JakeFAU/rag-crawler/internal/ingest"
	"github.com/JakeFAU/rag-crawler/internal/server"
)

type crawlFlags struct {
	url       string
	mode      string
	maxPages  int
	maxDepth  int
	namespace string
	provider  string
	index     bool
}

type crawlOutput struct {
	Pages         []crawler.Page         `json:"pages"`
	CrawlStats    crawler.Stats          `json:"crawlStats"`
	CrawlConfig   crawler.CrawlConfig    `json:"crawlConfig"`
	Namespace     string                 `json:"namespace,omitempty"`
	ChunksIndexed int                    `json:"chunksIndexed"`
	Upsert        *document.UpsertReport `json:"upsert,omitempty"`
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl and print the result as JSON",
		Long: `Crawls --url with the given mode. With --index the chunks are embedded
and written to --namespace in the configured vector index; otherwise the
pages are only fetched and chunked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := crawlConfigFromFlags(cmd, f)
			if err != nil {
				return err
			}
			return runCrawl(cmd, f, cfg)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "", "seed URL (required)")
	cmd.Flags().StringVar(&f.mode, "mode", string(crawler.ModeSingle), "crawl mode: single, limited or deep")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "page cap for limited mode")
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", 0, "link depth for deep mode (2 or 3)")
	cmd.Flags().StringVar(&f.namespace, "namespace", "", "vector namespace to index into")
	cmd.Flags().StringVar(&f.provider, "provider", "", "embedding provider (default from config)")
	cmd.Flags().BoolVar(&f.index, "index", false, "embed and upsert chunks into --namespace")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// crawlConfigFromFlags sets MaxPages and MaxDepth only when their flags were
// given, so mode validation sees exactly what the caller asked for.
func crawlConfigFromFlags(cmd *cobra.Command, f crawlFlags) (crawler.CrawlConfig, error) {
	cfg := crawler.CrawlConfig{Mode: crawler.Mode(f.mode)}
	if cmd.Flags().Changed("max-pages") {
		n := f.maxPages
		cfg.MaxPages = &n
	}
	if cmd.Flags().Changed("max-depth") {
		n := f.maxDepth
		cfg.MaxDepth = &n
	}
	if f.index && f.namespace == "" {
		return cfg, apperr.InvalidInput("--index requires --namespace")
	}
	return cfg, nil
}

func runCrawl(cmd *cobra.Command, f crawlFlags, cfg crawler.CrawlConfig) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	if err := cfg.Validate(rt.Config.Crawler.MaxPagesLimit); err != nil {
		return err
	}
	if _, err := crawler.ParseSeed(f.url); err != nil {
		return apperr.InvalidInput("invalid url: %v", err)
	}

	p, err := server.BuildPipeline(cmd.Context(), rt.Config, rt.Logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer p.Close()

	var provider embedding.Provider
	namespace := ""
	if f.index {
		if provider, err = p.Providers.Get(f.provider); err != nil {
			return err
		}
		namespace = f.namespace
	}

	handler := ingest.New(p.Processor, provider, namespace, rt.Logger)
	result, err := p.Crawler.Crawl(cmd.Context(), f.url, cfg, handler)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl %s: %w", f.url, err)
	}

	out := crawlOutput{
		Pages:       result.Pages,
		CrawlStats:  result.Stats,
		CrawlConfig: cfg,
		Namespace:   namespace,
	}
	if out.Pages == nil {
		out.Pages = []crawler.Page{}
	}
	if handler.Indexing() {
		chunks, report := handler.Totals()
		out.ChunksIndexed = chunks
		out.Upsert = &report
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	rt.Logger.Info("crawl command finished",
		zap.String("url", f.url),
		zap.Int("pages_processed", result.Stats.PagesProcessed),
		zap.Int("pages_failed", len(result.Stats.FailedPages)))
	if result.Stats.PagesProcessed == 0 {
		return apperr.External(fmt.Sprintf("no pages could be crawled from %s", f.url), nil)
	}
	return nil
}
