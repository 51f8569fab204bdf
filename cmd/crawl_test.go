package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/config"
	"github.com/JakeFAU/rag-crawler/internal/crawler"
)

func stubRuntime(t *testing.T) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.PolitenessRPS = 0
	cfg.Crawler.MaxRetries = 0
	cfg.Crawler.Snapshot = false
	cfg.Vector.Backend = "memory"
	cfg.Embedding.Providers = nil

	prev := newRuntime
	newRuntime = func(string) (*Runtime, error) {
		return &Runtime{Config: cfg, Logger: zap.NewNop()}, nil
	}
	t.Cleanup(func() { newRuntime = prev })
}

func fakeSite(t *testing.T, hits *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, `<html><head><title>Release notes</title></head><body><article>
<p>Version two adds streaming exports and removes the legacy importer from the default build.</p>
</article></body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCrawlCommandPrintsResult(t *testing.T) {
	stubRuntime(t)
	var hits atomic.Int32
	site := fakeSite(t, &hits)

	out, err := execute("crawl", "--url", site, "--mode", "single")
	require.NoError(t, err)

	var got crawlOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	require.Len(t, got.Pages, 1)
	require.Contains(t, got.Pages[0].Content, "streaming exports")
	require.Equal(t, crawler.ModeSingle, got.CrawlConfig.Mode)
	require.Equal(t, 1, got.CrawlStats.PagesProcessed)
	require.Zero(t, got.ChunksIndexed)
	require.Nil(t, got.Upsert)
	require.Equal(t, int32(1), hits.Load())
}

func TestCrawlCommandValidatesBeforeFetching(t *testing.T) {
	stubRuntime(t)
	var hits atomic.Int32
	site := fakeSite(t, &hits)

	cases := [][]string{
		{"crawl", "--url", site, "--mode", "single", "--max-pages", "3"},
		{"crawl", "--url", site, "--mode", "deep", "--max-depth", "4"},
		{"crawl", "--url", site, "--mode", "limited"},
		{"crawl", "--url", site, "--mode", "single", "--index"},
		{"crawl", "--url", "ftp://example.com", "--mode", "single"},
	}
	for _, args := range cases {
		_, err := execute(args...)
		require.Error(t, err, args)
		require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err), args)
	}
	require.Zero(t, hits.Load())
}

func TestCrawlCommandUnknownProvider(t *testing.T) {
	stubRuntime(t)
	var hits atomic.Int32
	site := fakeSite(t, &hits)

	_, err := execute("crawl", "--url", site, "--index", "--namespace", "docs", "--provider", "missing")
	require.Error(t, err)
	require.Equal(t, apperr.CodeConfiguration, apperr.CodeOf(err))
	require.Zero(t, hits.Load())
}

func TestCrawlCommandRequiresURL(t *testing.T) {
	stubRuntime(t)
	_, err := execute("crawl")
	require.Error(t, err)
}
