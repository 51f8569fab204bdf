package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, crawlerPagesTotal)
	require.NotNil(t, crawlsTotal)
	require.NotNil(t, rateLimitDecisionsTotal)
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, httpRequestDurationSeconds)
}

func TestObserveHelpers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlerPagesTotalFor("metrics-test.com", "processed"))
	ObservePage("https://metrics-test.com/a", "processed", 120)
	require.Equal(t, before+1, testutil.ToFloat64(crawlerPagesTotalFor("metrics-test.com", "processed")))

	beforeCrawl := testutil.ToFloat64(crawlsTotal.WithLabelValues("deep", "partial_success"))
	ObserveCrawl("deep", "partial_success", 3*time.Second)
	require.Equal(t, beforeCrawl+1, testutil.ToFloat64(crawlsTotal.WithLabelValues("deep", "partial_success")))

	beforeDenied := testutil.ToFloat64(rateLimitDecisionsTotal.WithLabelValues("memory", "denied"))
	ObserveRateLimit("memory", "denied")
	require.Equal(t, beforeDenied+1, testutil.ToFloat64(rateLimitDecisionsTotal.WithLabelValues("memory", "denied")))

	beforeUpserts := testutil.ToFloat64(vectorsUpsertedTotal.WithLabelValues("ok"))
	ObserveUpsert("ok", 4)
	ObserveUpsert("ok", 0)
	require.Equal(t, beforeUpserts+4, testutil.ToFloat64(vectorsUpsertedTotal.WithLabelValues("ok")))

	ObserveEmbedding("openai", errors.New("boom"), time.Second)
	require.Positive(t, testutil.CollectAndCount(embeddingDurationSeconds))
}

func crawlerPagesTotalFor(site, status string) prometheus.Counter {
	return crawlerPagesTotal.WithLabelValues(site, status)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		require.NotEmpty(t, SanitizeSite(orig))
	})
}
