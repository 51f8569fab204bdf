// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlsTotal                   *prometheus.CounterVec
	crawlDurationSeconds          *prometheus.HistogramVec
	vectorsUpsertedTotal          *prometheus.CounterVec
	embeddingDurationSeconds      *prometheus.HistogramVec
	rateLimitDecisionsTotal       *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerPolitenessDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages crawled, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_content_bytes_total",
				Help: "Total bytes of extracted page content, labeled by site.",
			},
			[]string{"site"},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_crawls_total",
				Help: "Total number of crawl runs, labeled by mode and terminal status.",
			},
			[]string{"mode", "status"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_crawl_duration_seconds",
				Help:    "Histogram of crawl run durations, labeled by mode.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		)

		vectorsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vector_upserts_total",
				Help: "Total number of vectors upserted, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		embeddingDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedding_request_duration_seconds",
				Help:    "Histogram of embedding provider latencies, labeled by provider and outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "outcome"},
		)

		rateLimitDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_decisions_total",
				Help: "Total number of rate limit checks, labeled by backend and decision.",
			},
			[]string{"backend", "decision"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently running a crawl.",
			},
		)

		crawlerPolitenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_politeness_delay_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records one page outcome.
func ObservePage(site string, status string, contentBytes int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if contentBytes > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(contentBytes))
	}
}

// ObserveCrawl records a finished crawl run.
func ObserveCrawl(mode, status string, duration time.Duration) {
	Init()
	crawlsTotal.WithLabelValues(mode, status).Inc()
	crawlDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveUpsert counts vectors written or dropped.
func ObserveUpsert(outcome string, vectors int) {
	Init()
	if vectors <= 0 {
		return
	}
	vectorsUpsertedTotal.WithLabelValues(outcome).Add(float64(vectors))
}

// ObserveEmbedding records one embedding provider call.
func ObserveEmbedding(provider string, err error, duration time.Duration) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	embeddingDurationSeconds.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// ObserveRateLimit counts a rate limit decision.
func ObserveRateLimit(backend, decision string) {
	Init()
	rateLimitDecisionsTotal.WithLabelValues(backend, decision).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObservePolitenessDelay records the duration of a per-host wait.
func ObservePolitenessDelay(domain string, duration time.Duration) {
	Init()
	crawlerPolitenessDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
