// Package main hosts the ragcrawler entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api exposes URL config CRUD, ad hoc crawls, crawl triggers, vector queries,
//     rate-limit status, health and metrics. Every crawl route is checked against the per-identity
//     request budget and the per-mode crawl budget (internal/ratelimit, Redis or in-memory counters).
//   - Crawl runs: triggered URL configs move to in_progress in the store (Postgres or memory) and are
//     queued on a bounded in-memory queue. internal/dispatcher fans the queue out to a fixed pool of
//     internal/worker goroutines which run the crawl and record success, partial_success or failed.
//   - Fetch pipeline: internal/crawler.Orchestrator walks the site breadth first with the Colly
//     fetcher, per-host politeness limits and retries for transient failures. Pages are reduced to
//     Markdown with go-readability and html-to-markdown, optionally snapshotted to GCS, MinIO or disk.
//   - Indexing: internal/ingest splits pages into chunks, embeds them through the configured OpenAI or
//     Ollama provider and upserts them into the vector index (memory or SQLite) under stable IDs.
//   - Events: a crawl.completed message is published to Pub/Sub when a project is configured.
//
// Quick checklist:
//   - Configure with a YAML file (--config) or RAGCRAWLER_* env vars, e.g. RAGCRAWLER_SERVER_PORT,
//     RAGCRAWLER_DATABASE_DSN, RAGCRAWLER_RATELIMIT_REDIS_URL, RAGCRAWLER_EMBEDDING_DEFAULT.
//   - Run the service: go run ./cmd/ragcrawler serve --config config.yaml
//   - One-off crawl: go run ./cmd/ragcrawler crawl --url https://example.com --mode limited --max-pages 5
//   - Configs left in_progress by a crash are not reset on startup; fail them by hand.
package main
