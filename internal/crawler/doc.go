// Package crawler implements the crawl orchestrator: mode validation,
// same-site traversal over a bounded worker pool, page extraction and the
// per-run statistics handed to the ingestion pipeline.
package crawler
