// Package store defines the crawl state model for indexed URLs and the
// repository interface that persists it. Implementations live under
// internal/storage; this package must not import database drivers or
// concrete clients.
package store
