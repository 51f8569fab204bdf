package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/rag-crawler/internal/store"
)

const urlConfigColumns = "id, url, namespace, crawl_config, is_active, crawl_status, " +
	"pages_indexed, error_message, last_crawled, created_at, updated_at"

// URLConfigStore implements store.Repository on Postgres.
type URLConfigStore struct {
	db    DB
	table string
	now   func() time.Time
}

// NewURLConfigStore wraps db. An empty table defaults to rag_url_configs.
func NewURLConfigStore(db DB, table string) (*URLConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "rag_url_configs")
	if err != nil {
		return nil, err
	}
	return &URLConfigStore{
		db:    db,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the pool.
func (s *URLConfigStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Create inserts cfg in pending state.
func (s *URLConfigStore) Create(ctx context.Context, cfg store.URLConfig) (store.URLConfig, error) {
	if cfg.ID == "" {
		return store.URLConfig{}, fmt.Errorf("url config id is required")
	}
	crawlJSON, err := json.Marshal(cfg.CrawlConfig)
	if err != nil {
		return store.URLConfig{}, fmt.Errorf("marshal crawl config: %w", err)
	}
	now := s.now()
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, namespace, crawl_config, is_active, crawl_status, pages_indexed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
RETURNING %s`, s.table, urlConfigColumns)

	row := s.db.QueryRow(ctx, query, cfg.ID, cfg.URL, cfg.Namespace, crawlJSON, cfg.IsActive, store.StatusPending, now)
	out, err := scanURLConfig(row)
	if err != nil {
		return store.URLConfig{}, fmt.Errorf("insert url config: %w", err)
	}
	return out, nil
}

// Get loads one config.
func (s *URLConfigStore) Get(ctx context.Context, id string) (store.URLConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, urlConfigColumns, s.table)
	cfg, err := scanURLConfig(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.URLConfig{}, store.ErrNotFound
	}
	if err != nil {
		return store.URLConfig{}, fmt.Errorf("get url config: %w", err)
	}
	return cfg, nil
}

// List returns configs ordered by creation time.
func (s *URLConfigStore) List(ctx context.Context, filter store.ListFilter) ([]store.URLConfig, error) {
	var (
		where []string
		args  []any
	)
	if filter.Namespace != "" {
		args = append(args, filter.Namespace)
		where = append(where, fmt.Sprintf("namespace = $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, urlConfigColumns, s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list url configs: %w", err)
	}
	defer rows.Close()

	out := []store.URLConfig{}
	for rows.Next() {
		cfg, err := scanURLConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan url config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate url configs: %w", err)
	}
	return out, nil
}

// Update applies patch with a single guarded UPDATE.
func (s *URLConfigStore) Update(ctx context.Context, id string, patch store.Patch) (store.URLConfig, error) {
	if patch.Empty() {
		return s.Get(ctx, id)
	}
	args := []any{id}
	var sets []string
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if patch.Namespace != nil {
		add("namespace", *patch.Namespace)
	}
	if patch.CrawlConfig != nil {
		crawlJSON, err := json.Marshal(*patch.CrawlConfig)
		if err != nil {
			return store.URLConfig{}, fmt.Errorf("marshal crawl config: %w", err)
		}
		add("crawl_config", crawlJSON)
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	add("updated_at", s.now())

	query := fmt.Sprintf(`
UPDATE %s SET %s
WHERE id = $1 AND crawl_status <> 'in_progress'
RETURNING %s`, s.table, strings.Join(sets, ", "), urlConfigColumns)

	cfg, err := scanURLConfig(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.URLConfig{}, s.explainMiss(ctx, id)
	}
	if err != nil {
		return store.URLConfig{}, fmt.Errorf("update url config: %w", err)
	}
	return cfg, nil
}

// Delete removes the config unless a crawl is running.
func (s *URLConfigStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND crawl_status <> 'in_progress'`, s.table)
	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete url config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id)
	}
	return nil
}

// BeginCrawl performs one guarded UPDATE and classifies a miss with a
// follow-up SELECT.
func (s *URLConfigStore) BeginCrawl(ctx context.Context, id string) (store.BeginResult, error) {
	query := fmt.Sprintf(`
UPDATE %s SET crawl_status = 'in_progress', error_message = NULL, updated_at = $2
WHERE id = $1 AND is_active AND crawl_status <> 'in_progress'
RETURNING id`, s.table)

	var got string
	err := s.db.QueryRow(ctx, query, id, s.now()).Scan(&got)
	if err == nil {
		return store.BeginOK, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("begin crawl: %w", err)
	}

	active, status, err := s.state(ctx, id)
	if err != nil {
		return "", err
	}
	if status == store.StatusInProgress {
		return store.BeginAlreadyInProgress, nil
	}
	if !active {
		return store.BeginInactive, nil
	}
	// The row changed between the two statements; report it as busy.
	return store.BeginAlreadyInProgress, nil
}

// CompleteCrawl writes the classified outcome.
func (s *URLConfigStore) CompleteCrawl(ctx context.Context, id string, outcome store.Outcome) (store.URLConfig, error) {
	now := s.now()
	query := fmt.Sprintf(`
UPDATE %s SET crawl_status = $2, pages_indexed = $3, error_message = $4, last_crawled = $5, updated_at = $5
WHERE id = $1
RETURNING %s`, s.table, urlConfigColumns)

	cfg, err := scanURLConfig(s.db.QueryRow(ctx, query,
		id, outcome.Classify(), outcome.PagesIndexed(), outcome.ErrorMessage(), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.URLConfig{}, store.ErrNotFound
	}
	if err != nil {
		return store.URLConfig{}, fmt.Errorf("complete crawl: %w", err)
	}
	return cfg, nil
}

func (s *URLConfigStore) explainMiss(ctx context.Context, id string) error {
	_, status, err := s.state(ctx, id)
	if err != nil {
		return err
	}
	if status == store.StatusInProgress {
		return store.ErrInProgress
	}
	return fmt.Errorf("url config %s changed concurrently", id)
}

func (s *URLConfigStore) state(ctx context.Context, id string) (bool, store.Status, error) {
	query := fmt.Sprintf(`SELECT is_active, crawl_status FROM %s WHERE id = $1`, s.table)
	var (
		active bool
		status string
	)
	err := s.db.QueryRow(ctx, query, id).Scan(&active, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", store.ErrNotFound
	}
	if err != nil {
		return false, "", fmt.Errorf("read crawl state: %w", err)
	}
	return active, store.Status(status), nil
}

func scanURLConfig(row pgx.Row) (store.URLConfig, error) {
	var (
		cfg       store.URLConfig
		crawlJSON []byte
		status    string
	)
	if err := row.Scan(
		&cfg.ID,
		&cfg.URL,
		&cfg.Namespace,
		&crawlJSON,
		&cfg.IsActive,
		&status,
		&cfg.PagesIndexed,
		&cfg.ErrorMessage,
		&cfg.LastCrawled,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return store.URLConfig{}, err
	}
	if err := json.Unmarshal(crawlJSON, &cfg.CrawlConfig); err != nil {
		return store.URLConfig{}, fmt.Errorf("decode crawl config: %w", err)
	}
	cfg.CrawlStatus = store.Status(status)
	return cfg, nil
}
