package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rag-crawler/internal/crawler"
	"github.com/JakeFAU/rag-crawler/internal/store"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var columns = []string{
	"id", "url", "namespace", "crawl_config", "is_active", "crawl_status",
	"pages_indexed", "error_message", "last_crawled", "created_at", "updated_at",
}

func newTestStore(t *testing.T) (*URLConfigStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewURLConfigStore(mock, "")
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func configRow(mock pgxmock.PgxPoolIface, id string, status store.Status, pages int, errMsg *string) *pgxmock.Rows {
	var lastCrawled *time.Time
	if status != store.StatusPending && status != store.StatusInProgress {
		lastCrawled = &fixedNow
	}
	return mock.NewRows(columns).AddRow(
		id, "https://example.com", "docs", []byte(`{"mode":"limited","maxPages":5}`), true, string(status),
		pages, errMsg, lastCrawled, fixedNow, fixedNow,
	)
}

func TestNewURLConfigStoreValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewURLConfigStore(mock, "bad;table")
	require.Error(t, err)
	_, err = NewURLConfigStore(nil, "")
	require.Error(t, err)
}

func TestCreateInsertsPendingRow(t *testing.T) {
	t.Parallel()

	s, mock := newTestStore(t)
	mock.ExpectQuery("INSERT INTO rag_url_configs").
		WithArgs("id-1", "https://example.com", "docs", []byte(`{"mode":"limited","maxPages":5}`), true, store.StatusPending, fixedNow).
		WillReturnRows(configRow(mock, "id-1", store.StatusPending, 0, nil))

	cfg, err := s.Create(context.Background(), store.URLConfig{
		ID:          "id-1",
		URL:         "https://example.com",
		Namespace:   "docs",
		CrawlConfig: crawler.Limited(5),
		IsActive:    true,
	})
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, cfg.CrawlStatus)
	require.Equal(t, crawler.ModeLimited, cfg.CrawlConfig.Mode)
	require.Equal(t, 5, *cfg.CrawlConfig.MaxPages)
	require.Nil(t, cfg.LastCrawled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newTestStore(t)
	mock.ExpectQuery("SELECT (.+) FROM rag_url_configs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAppliesFilter(t *testing.T) {
	t.Parallel()

	s, mock := newTestStore(t)
	mock.ExpectQuery("SELECT (.+) FROM rag_url_configs WHERE namespace = \\$1 ORDER BY created_at, id LIMIT \\$2 OFFSET \\$3").
		WithArgs("docs", 10, 5).
		WillReturnRows(configRow(mock, "id-1", store.StatusPending, 0, nil))

	out, err := s.List(context.Background(), store.ListFilter{Namespace: "docs", Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "id-1", out[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginCrawlOK(t *testing.T) {
	t.Parallel()

	s, mock := newTestStore(t)
	mock.ExpectQuery("UPDATE rag_url_configs SET crawl_status = 'in_progress', error_message = NULL").
		WithArgs("id-1", fixedNow).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("id-1"))

	res, err := s.BeginCrawl(context.Background(), "id-1")
	require.NoError(t, err)
	require.Equal(t, store.BeginOK, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginCrawlClassifiesMiss(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		active bool
		status store.Status
		want   store.BeginResult
	}{
		{"already running", true, store.StatusInProgress, store.BeginAlreadyInProgress},
		{"inactive", false, store.StatusSuccess, store.BeginInactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, mock := newTestStore(t)
			mock.ExpectQuery("UPDATE rag_url_configs SET crawl_status = 'in_progress', error_message = NULL").
				WithArgs("id-1", fixedNow).
				WillReturnError(pgx.ErrNoRows)
			mock.ExpectQuery("SELECT is_active, crawl_status FROM rag_url_configs").
				WithArgs("id-1").
				WillReturnRows(mock.NewRows([]string{"is_active", "crawl_status"}).AddRow(tc.active, string(tc.status)))

			res, err := s.BeginCrawl(context.Background(), "id-1")
			require.NoError(t, err)
			require.Equal(t, tc.want, res)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBeginCrawlMissingRow(t *testing.T) {
	t.Parallel()

	s, mock := newTestStore(t)
	mock.ExpectQuery("UPDATE rag_url_configs SET crawl_status = 'in_progress', error_message = NULL").
		WithArgs("nope", fixedNow).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT is_active, crawl_status FROM rag_url_configs").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.BeginCrawl(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteCrawlWritesPartialSuccess(t *testing.T) {
	t.Parallel()

	s, mock := newTestStore(t)
	outcome := store.Outcome{PagesProcessed: 7, FailedPages: 3, Errors: []string{"a", "b", "c"}}
	msg := "a; b; c"
	mock.ExpectQuery("UPDATE rag_url_configs SET crawl_status = \\$2").
		WithArgs("id-1", store.StatusPartialSuccess, 7, &msg, fixedNow).
		WillReturnRows(configRow(mock, "id-1", store.StatusPartialSuccess, 7, &msg))

	cfg, err := s.CompleteCrawl(context.Background(), "id-1", outcome)
	require.NoError(t, err)
	require.Equal(t, store.StatusPartialSuccess, cfg.CrawlStatus)
	require.Equal(t, 7, cfg.PagesIndexed)
	require.Equal(t, "a; b; c", *cfg.ErrorMessage)
	require.NotNil(t, cfg.LastCrawled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRejectedMidCrawl(t *testing.T) {
	t.Parallel()

	s, mock := newTestStore(t)
	ns := "kb"
	mock.ExpectQuery("UPDATE rag_url_configs SET namespace = \\$2, updated_at = \\$3").
		WithArgs("id-1", "kb", fixedNow).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT is_active, crawl_status FROM rag_url_configs").
		WithArgs("id-1").
		WillReturnRows(mock.NewRows([]string{"is_active", "crawl_status"}).AddRow(true, "in_progress"))

	_, err := s.Update(context.Background(), "id-1", store.Patch{Namespace: &ns})
	require.ErrorIs(t, err, store.ErrInProgress)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s, mock := newTestStore(t)
	mock.ExpectExec("DELETE FROM rag_url_configs").
		WithArgs("id-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.Delete(context.Background(), "id-1"))

	mock.ExpectExec("DELETE FROM rag_url_configs").
		WithArgs("id-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT is_active, crawl_status FROM rag_url_configs").
		WithArgs("id-2").
		WillReturnError(pgx.ErrNoRows)
	require.ErrorIs(t, s.Delete(context.Background(), "id-2"), store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryResolveEmail(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir, err := NewDirectory(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT email FROM users WHERE id = \\$1").
		WithArgs("user-1").
		WillReturnRows(mock.NewRows([]string{"email"}).AddRow("Ops@Example.com"))
	email, err := dir.ResolveEmail(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", email)

	mock.ExpectQuery("SELECT email FROM users WHERE id = \\$1").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = dir.ResolveEmail(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
