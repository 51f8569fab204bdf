// Package sqlite implements vectorstore.Index on an embedded SQLite file
// with brute-force cosine search.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/rag-crawler/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS vectors (
	namespace   TEXT    NOT NULL,
	id          TEXT    NOT NULL,
	url         TEXT    NOT NULL,
	title       TEXT    NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL,
	text        TEXT    NOT NULL DEFAULT '',
	dims        INTEGER NOT NULL,
	embedding   BLOB    NOT NULL,
	updated_at  TEXT    NOT NULL,
	PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS idx_vectors_url ON vectors (namespace, url);
`

// Index is a SQLite-backed vectorstore.Index.
type Index struct {
	db *sql.DB
}

var _ vectorstore.Index = (*Index)(nil)

// Open opens or creates the database at path. ":memory:" is accepted for tests.
func Open(ctx context.Context, path string) (*Index, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create vector dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &Index{db: db}, nil
}

// Upsert writes vectors in one transaction after checking the namespace width.
func (idx *Index) Upsert(ctx context.Context, ns string, vectors []vectorstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	want, err := dimensions(ctx, tx, ns)
	if err != nil {
		return err
	}
	dims, err := vectorstore.CheckDimensions(want, vectors)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO vectors (namespace, id, url, title, chunk_index, text, dims, embedding, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (namespace, id) DO UPDATE SET
	url = excluded.url,
	title = excluded.title,
	chunk_index = excluded.chunk_index,
	text = excluded.text,
	dims = excluded.dims,
	embedding = excluded.embedding,
	updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, v := range vectors {
		if _, err := stmt.ExecContext(ctx,
			ns, v.ID, v.Metadata.URL, v.Metadata.Title, v.Metadata.ChunkIndex, v.Metadata.Text,
			dims, encode(v.Values), now,
		); err != nil {
			return fmt.Errorf("upsert vector %s: %w", v.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Query scans the namespace and keeps the best topK.
func (idx *Index) Query(ctx context.Context, ns string, vector []float32, topK int) ([]vectorstore.Match, error) {
	dims, err := dimensions(ctx, idx.db, ns)
	if err != nil {
		return nil, err
	}
	if dims == 0 {
		return []vectorstore.Match{}, nil
	}
	if len(vector) != dims {
		return nil, vectorstore.ErrDimensionMismatch
	}

	rows, err := idx.db.QueryContext(ctx,
		`SELECT id, url, title, chunk_index, text, embedding FROM vectors WHERE namespace = ?`, ns)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	qNorm := vectorstore.Norm(vector)
	top := vectorstore.NewTopK(topK)
	var buf []float32
	for rows.Next() {
		var (
			m    vectorstore.Match
			blob []byte
		)
		if err := rows.Scan(&m.ID, &m.Metadata.URL, &m.Metadata.Title, &m.Metadata.ChunkIndex, &m.Metadata.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		buf, err = decodeInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decode vector %s: %w", m.ID, err)
		}
		m.Score = vectorstore.Cosine(vector, buf, qNorm)
		top.Offer(m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}
	return top.Results(), nil
}

// Dimensions returns the namespace width or 0.
func (idx *Index) Dimensions(ctx context.Context, ns string) (int, error) {
	return dimensions(ctx, idx.db, ns)
}

// DeleteStale removes trailing chunks of url.
func (idx *Index) DeleteStale(ctx context.Context, ns, url string, keep int) (int, error) {
	res, err := idx.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE namespace = ? AND url = ? AND chunk_index >= ?`, ns, url, keep)
	if err != nil {
		return 0, fmt.Errorf("delete stale chunks: %w", err)
	}
	return affected(res)
}

// DeleteNamespace removes every vector in ns.
func (idx *Index) DeleteNamespace(ctx context.Context, ns string) (int, error) {
	res, err := idx.db.ExecContext(ctx, `DELETE FROM vectors WHERE namespace = ?`, ns)
	if err != nil {
		return 0, fmt.Errorf("delete namespace: %w", err)
	}
	return affected(res)
}

// Close closes the database.
func (idx *Index) Close() error {
	if err := idx.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func dimensions(ctx context.Context, q queryer, ns string) (int, error) {
	var dims int
	err := q.QueryRowContext(ctx, `SELECT dims FROM vectors WHERE namespace = ? LIMIT 1`, ns).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read namespace dimensions: %w", err)
	}
	return dims, nil
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// encode stores float32 values little-endian.
func encode(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeInto(buf []float32, blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(blob))
	}
	n := len(blob) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	for i := range n {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return buf, nil
}
