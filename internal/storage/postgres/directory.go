package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/rag-crawler/internal/store"
)

// Directory resolves caller identities to emails from the users table.
type Directory struct {
	db    DB
	table string
}

// NewDirectory wraps db. An empty table defaults to users.
func NewDirectory(db DB, table string) (*Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "users")
	if err != nil {
		return nil, err
	}
	return &Directory{db: db, table: table}, nil
}

// ResolveEmail returns the lower-cased email for identity.
func (d *Directory) ResolveEmail(ctx context.Context, identity string) (string, error) {
	var email string
	query := fmt.Sprintf(`SELECT email FROM %s WHERE id = $1`, d.table)
	err := d.db.QueryRow(ctx, query, identity).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve email: %w", err)
	}
	return strings.ToLower(email), nil
}
