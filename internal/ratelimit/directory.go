package ratelimit

import (
	"context"
	"strings"

	"github.com/JakeFAU/rag-crawler/internal/store"
)

// Directory resolves a caller identity to an email address.
type Directory interface {
	ResolveEmail(ctx context.Context, identity string) (string, error)
}

// StaticDirectory resolves identities from a fixed map.
type StaticDirectory map[string]string

// ResolveEmail returns store.ErrNotFound for unknown identities.
func (d StaticDirectory) ResolveEmail(_ context.Context, identity string) (string, error) {
	email, ok := d[identity]
	if !ok {
		return "", store.ErrNotFound
	}
	return strings.ToLower(email), nil
}
