package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rag-crawler/internal/vectorstore"
	"github.com/JakeFAU/rag-crawler/internal/vectorstore/vectortest"
)

func TestIndex(t *testing.T) {
	vectortest.Run(t, func(t *testing.T) vectorstore.Index {
		idx, err := Open(context.Background(), filepath.Join(t.TempDir(), "vectors.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		return idx
	})
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "vectors.db")

	idx, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, "docs", []vectorstore.Vector{{
		ID:       "a",
		Values:   []float32{0.25, -1.5},
		Metadata: vectorstore.Metadata{URL: "https://a.example/", ChunkIndex: 0},
	}}))
	require.NoError(t, idx.Close())

	idx, err = Open(ctx, path)
	require.NoError(t, err)
	defer idx.Close()

	matches, err := idx.Query(ctx, "docs", []float32{0.25, -1.5}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.InDelta(t, 1, matches[0].Score, 1e-6)

	_, err = idx.Query(ctx, "docs", []float32{1}, 1)
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	values := []float32{0, 1.5, -2.25, 3e-7}
	got, err := decodeInto(nil, encode(values))
	require.NoError(t, err)
	require.Equal(t, values, got)

	_, err = decodeInto(nil, []byte{1, 2, 3})
	require.Error(t, err)
}
