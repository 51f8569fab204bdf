// Package vectortest holds behaviour checks shared by vectorstore backends.
package vectortest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rag-crawler/internal/vectorstore"
)

func chunk(url string, idx int, values ...float32) vectorstore.Vector {
	return vectorstore.Vector{
		ID:     fmt.Sprintf("%s#%d", url, idx),
		Values: values,
		Metadata: vectorstore.Metadata{
			URL:        url,
			Title:      "Title",
			ChunkIndex: idx,
			Text:       fmt.Sprintf("chunk %d", idx),
		},
	}
}

// Run exercises an Index built fresh by newIndex for each subtest.
func Run(t *testing.T, newIndex func(t *testing.T) vectorstore.Index) {
	t.Helper()
	ctx := context.Background()

	t.Run("upsert and query", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, "docs", []vectorstore.Vector{
			chunk("https://a.example/", 0, 1, 0, 0),
			chunk("https://a.example/", 1, 0, 1, 0),
			chunk("https://b.example/", 0, 0.9, 0.1, 0),
		}))

		dims, err := idx.Dimensions(ctx, "docs")
		require.NoError(t, err)
		require.Equal(t, 3, dims)

		matches, err := idx.Query(ctx, "docs", []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		require.Equal(t, "https://a.example/#0", matches[0].ID)
		require.Equal(t, "https://b.example/#0", matches[1].ID)
		require.InDelta(t, 1, matches[0].Score, 1e-5)
		require.Equal(t, "chunk 0", matches[0].Metadata.Text)
		require.Equal(t, "https://a.example/", matches[0].Metadata.URL)

		empty, err := idx.Query(ctx, "other", []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, "docs", []vectorstore.Vector{chunk("https://a.example/", 0, 1, 0)}))
		require.NoError(t, idx.Upsert(ctx, "docs", []vectorstore.Vector{chunk("https://a.example/", 0, 0, 1)}))

		matches, err := idx.Query(ctx, "docs", []float32{0, 1}, 10)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		require.InDelta(t, 1, matches[0].Score, 1e-5)
	})

	t.Run("dimension guard", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, "docs", []vectorstore.Vector{chunk("https://a.example/", 0, 1, 0)}))
		err := idx.Upsert(ctx, "docs", []vectorstore.Vector{chunk("https://a.example/", 1, 1, 0, 0)})
		require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

		// Other namespaces are independent.
		require.NoError(t, idx.Upsert(ctx, "wide", []vectorstore.Vector{chunk("https://a.example/", 0, 1, 0, 0)}))
		dims, err := idx.Dimensions(ctx, "wide")
		require.NoError(t, err)
		require.Equal(t, 3, dims)
	})

	t.Run("delete stale", func(t *testing.T) {
		idx := newIndex(t)
		var vectors []vectorstore.Vector
		for i := range 5 {
			vectors = append(vectors, chunk("https://a.example/", i, 1, float32(i)))
		}
		vectors = append(vectors, chunk("https://b.example/", 4, 1, 1))
		require.NoError(t, idx.Upsert(ctx, "docs", vectors))

		removed, err := idx.DeleteStale(ctx, "docs", "https://a.example/", 3)
		require.NoError(t, err)
		require.Equal(t, 2, removed)

		matches, err := idx.Query(ctx, "docs", []float32{1, 1}, 10)
		require.NoError(t, err)
		require.Len(t, matches, 4)
	})

	t.Run("delete namespace", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, "docs", []vectorstore.Vector{
			chunk("https://a.example/", 0, 1, 0),
			chunk("https://a.example/", 1, 0, 1),
		}))
		require.NoError(t, idx.Upsert(ctx, "keep", []vectorstore.Vector{chunk("https://a.example/", 0, 1, 0)}))

		removed, err := idx.DeleteNamespace(ctx, "docs")
		require.NoError(t, err)
		require.Equal(t, 2, removed)

		dims, err := idx.Dimensions(ctx, "docs")
		require.NoError(t, err)
		require.Zero(t, dims)
		dims, err = idx.Dimensions(ctx, "keep")
		require.NoError(t, err)
		require.Equal(t, 2, dims)
	})
}
