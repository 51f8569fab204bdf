// Package memory implements vectorstore.Index in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/rag-crawler/internal/vectorstore"
)

type namespace struct {
	dims    int
	vectors map[string]vectorstore.Vector
}

// Index is a map-backed vectorstore.Index.
type Index struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
}

var _ vectorstore.Index = (*Index)(nil)

// New creates an empty Index.
func New() *Index {
	return &Index{namespaces: make(map[string]*namespace)}
}

// Upsert stores copies of vectors.
func (idx *Index) Upsert(_ context.Context, ns string, vectors []vectorstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	space := idx.namespaces[ns]
	want := 0
	if space != nil {
		want = space.dims
	}
	dims, err := vectorstore.CheckDimensions(want, vectors)
	if err != nil {
		return err
	}
	if space == nil {
		space = &namespace{vectors: make(map[string]vectorstore.Vector)}
		idx.namespaces[ns] = space
	}
	space.dims = dims
	for _, v := range vectors {
		v.Values = append([]float32(nil), v.Values...)
		space.vectors[v.ID] = v
	}
	return nil
}

// Query scans the namespace.
func (idx *Index) Query(_ context.Context, ns string, vector []float32, topK int) ([]vectorstore.Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	space := idx.namespaces[ns]
	if space == nil {
		return []vectorstore.Match{}, nil
	}
	if len(vector) != space.dims {
		return nil, vectorstore.ErrDimensionMismatch
	}
	qNorm := vectorstore.Norm(vector)
	top := vectorstore.NewTopK(topK)
	for _, v := range space.vectors {
		top.Offer(vectorstore.Match{
			ID:       v.ID,
			Score:    vectorstore.Cosine(vector, v.Values, qNorm),
			Metadata: v.Metadata,
		})
	}
	return top.Results(), nil
}

// Dimensions returns the namespace width.
func (idx *Index) Dimensions(_ context.Context, ns string) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if space := idx.namespaces[ns]; space != nil {
		return space.dims, nil
	}
	return 0, nil
}

// DeleteStale removes trailing chunks of url.
func (idx *Index) DeleteStale(_ context.Context, ns, url string, keep int) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	space := idx.namespaces[ns]
	if space == nil {
		return 0, nil
	}
	removed := 0
	for id, v := range space.vectors {
		if v.Metadata.URL == url && v.Metadata.ChunkIndex >= keep {
			delete(space.vectors, id)
			removed++
		}
	}
	idx.dropIfEmpty(ns)
	return removed, nil
}

// DeleteNamespace drops ns.
func (idx *Index) DeleteNamespace(_ context.Context, ns string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	space := idx.namespaces[ns]
	if space == nil {
		return 0, nil
	}
	delete(idx.namespaces, ns)
	return len(space.vectors), nil
}

// Count returns the number of vectors in ns.
func (idx *Index) Count(ns string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if space := idx.namespaces[ns]; space != nil {
		return len(space.vectors)
	}
	return 0
}

// Close is a no-op.
func (idx *Index) Close() error { return nil }

func (idx *Index) dropIfEmpty(ns string) {
	if space := idx.namespaces[ns]; space != nil && len(space.vectors) == 0 {
		delete(idx.namespaces, ns)
	}
}
