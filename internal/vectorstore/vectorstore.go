// Package vectorstore defines the namespaced vector index used for retrieval
// and the similarity helpers shared by its backends.
package vectorstore

import (
	"container/heap"
	"context"
	"errors"
	"math"
	"sort"
)

// ErrDimensionMismatch rejects vectors whose width differs from the
// namespace's existing vectors.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Metadata travels with every stored chunk.
type Metadata struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	ChunkIndex int    `json:"chunkIndex"`
	Text       string `json:"text,omitempty"`
}

// Vector is one chunk embedding.
type Vector struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Match is a query hit.
type Match struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Index stores vectors per namespace.
type Index interface {
	// Upsert inserts or replaces vectors by ID.
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// Query returns up to topK matches by cosine similarity, best first.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	// Dimensions returns the namespace width, or 0 when it is empty.
	Dimensions(ctx context.Context, namespace string) (int, error)
	// DeleteStale removes chunks of url with ChunkIndex >= keep.
	DeleteStale(ctx context.Context, namespace, url string, keep int) (int, error)
	// DeleteNamespace removes every vector in namespace.
	DeleteNamespace(ctx context.Context, namespace string) (int, error)
	Close() error
}

// CheckDimensions verifies every vector has width want; want 0 adopts the
// first vector's width. It returns the resulting width.
func CheckDimensions(want int, vectors []Vector) (int, error) {
	for _, v := range vectors {
		if want == 0 {
			want = len(v.Values)
		}
		if len(v.Values) == 0 || len(v.Values) != want {
			return 0, ErrDimensionMismatch
		}
	}
	return want, nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b given a's norm.
func Cosine(a, b []float32, aNorm float64) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	bNorm := Norm(b)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (aNorm * bNorm))
}

// TopK keeps the k best-scoring matches with a min-heap.
type TopK struct {
	k int
	h matchHeap
}

// NewTopK creates a TopK collector. Non-positive k defaults to 5.
func NewTopK(k int) *TopK {
	if k <= 0 {
		k = 5
	}
	return &TopK{k: k}
}

// Offer considers m.
func (t *TopK) Offer(m Match) {
	if t.h.Len() < t.k {
		heap.Push(&t.h, m)
		return
	}
	if m.Score > t.h[0].Score {
		t.h[0] = m
		heap.Fix(&t.h, 0)
	}
}

// Results returns matches best first.
func (t *TopK) Results() []Match {
	out := append([]Match(nil), t.h...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out
}

type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
