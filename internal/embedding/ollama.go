package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/metrics"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// Ollama calls a local Ollama /api/embed endpoint.
type Ollama struct {
	name    string
	baseURL string
	model   string
	dims    dims
	client  *http.Client
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllama builds the adapter.
func NewOllama(name string, cfg Config, client *http.Client) *Ollama {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOllamaBaseURL
	}
	o := &Ollama{
		name:    name,
		baseURL: strings.TrimRight(base, "/"),
		model:   cfg.Model,
		client:  client,
	}
	o.dims.n.Store(int64(cfg.Dimensions))
	return o
}

// Name returns the registry name.
func (o *Ollama) Name() string { return o.name }

// Dimensions returns the vector width.
func (o *Ollama) Dimensions() int { return o.dims.get() }

// Embed embeds a single text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.ObserveEmbedding(o.name, err, time.Since(start)) }()

	var resp ollamaResponse
	if err := postJSON(ctx, o.client, o.baseURL+"/api/embed", nil, ollamaRequest{Model: o.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperr.External("embedding response size mismatch",
			fmt.Errorf("got %d vectors for %d inputs", len(resp.Embeddings), len(texts)))
	}
	if err := o.dims.check(resp.Embeddings); err != nil {
		return nil, apperr.External("invalid embedding dimensions", err)
	}
	return resp.Embeddings, nil
}
