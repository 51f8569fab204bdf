package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/metrics"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI calls an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	request int
	dims    dims
	client  *http.Client
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAI builds the adapter. cfg.Dimensions, when set, is also sent as
// the requested output width.
func NewOpenAI(name string, cfg Config, client *http.Client) *OpenAI {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	o := &OpenAI{
		name:    name,
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		request: cfg.Dimensions,
		client:  client,
	}
	o.dims.n.Store(int64(cfg.Dimensions))
	return o
}

// Name returns the registry name.
func (o *OpenAI) Name() string { return o.name }

// Dimensions returns the vector width.
func (o *OpenAI) Dimensions() int { return o.dims.get() }

// Embed embeds a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request, returning vectors in input order.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.ObserveEmbedding(o.name, err, time.Since(start)) }()

	headers := map[string]string{}
	if o.apiKey != "" {
		headers["Authorization"] = "Bearer " + o.apiKey
	}
	var resp openAIResponse
	req := openAIRequest{Model: o.model, Input: texts, Dimensions: o.request}
	if err := postJSON(ctx, o.client, o.baseURL+"/embeddings", headers, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.External("embedding response size mismatch",
			fmt.Errorf("got %d vectors for %d inputs", len(resp.Data), len(texts)))
	}
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors = make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	if err := o.dims.check(vectors); err != nil {
		return nil, apperr.External("invalid embedding dimensions", err)
	}
	return vectors, nil
}
