// Package embedding adapts embedding APIs behind a single Provider interface.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ErrUnknownProvider is returned by Registry.Get for unconfigured names.
var ErrUnknownProvider = errors.New("unknown embedding provider")

// Provider turns text into vectors.
type Provider interface {
	Name() string
	// Dimensions is the vector width, or 0 until the first response when
	// it was not configured.
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider kinds.
const (
	KindOpenAI = "openai"
	KindOllama = "ollama"
)

// Config describes one provider endpoint.
type Config struct {
	Kind        string
	BaseURL     string
	APIKey      string
	Model       string
	Dimensions  int
	Timeout     time.Duration
	BatchSize   int
	Concurrency int
}

// New builds the adapter for cfg.Kind wrapped in a Batcher.
func New(name string, cfg Config, client *http.Client) (Provider, error) {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	var base Provider
	switch strings.ToLower(cfg.Kind) {
	case KindOpenAI:
		base = NewOpenAI(name, cfg, client)
	case KindOllama:
		base = NewOllama(name, cfg, client)
	default:
		return nil, fmt.Errorf("embedding provider %s: unsupported kind %q", name, cfg.Kind)
	}
	return NewBatcher(base, cfg.BatchSize, cfg.Concurrency), nil
}

// dims tracks a configured or learned vector width.
type dims struct {
	n atomic.Int64
}

func (d *dims) get() int { return int(d.n.Load()) }

// check learns the width from the first vector and rejects mismatches.
func (d *dims) check(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("vector %d is empty", i)
		}
		want := d.n.Load()
		if want == 0 {
			d.n.CompareAndSwap(0, int64(len(v)))
			want = d.n.Load()
		}
		if int64(len(v)) != want {
			return fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), want)
		}
	}
	return nil
}
