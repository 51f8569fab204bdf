package embedding

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
)

// Registry holds the configured providers by name.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry builds every provider in configs.
func NewRegistry(configs map[string]Config, defaultName string, client *http.Client) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(configs)), defaultName: defaultName}
	for name, cfg := range configs {
		p, err := New(name, cfg, client)
		if err != nil {
			return nil, apperr.Configuration("build embedding registry", err)
		}
		r.providers[name] = p
	}
	return r, nil
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[p.Name()] = p
}

// Get returns the named provider; an empty name selects the default.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, apperr.Configuration(fmt.Sprintf("embedding provider %q is not configured", name), ErrUnknownProvider)
	}
	return p, nil
}

// Default returns the default provider.
func (r *Registry) Default() (Provider, error) {
	return r.Get("")
}

// Names lists configured providers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
