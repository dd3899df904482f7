package adapters

import (
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/registrar/internal/payment/domain"
)

// Registry holds adapter factories and the configuration each provider's
// adapter is built from. Adapters are built lazily and cached.
type Registry struct {
	mu        sync.Mutex
	factories map[string]domain.AdapterFactory
	configs   map[string]domain.AdapterConfig
	adapters  map[string]domain.PaymentAdapter
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{
		factories: map[string]domain.AdapterFactory{},
		configs:   map[string]domain.AdapterConfig{},
		adapters:  map[string]domain.PaymentAdapter{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// Configure stores the adapter configuration for a registered provider.
func (r *Registry) Configure(cfg domain.AdapterConfig) error {
	provider := normalize(cfg.Provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[provider]; !ok {
		return domain.ErrProviderNotFound
	}
	cfg.Provider = provider
	r.configs[provider] = cfg
	delete(r.adapters, provider)
	return nil
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

// Providers lists the providers that have configuration.
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.configs))
	for provider := range r.configs {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out
}

// Adapter returns the configured adapter for provider.
func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.adapters[provider]; ok {
		return adapter, nil
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	cfg, ok := r.configs[provider]
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	adapter, err := factory.NewAdapter(cfg)
	if err != nil {
		return nil, err
	}
	r.adapters[provider] = adapter
	return adapter, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
