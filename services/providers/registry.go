package providers

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrModelNotSupported is returned when a model is not supported by any provider
	ErrModelNotSupported = errors.New("model not supported")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Registry manages provider instances and model mappings
type Registry struct {
	mu             sync.RWMutex
	providers      map[string]Provider
	modelProviders map[string]string // model -> provider name
	modelPrefixes  map[string]string // model prefix -> provider name
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers:      make(map[string]Provider),
		modelProviders: make(map[string]string),
		modelPrefixes:  make(map[string]string),
	}
}

// RegisterProvider registers a provider instance and all of its models
func (r *Registry) RegisterProvider(provider Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if _, exists := r.providers[name]; exists {
		return ErrProviderAlreadyRegistered
	}

	r.providers[name] = provider
	for _, model := range provider.ListModels() {
		r.modelProviders[model] = name
	}
	return nil
}

// RegisterModelPrefix routes unknown models starting with prefix to a
// provider, e.g. "claude-" -> "anthropic". The provider must still accept
// the model in ValidateModel.
func (r *Registry) RegisterModelPrefix(prefix, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[providerName]; !exists {
		return ErrProviderNotFound
	}
	r.modelPrefixes[prefix] = providerName
	return nil
}

// GetProvider retrieves a provider by name
func (r *Registry) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// GetProviderForModel finds the provider that serves model. Successful
// prefix or probe lookups are cached.
func (r *Registry) GetProviderForModel(model string) (Provider, error) {
	provider, cached := r.resolve(model)
	if provider == nil {
		return nil, ErrModelNotSupported
	}

	if !cached {
		r.mu.Lock()
		r.modelProviders[model] = provider.Name()
		r.mu.Unlock()
	}
	return provider, nil
}

// resolve looks model up under the read lock. cached is false when the
// mapping was discovered by prefix or by probing providers.
func (r *Registry) resolve(model string) (provider Provider, cached bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, exists := r.modelProviders[model]; exists {
		if p, ok := r.providers[name]; ok {
			return p, true
		}
	}

	for prefix, name := range r.modelPrefixes {
		if !strings.HasPrefix(model, prefix) {
			continue
		}
		if p, ok := r.providers[name]; ok && p.ValidateModel(model) == nil {
			return p, false
		}
	}

	for _, name := range r.sortedProviderNames() {
		if p := r.providers[name]; p.ValidateModel(model) == nil {
			return p, false
		}
	}
	return nil, false
}

// sortedProviderNames returns provider names in a stable order. Caller holds mu.
func (r *Registry) sortedProviderNames() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListProviders returns all registered provider names, sorted
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedProviderNames()
}

// ListModels returns all known models across all providers, sorted
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.modelProviders))
	for model := range r.modelProviders {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// ValidateModel checks if a model is supported by any provider
func (r *Registry) ValidateModel(model string) error {
	_, err := r.GetProviderForModel(model)
	return err
}

// GetModelInfo retrieves model information
func (r *Registry) GetModelInfo(model string) (*ModelInfo, error) {
	provider, err := r.GetProviderForModel(model)
	if err != nil {
		return nil, err
	}
	return provider.GetModelInfo(model)
}
