package provider

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"chat-gateway/internal/models"
)

// Registry maps provider names to adapter constructors and their credentials.
// It is a pure factory: every Resolve builds a new adapter.
type Registry struct {
	credentials  map[models.Provider]Credential
	constructors map[models.Provider]Constructor
}

// NewRegistry constructs a registry over a snapshot of credentials.
func NewRegistry(credentials map[models.Provider]Credential) *Registry {
	creds := make(map[models.Provider]Credential, len(credentials))
	for name, cred := range credentials {
		cred.Headers = maps.Clone(cred.Headers)
		creds[name] = cred
	}
	return &Registry{
		credentials:  creds,
		constructors: make(map[models.Provider]Constructor),
	}
}

// Register binds a constructor to a provider name. It is meant to be called
// during startup, before the registry serves requests.
func (r *Registry) Register(name models.Provider, ctor Constructor) error {
	if ctor == nil {
		return errors.New("constructor must not be nil")
	}
	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.constructors[name] = ctor
	return nil
}

// Resolve returns a fresh adapter for the provider, using modelOverride when set
// and the adapter's default model otherwise.
func (r *Registry) Resolve(name models.Provider, modelOverride string) (Adapter, error) {
	ctor, ok := r.constructors[name]
	if !ok || !name.Known() {
		return nil, &UnsupportedProviderError{Provider: name}
	}

	cred, ok := r.credentials[name]
	if !ok || strings.TrimSpace(cred.APIKey) == "" {
		return nil, &ConfigurationError{Provider: name}
	}

	adapter, err := ctor(cred, strings.TrimSpace(modelOverride))
	if err != nil {
		return nil, fmt.Errorf("initialise %s provider: %w", name, err)
	}
	return adapter, nil
}

// Registered lists the providers with a constructor, in canonical order.
func (r *Registry) Registered() []models.Provider {
	out := make([]models.Provider, 0, len(r.constructors))
	for _, name := range models.Providers() {
		if _, ok := r.constructors[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
