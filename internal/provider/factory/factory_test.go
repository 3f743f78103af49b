package factory

import (
	"errors"
	"testing"

	"chat-gateway/internal/config"
	"chat-gateway/internal/models"
	"chat-gateway/internal/provider"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Providers.Claude.APIKey = "sk-ant"
	cfg.Providers.Gemini.APIKey = "g-key"

	registry, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got := registry.Registered(); len(got) != 3 {
		t.Fatalf("Registered() = %v; want all three providers", got)
	}

	tests := []struct {
		name  models.Provider
		model string
	}{
		{models.ProviderClaude, "claude-sonnet-4-20250514"},
		{models.ProviderGemini, "gemini-2.0-flash"},
	}
	for _, tt := range tests {
		adapter, err := registry.Resolve(tt.name, "")
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", tt.name, err)
		}
		if adapter.Name() != tt.name || adapter.Model() != tt.model {
			t.Errorf("Resolve(%s) = %s/%s; want %s", tt.name, adapter.Name(), adapter.Model(), tt.model)
		}
	}

	_, err = registry.Resolve(models.ProviderOpenAI, "")
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Resolve(openai) without key error = %v; want *ConfigurationError", err)
	}
}

func TestNewHTTPClient_NoGlobalTimeout(t *testing.T) {
	t.Parallel()

	if c := newHTTPClient(); c.Timeout != 0 || c.Transport == nil {
		t.Errorf("newHTTPClient() = timeout %v, transport %v", c.Timeout, c.Transport)
	}
}
