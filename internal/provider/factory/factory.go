package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"chat-gateway/internal/config"
	"chat-gateway/internal/models"
	"chat-gateway/internal/provider"
	claudeProvider "chat-gateway/internal/provider/claude"
	geminiProvider "chat-gateway/internal/provider/gemini"
	openaiProvider "chat-gateway/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewRegistry builds a provider registry from configuration. Each provider gets
// its own transport so a slow upstream cannot starve the others' pools.
func NewRegistry(cfg config.Config) (*provider.Registry, error) {
	entries := []struct {
		name models.Provider
		cfg  config.ProviderConfig
		ctor provider.Constructor
	}{
		{models.ProviderClaude, cfg.Providers.Claude, claudeProvider.Constructor},
		{models.ProviderOpenAI, cfg.Providers.OpenAI, openaiProvider.Constructor},
		{models.ProviderGemini, cfg.Providers.Gemini, geminiProvider.Constructor},
	}

	credentials := make(map[models.Provider]provider.Credential, len(entries))
	for _, e := range entries {
		credentials[e.name] = provider.Credential{
			APIKey:  e.cfg.APIKey,
			BaseURL: e.cfg.BaseURL,
			Headers: e.cfg.Headers,
			Timeout: e.cfg.Timeout,
			Client:  newHTTPClient(),
		}
	}

	registry := provider.NewRegistry(credentials)
	for _, e := range entries {
		if err := registry.Register(e.name, e.ctor); err != nil {
			return nil, fmt.Errorf("register %s provider: %w", e.name, err)
		}
	}
	return registry, nil
}

// newHTTPClient leaves Client.Timeout unset: it would cut off long streams.
// Adapters bound each request with their configured timeout instead.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: transport}
}
