package provider

import (
	"context"
	"errors"
	"testing"

	"chat-gateway/internal/models"
)

type stubAdapter struct {
	name  models.Provider
	model string
}

func (s *stubAdapter) Name() models.Provider { return s.name }
func (s *stubAdapter) DefaultModel() string  { return "stub-default" }
func (s *stubAdapter) Model() string         { return s.model }
func (s *stubAdapter) CountTokens(text string) int {
	return len(text) / 4
}
func (s *stubAdapter) Generate(context.Context, Request) (*models.CompletionResult, error) {
	return &models.CompletionResult{}, nil
}
func (s *stubAdapter) Stream(context.Context, Request) (Stream, error) {
	return nil, errors.New("not implemented")
}

func stubConstructor(calls *int) Constructor {
	return func(cred Credential, model string) (Adapter, error) {
		*calls++
		a := &stubAdapter{name: models.ProviderClaude, model: model}
		if a.model == "" {
			a.model = a.DefaultModel()
		}
		return a, nil
	}
}

func newTestRegistry(t *testing.T, key string, calls *int) *Registry {
	t.Helper()
	r := NewRegistry(map[models.Provider]Credential{
		models.ProviderClaude: {APIKey: key},
	})
	if err := r.Register(models.ProviderClaude, stubConstructor(calls)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

func TestRegistryResolve_DefaultAndOverride(t *testing.T) {
	t.Parallel()

	var calls int
	r := newTestRegistry(t, "sk-test", &calls)

	a, err := r.Resolve(models.ProviderClaude, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if a.Model() != "stub-default" {
		t.Errorf("Model() = %q; want default", a.Model())
	}

	a, err = r.Resolve(models.ProviderClaude, "  claude-custom ")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if a.Model() != "claude-custom" {
		t.Errorf("Model() = %q; want override", a.Model())
	}
}

func TestRegistryResolve_Idempotent(t *testing.T) {
	t.Parallel()

	var calls int
	r := newTestRegistry(t, "sk-test", &calls)

	first, err := r.Resolve(models.ProviderClaude, "m")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := r.Resolve(models.ProviderClaude, "m")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first.Model() != second.Model() || first.DefaultModel() != second.DefaultModel() {
		t.Errorf("adapters differ: %q/%q vs %q/%q", first.Model(), first.DefaultModel(), second.Model(), second.DefaultModel())
	}
	if first == second {
		t.Error("Resolve() returned a shared instance; want a fresh adapter per call")
	}
	if calls != 2 {
		t.Errorf("constructor calls = %d; want 2", calls)
	}
}

func TestRegistryResolve_MissingCredential(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"", "   "} {
		var calls int
		r := newTestRegistry(t, key, &calls)

		_, err := r.Resolve(models.ProviderClaude, "")
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("Resolve() error = %v; want *ConfigurationError", err)
		}
		if cfgErr.Provider != models.ProviderClaude {
			t.Errorf("ConfigurationError.Provider = %q", cfgErr.Provider)
		}
		if calls != 0 {
			t.Errorf("constructor called %d times for missing credential", calls)
		}
	}
}

func TestRegistryResolve_Unsupported(t *testing.T) {
	t.Parallel()

	var calls int
	r := newTestRegistry(t, "sk-test", &calls)

	for _, name := range []models.Provider{"mistral", models.ProviderGemini} {
		_, err := r.Resolve(name, "")
		var unsupported *UnsupportedProviderError
		if !errors.As(err, &unsupported) {
			t.Fatalf("Resolve(%q) error = %v; want *UnsupportedProviderError", name, err)
		}
	}
	if calls != 0 {
		t.Errorf("constructor called %d times for unsupported provider", calls)
	}
}

func TestRegistryRegister_Duplicate(t *testing.T) {
	t.Parallel()

	var calls int
	r := newTestRegistry(t, "sk-test", &calls)
	if err := r.Register(models.ProviderClaude, stubConstructor(&calls)); err == nil {
		t.Fatal("Register() duplicate error = nil")
	}
	if err := r.Register(models.ProviderOpenAI, nil); err == nil {
		t.Fatal("Register(nil) error = nil")
	}
	if got := r.Registered(); len(got) != 1 || got[0] != models.ProviderClaude {
		t.Errorf("Registered() = %v", got)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Kind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{429, KindRateLimit},
		{400, KindBadInput},
		{504, KindTimeout},
		{500, KindUpstream},
	}
	for _, tt := range tests {
		err := StatusError(models.ProviderOpenAI, tt.status, "boom")
		if err.Kind != tt.want {
			t.Errorf("StatusError(%d).Kind = %q; want %q", tt.status, err.Kind, tt.want)
		}
		if err.SafeMessage() == "" {
			t.Errorf("StatusError(%d).SafeMessage() is empty", tt.status)
		}
	}
}

func TestTransportErrorClassification(t *testing.T) {
	t.Parallel()

	if got := TransportError(models.ProviderGemini, context.DeadlineExceeded); !got.Timeout() {
		t.Errorf("deadline classified as %q", got.Kind)
	}
	if got := TransportError(models.ProviderGemini, context.Canceled); got.Kind != KindCanceled {
		t.Errorf("cancel classified as %q", got.Kind)
	}
	if got := TransportError(models.ProviderGemini, errors.New("connection refused")); got.Kind != KindNetwork {
		t.Errorf("network error classified as %q", got.Kind)
	}

	inner := StatusError(models.ProviderGemini, 401, "nope")
	if got := TransportError(models.ProviderGemini, inner); got != inner {
		t.Error("TransportError re-wrapped an existing *Error")
	}
}
