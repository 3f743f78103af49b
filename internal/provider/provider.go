package provider

import (
	"context"
	"net/http"
	"time"

	"chat-gateway/internal/models"
)

// Request carries the generation parameters shared by every adapter.
type Request struct {
	Messages    []models.ChatMessage
	Temperature float64
	MaxTokens   *int
}

// Adapter translates canonical chat types to one provider's native API.
type Adapter interface {
	Name() models.Provider
	DefaultModel() string
	Model() string
	// Generate performs a buffered completion.
	Generate(ctx context.Context, req Request) (*models.CompletionResult, error)
	// Stream opens an incremental completion. The caller must Close the stream.
	Stream(ctx context.Context, req Request) (Stream, error)
	// CountTokens approximates the token count of text.
	CountTokens(text string) int
}

// Stream is a pull iterator over content fragments. It is finite and cannot be
// restarted. Close releases the upstream connection and is safe to call twice.
type Stream interface {
	// Next returns the next fragment. ok is false once the stream is exhausted.
	Next(ctx context.Context) (fragment string, ok bool, err error)
	// Usage returns the provider-reported token total, if the provider sent one.
	Usage() (tokens int, ok bool)
	Close() error
}

// Credential is the immutable configuration an adapter is built from.
type Credential struct {
	APIKey  string
	BaseURL string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
}

// Constructor builds an adapter for the resolved model.
type Constructor func(cred Credential, model string) (Adapter, error)
