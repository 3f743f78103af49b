package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chat-gateway/internal/models"
	"chat-gateway/internal/provider"
	"chat-gateway/internal/provider/sse"
	"chat-gateway/internal/tokens"
)

const (
	contentTypeJSON  = "application/json"
	userAgent        = "chat-gateway/0.1"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// Provider implements Anthropic Claude API interactions.
type Provider struct {
	apiKey   string
	headers  map[string]string
	client   *http.Client
	timeout  time.Duration
	model    string
	messages string
}

// New constructs a Claude adapter for model, or the default model when empty.
func New(cred provider.Credential, model string) (*Provider, error) {
	if cred.Client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cred.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		apiKey:   cred.APIKey,
		headers:  cred.Headers,
		client:   cred.Client,
		timeout:  cred.Timeout,
		model:    model,
		messages: baseURL + "/v1/messages",
	}, nil
}

// Constructor adapts New to provider.Constructor.
func Constructor(cred provider.Credential, model string) (provider.Adapter, error) {
	p, err := New(cred, model)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Name() models.Provider {
	return models.ProviderClaude
}

func (p *Provider) DefaultModel() string {
	return defaultModel
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) CountTokens(text string) int {
	return tokens.Estimate(text)
}

func (p *Provider) Generate(ctx context.Context, req provider.Request) (*models.CompletionResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	httpReq, err := p.newRequest(ctx, buildMessagePayload(p.model, req, false))
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.RequestError(ctx, models.ProviderClaude, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var providerResp messageResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		if ctx.Err() != nil {
			return nil, provider.RequestError(ctx, models.ProviderClaude, err)
		}
		return nil, provider.MalformedError(models.ProviderClaude, "decode response: %w", err)
	}

	return providerResp.toResult()
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	ctx, cancel, disarm := provider.HeaderTimeout(ctx, p.timeout)

	httpReq, err := p.newRequest(ctx, buildMessagePayload(p.model, req, true))
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.client.Do(httpReq)
	disarm()
	if err != nil {
		cancel()
		return nil, provider.RequestError(ctx, models.ProviderClaude, err)
	}

	if httpResp.StatusCode >= 400 {
		defer cancel()
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return provider.NewEventStream(models.ProviderClaude, httpResp.Body, cancel, newStreamDecoder()), nil
}

func (p *Provider) newRequest(ctx context.Context, payload messagePayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.messages, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type messagePayload struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toProviderMessages keeps user and assistant turns as they are. Claude only
// accepts system instructions through the top-level system field.
func toProviderMessages(msgs []models.ChatMessage) ([]message, string) {
	out := make([]message, 0, len(msgs))
	var systemParts []string
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			if strings.TrimSpace(msg.Content) != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}
		out = append(out, message{Role: string(msg.Role), Content: msg.Content})
	}
	return out, strings.Join(systemParts, "\n\n")
}

func buildMessagePayload(model string, req provider.Request, stream bool) messagePayload {
	messages, system := toProviderMessages(req.Messages)

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	return messagePayload{
		Model:       model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

type messageResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	Usage      usageBlock     `json:"usage"`
	StopReason string         `json:"stop_reason"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (r messageResponse) toResult() (*models.CompletionResult, error) {
	if len(r.Content) == 0 {
		return nil, provider.MalformedError(models.ProviderClaude, "response missing content blocks")
	}

	text := strings.Builder{}
	for _, block := range r.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &models.CompletionResult{
		Content:      text.String(),
		TokensUsed:   max(0, r.Usage.InputTokens+r.Usage.OutputTokens),
		FinishReason: r.StopReason,
	}, nil
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage usageBlock `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Usage *usageBlock `json:"usage,omitempty"`
	Error *apiError   `json:"error,omitempty"`
}

func newStreamDecoder() provider.Decoder {
	var input, output int
	return func(ev sse.Event) (provider.Chunk, error) {
		var payload streamEvent
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			return provider.Chunk{}, provider.MalformedError(models.ProviderClaude, "decode stream event: %w", err)
		}

		switch payload.Type {
		case "message_start":
			if payload.Message != nil {
				input = payload.Message.Usage.InputTokens
				output = payload.Message.Usage.OutputTokens
			}
		case "content_block_delta":
			if payload.Delta != nil && payload.Delta.Type == "text_delta" {
				return provider.Chunk{Text: payload.Delta.Text}, nil
			}
		case "message_delta":
			if payload.Usage != nil {
				output = payload.Usage.OutputTokens
			}
			return provider.Chunk{Usage: input + output}, nil
		case "message_stop":
			return provider.Chunk{Usage: input + output, Done: true}, nil
		case "error":
			msg := "stream error"
			errType := ""
			if payload.Error != nil {
				msg = payload.Error.Message
				errType = payload.Error.Type
			}
			return provider.Chunk{}, streamError(errType, msg)
		}
		return provider.Chunk{}, nil
	}
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func streamError(errType, msg string) error {
	status := http.StatusBadGateway
	switch errType {
	case "overloaded_error":
		status = 529
	case "rate_limit_error":
		status = http.StatusTooManyRequests
	case "authentication_error", "permission_error":
		status = http.StatusUnauthorized
	}
	return provider.StatusError(models.ProviderClaude, status, fmt.Sprintf("%s: %s", errType, msg))
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return provider.StatusError(models.ProviderClaude, resp.StatusCode, fmt.Sprintf("failed to read error body: %v", err))
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return provider.StatusError(models.ProviderClaude, resp.StatusCode, fmt.Sprintf("%s: %s", apiErr.Error.Type, apiErr.Error.Message))
	}

	return provider.StatusError(models.ProviderClaude, resp.StatusCode, strings.TrimSpace(string(body)))
}
