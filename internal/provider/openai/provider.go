package openai

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
	contentTypeJSON = "application/json"
	userAgent       = "chat-gateway/0.1"
	defaultModel    = "gpt-4-turbo-preview"
	doneSentinel    = "[DONE]"
)

// Provider implements the OpenAI chat completions API.
type Provider struct {
	apiKey  string
	headers map[string]string
	client  *http.Client
	timeout time.Duration
	model   string
	chatURL string
}

// New creates an OpenAI adapter for model, or the default model when empty.
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
		apiKey:  cred.APIKey,
		headers: cred.Headers,
		client:  cred.Client,
		timeout: cred.Timeout,
		model:   model,
		chatURL: baseURL + "/chat/completions",
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
	return models.ProviderOpenAI
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

	httpReq, err := p.newRequest(ctx, buildChatPayload(p.model, req, false))
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.RequestError(ctx, models.ProviderOpenAI, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var providerResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		if ctx.Err() != nil {
			return nil, provider.RequestError(ctx, models.ProviderOpenAI, err)
		}
		return nil, provider.MalformedError(models.ProviderOpenAI, "decode response: %w", err)
	}

	return providerResp.toResult()
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	ctx, cancel, disarm := provider.HeaderTimeout(ctx, p.timeout)

	httpReq, err := p.newRequest(ctx, buildChatPayload(p.model, req, true))
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.client.Do(httpReq)
	disarm()
	if err != nil {
		cancel()
		return nil, provider.RequestError(ctx, models.ProviderOpenAI, err)
	}

	if httpResp.StatusCode >= 400 {
		defer cancel()
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return provider.NewEventStream(models.ProviderOpenAI, httpResp.Body, cancel, decodeStreamEvent), nil
}

func (p *Provider) newRequest(ctx context.Context, payload chatPayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type chatPayload struct {
	Model         string          `json:"model"`
	Messages      []openAIMessage `json:"messages"`
	Temperature   float64         `json:"temperature"`
	MaxTokens     *int            `json:"max_tokens,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *streamOptions  `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatPayload(model string, req provider.Request, stream bool) chatPayload {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openAIMessage{Role: string(msg.Role), Content: msg.Content})
	}

	payload := chatPayload{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		v := *req.MaxTokens
		payload.MaxTokens = &v
	}
	if stream {
		payload.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return payload
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usageBlock) total() int {
	if u == nil {
		return 0
	}
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

func (r chatResponse) toResult() (*models.CompletionResult, error) {
	if len(r.Choices) == 0 {
		return nil, provider.MalformedError(models.ProviderOpenAI, "response did not include choices")
	}

	choice := r.Choices[0]
	return &models.CompletionResult{
		Content:      choice.Message.Content,
		TokensUsed:   r.Usage.total(),
		FinishReason: choice.FinishReason,
	}, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usageBlock     `json:"usage,omitempty"`
	Error *apiErrorObject `json:"error,omitempty"`
}

// decodeStreamEvent is stateless: every chunk carries its own delta and the
// final usage chunk arrives once, just before the sentinel.
func decodeStreamEvent(ev sse.Event) (provider.Chunk, error) {
	data := strings.TrimSpace(ev.Data)
	if data == doneSentinel {
		return provider.Chunk{Done: true}, nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return provider.Chunk{}, provider.MalformedError(models.ProviderOpenAI, "decode stream chunk: %w", err)
	}
	if chunk.Error != nil {
		return provider.Chunk{}, provider.StatusError(models.ProviderOpenAI, http.StatusBadGateway, chunk.Error.describe())
	}

	out := provider.Chunk{Usage: chunk.Usage.total()}
	for _, choice := range chunk.Choices {
		out.Text += choice.Delta.Content
	}
	return out, nil
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (e *apiErrorObject) describe() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return provider.StatusError(models.ProviderOpenAI, resp.StatusCode, fmt.Sprintf("failed to read error body: %v", err))
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return provider.StatusError(models.ProviderOpenAI, resp.StatusCode, apiErr.Error.describe())
	}

	return provider.StatusError(models.ProviderOpenAI, resp.StatusCode, strings.TrimSpace(string(body)))
}
