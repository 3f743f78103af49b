package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-gateway/internal/models"
	"chat-gateway/internal/provider"
	"chat-gateway/internal/provider/sse"
	"chat-gateway/internal/tokens"
)

const (
	contentTypeJSON     = "application/json"
	userAgent           = "chat-gateway/0.1"
	defaultModel        = "gemini-2.0-flash"
	defaultFinishReason = "stop"
)

// Provider implements the Google Generative Language API.
type Provider struct {
	apiKey    string
	headers   map[string]string
	client    *http.Client
	timeout   time.Duration
	model     string
	generate  string
	streamURL string
}

// New creates a Gemini adapter for model, or the default model when empty.
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

	modelURL := baseURL + "/v1beta/models/" + url.PathEscape(model)
	return &Provider{
		apiKey:    cred.APIKey,
		headers:   cred.Headers,
		client:    cred.Client,
		timeout:   cred.Timeout,
		model:     model,
		generate:  modelURL + ":generateContent",
		streamURL: modelURL + ":streamGenerateContent?alt=sse",
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
	return models.ProviderGemini
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

	httpReq, err := p.newRequest(ctx, p.generate, buildPayload(req))
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.RequestError(ctx, models.ProviderGemini, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var providerResp generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		if ctx.Err() != nil {
			return nil, provider.RequestError(ctx, models.ProviderGemini, err)
		}
		return nil, provider.MalformedError(models.ProviderGemini, "decode response: %w", err)
	}

	return providerResp.toResult()
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	ctx, cancel, disarm := provider.HeaderTimeout(ctx, p.timeout)

	httpReq, err := p.newRequest(ctx, p.streamURL, buildPayload(req))
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.client.Do(httpReq)
	disarm()
	if err != nil {
		cancel()
		return nil, provider.RequestError(ctx, models.ProviderGemini, err)
	}

	if httpResp.StatusCode >= 400 {
		defer cancel()
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return provider.NewEventStream(models.ProviderGemini, httpResp.Body, cancel, decodeStreamEvent), nil
}

// newRequest sends the key as a header so it never appears in a logged URL.
func (p *Provider) newRequest(ctx context.Context, endpoint string, payload generatePayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-goog-api-key", p.apiKey)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type generatePayload struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens *int    `json:"maxOutputTokens,omitempty"`
}

// toPrompt flattens the whole conversation into one user turn of
// "role: content" lines separated by blank lines.
func toPrompt(msgs []models.ChatMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(lines, "\n\n")
}

func buildPayload(req provider.Request) generatePayload {
	payload := generatePayload{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: toPrompt(req.Messages)}},
		}},
		GenerationConfig: generationConfig{Temperature: req.Temperature},
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		v := *req.MaxTokens
		payload.GenerationConfig.MaxOutputTokens = &v
	}
	return payload
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	Error         *apiError      `json:"error,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func (u *usageMetadata) total() int {
	if u == nil {
		return 0
	}
	return max(0, u.PromptTokenCount+u.CandidatesTokenCount)
}

// text returns the first candidate's parts; other candidates are ignored.
func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (r generateResponse) toResult() (*models.CompletionResult, error) {
	if len(r.Candidates) == 0 {
		return nil, provider.MalformedError(models.ProviderGemini, "response did not include candidates")
	}

	finish := strings.ToLower(r.Candidates[0].FinishReason)
	if finish == "" {
		finish = defaultFinishReason
	}

	return &models.CompletionResult{
		Content:      r.text(),
		TokensUsed:   r.UsageMetadata.total(),
		FinishReason: finish,
	}, nil
}

// decodeStreamEvent handles one streamed GenerateContentResponse. Gemini
// repeats usageMetadata as a running total on every chunk and marks the last
// one with a finishReason.
func decodeStreamEvent(ev sse.Event) (provider.Chunk, error) {
	var chunk generateResponse
	if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
		return provider.Chunk{}, provider.MalformedError(models.ProviderGemini, "decode stream chunk: %w", err)
	}
	if chunk.Error != nil {
		status := chunk.Error.Code
		if status == 0 {
			status = http.StatusBadGateway
		}
		return provider.Chunk{}, provider.StatusError(models.ProviderGemini, status, chunk.Error.describe())
	}

	done := len(chunk.Candidates) > 0 && chunk.Candidates[0].FinishReason != ""
	return provider.Chunk{Text: chunk.text(), Usage: chunk.UsageMetadata.total(), Done: done}, nil
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *apiError) describe() string {
	if e.Status == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return provider.StatusError(models.ProviderGemini, resp.StatusCode, fmt.Sprintf("failed to read error body: %v", err))
	}

	// Error bodies arrive either as an object or as a one-element array.
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return provider.StatusError(models.ProviderGemini, resp.StatusCode, apiErr.Error.describe())
	}
	var wrapped []apiErrorResponse
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped) > 0 && wrapped[0].Error.Message != "" {
		return provider.StatusError(models.ProviderGemini, resp.StatusCode, wrapped[0].Error.describe())
	}

	return provider.StatusError(models.ProviderGemini, resp.StatusCode, strings.TrimSpace(string(body)))
}
