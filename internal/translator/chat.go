// Package translator converts between the HTTP wire format and canonical types.
package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chat-gateway/internal/models"
)

// Wire defaults applied when a field is omitted from the request body.
const (
	DefaultProvider    = models.ProviderClaude
	DefaultStream      = true
	DefaultTemperature = 1.0
)

var errInvalidContent = errors.New("invalid message content")

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	ConversationID string
	Messages       []ChatMessage
	Provider       models.Provider
	Model          string
	Stream         bool
	Temperature    float64
	MaxTokens      *int
}

// UnmarshalJSON decodes the body and fills in defaults for omitted fields.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		ConversationID *string       `json:"conversation_id"`
		Messages       []ChatMessage `json:"messages"`
		Provider       *string       `json:"provider"`
		Model          *string       `json:"model"`
		Stream         *bool         `json:"stream"`
		Temperature    *float64      `json:"temperature"`
		MaxTokens      *int          `json:"max_tokens"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	*r = ChatRequest{
		Messages:    raw.Messages,
		Provider:    DefaultProvider,
		Stream:      DefaultStream,
		Temperature: DefaultTemperature,
		MaxTokens:   raw.MaxTokens,
	}
	if raw.ConversationID != nil {
		r.ConversationID = strings.TrimSpace(*raw.ConversationID)
	}
	if raw.Provider != nil {
		r.Provider = models.Provider(strings.ToLower(strings.TrimSpace(*raw.Provider)))
	}
	if raw.Model != nil {
		r.Model = strings.TrimSpace(*raw.Model)
	}
	if raw.Stream != nil {
		r.Stream = *raw.Stream
	}
	if raw.Temperature != nil {
		r.Temperature = *raw.Temperature
	}
	return nil
}

// ToModel converts the wire request into the canonical request.
func (r ChatRequest) ToModel() models.ChatRequest {
	msgs := make([]models.ChatMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.ChatMessage{Role: models.Role(m.Role), Content: m.Content})
	}
	return models.ChatRequest{
		ConversationID: r.ConversationID,
		Messages:       msgs,
		Provider:       r.Provider,
		Model:          r.Model,
		Stream:         r.Stream,
		Temperature:    r.Temperature,
		MaxTokens:      r.MaxTokens,
	}
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string
	Content string
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	m.Content = content
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// ConversationList is the body of GET /api/v1/conversations.
type ConversationList struct {
	Conversations []models.Conversation `json:"conversations"`
}

// MessageList is the body of GET /api/v1/conversations/:id/messages.
type MessageList struct {
	Messages []models.StoredMessage `json:"messages"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}
