package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Provider names an upstream model family.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Providers lists every provider the gateway knows how to talk to.
func Providers() []Provider {
	return []Provider{ProviderClaude, ProviderOpenAI, ProviderGemini}
}

// Known reports whether p is one of Providers.
func (p Provider) Known() bool {
	for _, known := range Providers() {
		if p == known {
			return true
		}
	}
	return false
}

// ChatMessage is a single conversational turn.
type ChatMessage struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

// ChatRequest is the canonical completion request accepted by the gateway.
type ChatRequest struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Provider       Provider      `json:"provider" validate:"required"`
	Model          string        `json:"model"`
	Stream         bool          `json:"stream"`
	Temperature    float64       `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      *int          `json:"max_tokens" validate:"omitempty,gte=1,lte=4096"`
}

// LastMessage returns the newest turn, which is persisted as the user message.
func (r ChatRequest) LastMessage() ChatMessage {
	if len(r.Messages) == 0 {
		return ChatMessage{}
	}
	return r.Messages[len(r.Messages)-1]
}

// CompletionResult is what every adapter produces on the buffered path.
type CompletionResult struct {
	Content      string
	TokensUsed   int
	FinishReason string
}

// EventKind tags a StreamEvent.
type EventKind int

const (
	EventContent EventKind = iota
	EventDone
	EventError
)

// StreamEvent is one frame of the streaming protocol. A stream carries zero or
// more content events followed by exactly one done or error event.
type StreamEvent struct {
	Kind       EventKind
	Content    string
	TokensUsed int
	Message    string
}

// ContentEvent carries a text fragment.
func ContentEvent(fragment string) StreamEvent {
	return StreamEvent{Kind: EventContent, Content: fragment}
}

// DoneEvent terminates a successful stream.
func DoneEvent(tokensUsed int) StreamEvent {
	return StreamEvent{Kind: EventDone, TokensUsed: tokensUsed}
}

// ErrorEvent terminates a failed stream.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Message: message}
}

// IsTerminal reports whether no further events may follow e.
func (e StreamEvent) IsTerminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

// MarshalJSON renders the payload carried in a `data:` frame.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventDone:
		return json.Marshal(struct {
			Done       bool `json:"done"`
			TokensUsed int  `json:"tokens_used"`
		}{Done: true, TokensUsed: e.TokensUsed})
	case EventError:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: e.Message})
	default:
		return json.Marshal(struct {
			Content string `json:"content"`
		}{Content: e.Content})
	}
}

// Tier is a subscription level controlling the monthly token allowance.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierUnknown    Tier = "unknown"
)

// QuotaInfo is the derived view of a user's allowance for the current period.
type QuotaInfo struct {
	Tier            Tier      `json:"tier"`
	TokensLimit     int       `json:"tokens_limit"`
	TokensUsed      int       `json:"tokens_used"`
	TokensRemaining int       `json:"tokens_remaining"`
	HasQuota        bool      `json:"has_quota"`
	ResetAt         time.Time `json:"reset_date"`
}

// UsageRecord is the append-only fact of tokens consumed by one completion.
type UsageRecord struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Provider       Provider  `json:"provider"`
	Model          string    `json:"model"`
	TokensUsed     int       `json:"tokens_used"`
	CostUSD        float64   `json:"cost_usd"`
	Timestamp      time.Time `json:"created_at"`
}

// ProviderUsage aggregates usage records for one provider.
type ProviderUsage struct {
	Tokens   int     `json:"tokens"`
	CostUSD  float64 `json:"cost"`
	Requests int     `json:"requests"`
}

// UsageSummary aggregates a user's usage over a period.
type UsageSummary struct {
	TotalMessages int                        `json:"total_messages"`
	TotalTokens   int                        `json:"total_tokens"`
	TotalCostUSD  float64                    `json:"total_cost_usd"`
	ByProvider    map[Provider]ProviderUsage `json:"by_provider"`
}

// Conversation is a persisted chat thread owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Provider  Provider  `json:"model_provider"`
	Model     string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredMessage is a persisted conversation turn.
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	TokensUsed     *int      `json:"tokens_used,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatResponse is returned for buffered completions.
type ChatResponse struct {
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id"`
	Content        string   `json:"content"`
	Provider       Provider `json:"provider"`
	Model          string   `json:"model"`
	TokensUsed     int      `json:"tokens_used"`
	FinishReason   string   `json:"finish_reason,omitempty"`
}
