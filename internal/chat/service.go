// Package chat runs completions end to end: admission, provider dispatch,
// conversation bookkeeping and usage accounting.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chat-gateway/internal/models"
	"chat-gateway/internal/provider"
	"chat-gateway/internal/quota"
)

const defaultConversationTitle = "New Conversation"

// ErrConversationNotFound is returned when a conversation id does not exist or
// belongs to another user.
var ErrConversationNotFound = errors.New("conversation not found")

// Resolver builds the adapter for a request.
type Resolver interface {
	Resolve(name models.Provider, modelOverride string) (provider.Adapter, error)
}

// QuotaEnforcer admits or rejects a request before any provider work.
type QuotaEnforcer interface {
	Enforce(ctx context.Context, userID string, estimated int) error
}

// ConversationStore persists conversations and their messages. The store
// assigns ids and timestamps.
type ConversationStore interface {
	// Conversation looks up a conversation owned by userID; ok is false when absent.
	Conversation(ctx context.Context, userID, conversationID string) (conv models.Conversation, ok bool, err error)
	CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	AddMessage(ctx context.Context, msg models.StoredMessage) (models.StoredMessage, error)
}

// UsageRecorder receives one record per successful completion.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Service orchestrates buffered and streamed completions.
type Service struct {
	resolver  Resolver
	quota     QuotaEnforcer
	store     ConversationStore
	usage     UsageRecorder
	estimated int
	logger    *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithEstimatedTokens sets the per-request estimate passed to the quota check.
func WithEstimatedTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.estimated = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires the orchestrator to its collaborators.
func NewService(resolver Resolver, enforcer QuotaEnforcer, store ConversationStore, recorder UsageRecorder, opts ...Option) *Service {
	s := &Service{
		resolver:  resolver,
		quota:     enforcer,
		store:     store,
		usage:     recorder,
		estimated: quota.DefaultEstimatedTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Complete runs a buffered completion and persists both turns.
func (s *Service) Complete(ctx context.Context, userID string, req models.ChatRequest) (*models.ChatResponse, error) {
	adapter, conv, err := s.admit(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Generate(ctx, providerRequest(req))
	if err != nil {
		s.logger.Error("chat completion failed",
			slog.String("user_id", userID),
			slog.String("provider", string(adapter.Name())),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("generate completion: %w", err)
	}

	tokensUsed := max(0, result.TokensUsed)
	msg, err := s.store.AddMessage(ctx, models.StoredMessage{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        result.Content,
		TokensUsed:     &tokensUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}

	s.recordUsage(ctx, userID, conv.ID, adapter, tokensUsed)

	return &models.ChatResponse{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Content:        result.Content,
		Provider:       adapter.Name(),
		Model:          adapter.Model(),
		TokensUsed:     tokensUsed,
		FinishReason:   result.FinishReason,
	}, nil
}

// OpenStream performs admission and bookkeeping and opens the upstream stream.
// Any error is returned before a single frame has been produced. The caller
// must Run or Close the returned session.
func (s *Service) OpenStream(ctx context.Context, userID string, req models.ChatRequest) (*StreamSession, error) {
	adapter, conv, err := s.admit(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	stream, err := adapter.Stream(ctx, providerRequest(req))
	if err != nil {
		s.logger.Error("open stream failed",
			slog.String("user_id", userID),
			slog.String("provider", string(adapter.Name())),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("open stream: %w", err)
	}

	return &StreamSession{
		svc:          s,
		userID:       userID,
		conversation: conv,
		adapter:      adapter,
		stream:       stream,
	}, nil
}

// admit validates, enforces quota, resolves the adapter, finds or creates the
// conversation and stores the newest user turn.
func (s *Service) admit(ctx context.Context, userID string, req models.ChatRequest) (provider.Adapter, models.Conversation, error) {
	if err := req.Validate(); err != nil {
		return nil, models.Conversation{}, err
	}

	if err := s.quota.Enforce(ctx, userID, s.estimated); err != nil {
		return nil, models.Conversation{}, err
	}

	adapter, err := s.resolver.Resolve(req.Provider, req.Model)
	if err != nil {
		return nil, models.Conversation{}, err
	}

	conv, err := s.conversation(ctx, userID, req, adapter)
	if err != nil {
		return nil, models.Conversation{}, err
	}

	if _, err := s.store.AddMessage(ctx, models.StoredMessage{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.LastMessage().Content,
	}); err != nil {
		return nil, models.Conversation{}, fmt.Errorf("save user message: %w", err)
	}

	return adapter, conv, nil
}

func (s *Service) conversation(ctx context.Context, userID string, req models.ChatRequest, adapter provider.Adapter) (models.Conversation, error) {
	if req.ConversationID != "" {
		conv, ok, err := s.store.Conversation(ctx, userID, req.ConversationID)
		if err != nil {
			return models.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		if !ok {
			return models.Conversation{}, ErrConversationNotFound
		}
		return conv, nil
	}

	conv, err := s.store.CreateConversation(ctx, models.Conversation{
		UserID:   userID,
		Title:    defaultConversationTitle,
		Provider: adapter.Name(),
		Model:    adapter.Model(),
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) recordUsage(ctx context.Context, userID, conversationID string, adapter provider.Adapter, tokensUsed int) {
	err := s.usage.Record(ctx, models.UsageRecord{
		UserID:         userID,
		ConversationID: conversationID,
		Provider:       adapter.Name(),
		Model:          adapter.Model(),
		TokensUsed:     tokensUsed,
	})
	if err != nil {
		s.logger.Error("failed to record usage",
			slog.String("user_id", userID),
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}
}

func providerRequest(req models.ChatRequest) provider.Request {
	return provider.Request{
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}
