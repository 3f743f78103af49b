package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chat-gateway/internal/models"
	"chat-gateway/internal/provider"
)

const genericStreamError = "failed to generate chat completion"

// ErrClientGone reports that the stream stopped because the consumer went away.
var ErrClientGone = errors.New("stream consumer disconnected")

// Emitter delivers one event to the client. A non-nil error means the client
// can no longer be reached.
type Emitter func(models.StreamEvent) error

// StreamSession is an opened streaming completion.
type StreamSession struct {
	svc          *Service
	userID       string
	conversation models.Conversation
	adapter      provider.Adapter
	stream       provider.Stream
}

// ConversationID identifies the conversation the stream is appended to.
func (s *StreamSession) ConversationID() string {
	return s.conversation.ID
}

// Close releases the upstream stream without running it.
func (s *StreamSession) Close() error {
	return s.stream.Close()
}

// Run relays fragments to emit and finishes with exactly one done or error
// event while the client is connected. When emit fails or ctx ends, Run stops
// without a terminal event and returns ErrClientGone. Usage is recorded only
// after a done event is due.
func (s *StreamSession) Run(ctx context.Context, emit Emitter) error {
	defer s.stream.Close()

	log := s.svc.logger.With(
		slog.String("user_id", s.userID),
		slog.String("conversation_id", s.conversation.ID),
		slog.String("provider", string(s.adapter.Name())),
	)

	var full strings.Builder
	for {
		fragment, ok, err := s.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("stream client disconnected")
				return ErrClientGone
			}
			log.Error("streaming error", slog.Any("error", err))
			return s.fail(emit, err)
		}
		if !ok {
			break
		}

		full.WriteString(fragment)
		if err := emit(models.ContentEvent(fragment)); err != nil {
			log.Info("stream client disconnected", slog.Any("error", err))
			return ErrClientGone
		}
	}

	if ctx.Err() != nil {
		return ErrClientGone
	}

	content := full.String()
	tokensUsed, reported := s.stream.Usage()
	if !reported {
		tokensUsed = s.adapter.CountTokens(content)
	}
	tokensUsed = max(0, tokensUsed)

	if _, err := s.svc.store.AddMessage(ctx, models.StoredMessage{
		ConversationID: s.conversation.ID,
		Role:           models.RoleAssistant,
		Content:        content,
		TokensUsed:     &tokensUsed,
	}); err != nil {
		log.Error("failed to save streamed message", slog.Any("error", err))
		return s.fail(emit, fmt.Errorf("save assistant message: %w", err))
	}

	s.svc.recordUsage(ctx, s.userID, s.conversation.ID, s.adapter, tokensUsed)

	if err := emit(models.DoneEvent(tokensUsed)); err != nil {
		return ErrClientGone
	}
	return nil
}

// fail emits the terminal error event and returns cause.
func (s *StreamSession) fail(emit Emitter, cause error) error {
	if err := emit(models.ErrorEvent(clientMessage(cause))); err != nil {
		return ErrClientGone
	}
	return cause
}

// clientMessage reduces err to text that is safe to show a client.
func clientMessage(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.SafeMessage()
	}
	return genericStreamError
}
