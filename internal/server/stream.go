package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"chat-gateway/internal/chat"
	"chat-gateway/internal/models"
)

// HeaderConversationID names the conversation a stream is appended to.
const HeaderConversationID = "X-Conversation-ID"

func (s *Server) writeStream(c echo.Context, session *chat.StreamSession) error {
	resp := c.Response()
	rc := http.NewResponseController(resp)

	header := resp.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set(HeaderConversationID, session.ConversationID())

	// The server write timeout bounds buffered responses only.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("failed to clear write deadline", slog.Any("error", err))
	}

	resp.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		session.Close()
		return fmt.Errorf("flush stream headers: %w", err)
	}

	emit := func(ev models.StreamEvent) error {
		if err := writeSSEEvent(resp, ev); err != nil {
			return err
		}
		return rc.Flush()
	}

	err := session.Run(c.Request().Context(), emit)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrClientGone):
		s.logger.Debug("stream ended by client", slog.String("conversation_id", session.ConversationID()))
	default:
		// Already reported to the client as an error event.
		s.logger.Warn("stream failed", slog.String("conversation_id", session.ConversationID()), slog.Any("error", err))
	}
	return nil
}

func writeSSEEvent(w http.ResponseWriter, ev models.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
