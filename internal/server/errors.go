package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"chat-gateway/internal/auth"
	"chat-gateway/internal/chat"
	"chat-gateway/internal/models"
	"chat-gateway/internal/provider"
	"chat-gateway/internal/quota"
	"chat-gateway/internal/translator"
)

// Error codes carried in the "code" field of error bodies.
const (
	codeValidation      = "VALIDATION_ERROR"
	codeTooLarge        = "PAYLOAD_TOO_LARGE"
	codeConfiguration   = "CONFIGURATION_ERROR"
	codeUnsupported     = "UNSUPPORTED_PROVIDER"
	codeQuotaExceeded   = "QUOTA_EXCEEDED"
	codeUnavailable     = "QUOTA_UNAVAILABLE"
	codeNotReady        = "SERVICE_UNAVAILABLE"
	codeNotFound        = "NOT_FOUND"
	codeProvider        = "PROVIDER_ERROR"
	codeProviderTimeout = "PROVIDER_TIMEOUT"
	codeUnauthorized    = "UNAUTHORIZED"
	codeRateLimited     = "RATE_LIMITED"
	codeInternal        = "INTERNAL_ERROR"

	internalDetail = "internal server error"
)

type requestError struct {
	Status  int
	Message string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", c.Request().Method),
			slog.String("uri", c.Request().RequestURI),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

// classify maps err onto a status and a body that is safe to return.
func classify(err error) (int, translator.ErrorResponse) {
	var (
		reqErr      requestError
		cfgErr      *provider.ConfigurationError
		unsupported *provider.UnsupportedProviderError
		exceeded    *quota.ExceededError
		providerErr *provider.Error
		httpErr     *echo.HTTPError
	)

	switch {
	case errors.As(err, &reqErr):
		return reqErr.Status, translator.ErrorResponse{Detail: reqErr.Message, Code: reqErr.Code}
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, translator.ErrorResponse{Detail: err.Error(), Code: codeValidation}
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, translator.ErrorResponse{Detail: cfgErr.Error(), Code: codeConfiguration}
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, translator.ErrorResponse{Detail: unsupported.Error(), Code: codeUnsupported}
	case errors.As(err, &exceeded):
		return http.StatusBadRequest, translator.ErrorResponse{Detail: exceeded.Error(), Code: codeQuotaExceeded}
	case errors.Is(err, quota.ErrUnavailable):
		return http.StatusServiceUnavailable, translator.ErrorResponse{Detail: "quota service unavailable, retry later", Code: codeUnavailable}
	case errors.Is(err, chat.ErrConversationNotFound):
		return http.StatusNotFound, translator.ErrorResponse{Detail: "Conversation not found", Code: codeNotFound}
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, translator.ErrorResponse{Detail: err.Error(), Code: codeUnauthorized}
	case errors.As(err, &providerErr):
		if providerErr.Timeout() {
			return http.StatusGatewayTimeout, translator.ErrorResponse{Detail: providerErr.SafeMessage(), Code: codeProviderTimeout}
		}
		return http.StatusBadGateway, translator.ErrorResponse{Detail: providerErr.SafeMessage(), Code: codeProvider}
	case errors.As(err, &httpErr):
		return httpErr.Code, translator.ErrorResponse{Detail: fmt.Sprint(httpErr.Message), Code: httpCode(httpErr.Code)}
	}

	return http.StatusInternalServerError, translator.ErrorResponse{Detail: internalDetail, Code: codeInternal}
}

func httpCode(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return codeUnauthorized
	case status == http.StatusNotFound:
		return codeNotFound
	case status == http.StatusRequestEntityTooLarge:
		return codeTooLarge
	case status == http.StatusTooManyRequests:
		return codeRateLimited
	case status >= http.StatusInternalServerError:
		return codeInternal
	}
	return codeValidation
}
