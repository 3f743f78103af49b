package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"chat-gateway/internal/models"
)

// ConfigurationError reports a provider whose credential is missing or empty.
type ConfigurationError struct {
	Provider models.Provider
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s API key not configured", e.Provider)
}

// UnsupportedProviderError reports a provider value the registry cannot build.
type UnsupportedProviderError struct {
	Provider models.Provider
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported AI provider: %q", string(e.Provider))
}

// Kind classifies an upstream fault.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindTimeout   Kind = "timeout"
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindBadInput  Kind = "bad_request"
	KindUpstream  Kind = "upstream"
	KindMalformed Kind = "malformed_response"
	KindCanceled  Kind = "canceled"
)

// Error wraps every fault raised while talking to a provider.
type Error struct {
	Provider models.Provider
	Kind     Kind
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (status %d): %s", e.Provider, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage is a client-facing description that carries no upstream detail.
func (e *Error) SafeMessage() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s did not respond in time", e.Provider)
	case KindAuth:
		return fmt.Sprintf("%s rejected the configured credentials", e.Provider)
	case KindRateLimit:
		return fmt.Sprintf("%s rate limit reached, retry later", e.Provider)
	case KindBadInput:
		return fmt.Sprintf("%s rejected the request", e.Provider)
	case KindCanceled:
		return "request canceled"
	default:
		return fmt.Sprintf("%s request failed", e.Provider)
	}
}

// Timeout reports whether the fault was a deadline.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// TransportError classifies a failure from http.Client.Do or from reading a body.
func TransportError(p models.Provider, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Provider: p, Kind: kind, Err: err}
}

// StatusError classifies a non-2xx upstream response.
func StatusError(p models.Provider, status int, message string) *Error {
	kind := KindUpstream
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 400 && status < 500:
		kind = KindBadInput
	}
	return &Error{Provider: p, Kind: kind, Status: status, Message: message}
}

// MalformedError reports a response the adapter could not interpret.
func MalformedError(p models.Provider, format string, args ...any) *Error {
	return &Error{Provider: p, Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}
