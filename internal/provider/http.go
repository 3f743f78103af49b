package provider

import (
	"context"
	"fmt"
	"time"

	"chat-gateway/internal/models"
)

var errHeaderTimeout = fmt.Errorf("waiting for response headers: %w", context.DeadlineExceeded)

// HeaderTimeout derives a cancellable context for a streaming request whose
// wait for response headers is bounded by timeout. disarm must be called once
// headers have arrived; the body may then be read for as long as it lasts.
func HeaderTimeout(parent context.Context, timeout time.Duration) (ctx context.Context, cancel context.CancelFunc, disarm func()) {
	ctx, cancelCause := context.WithCancelCause(parent)
	cancel = func() { cancelCause(context.Canceled) }
	if timeout <= 0 {
		return ctx, cancel, func() {}
	}

	timer := time.AfterFunc(timeout, func() { cancelCause(errHeaderTimeout) })
	return ctx, cancel, func() { timer.Stop() }
}

// RequestError classifies err using the context's cancellation cause, so a
// deadline is reported as a timeout rather than a generic network fault.
func RequestError(ctx context.Context, p models.Provider, err error) *Error {
	if cause := context.Cause(ctx); cause != nil {
		return &Error{Provider: p, Kind: TransportError(p, cause).Kind, Err: err}
	}
	return TransportError(p, err)
}
