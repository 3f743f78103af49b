package provider

import (
	"context"
	"errors"
	"io"
	"sync"

	"chat-gateway/internal/models"
	"chat-gateway/internal/provider/sse"
)

// Chunk is what a provider decoder extracts from one upstream event.
type Chunk struct {
	Text string
	// Usage is the provider-reported running token total, zero when absent.
	Usage int
	// Done marks the provider's terminal event.
	Done bool
}

// Decoder interprets one server-sent event. Decoders may keep state across
// calls; a new decoder is created per stream.
type Decoder func(ev sse.Event) (Chunk, error)

type eventStream struct {
	provider models.Provider
	reader   *sse.Reader
	decode   Decoder
	cancel   context.CancelFunc

	usage    int
	finished bool
	once     sync.Once
	closeErr error
}

// NewEventStream adapts an SSE response body into a Stream. cancel aborts the
// upstream request and is invoked on Close or when a Next context ends. The
// decoder must mark the provider's end-of-stream event Done: a body that ends
// before it is a truncated answer and yields a KindMalformed error.
func NewEventStream(p models.Provider, body io.ReadCloser, cancel context.CancelFunc, decode Decoder) Stream {
	if cancel == nil {
		cancel = func() {}
	}
	return &eventStream{
		provider: p,
		reader:   sse.NewReader(body),
		decode:   decode,
		cancel:   cancel,
	}
}

func (s *eventStream) Next(ctx context.Context) (string, bool, error) {
	for {
		if s.finished {
			return "", false, nil
		}
		if err := ctx.Err(); err != nil {
			return "", false, TransportError(s.provider, err)
		}

		ev, err := s.readEvent(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finished = true
				return "", false, MalformedError(s.provider, "stream ended before completion")
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return "", false, TransportError(s.provider, err)
		}

		chunk, err := s.decode(ev)
		if err != nil {
			s.finished = true
			return "", false, err
		}
		if chunk.Usage > 0 {
			s.usage = chunk.Usage
		}
		if chunk.Done {
			s.finished = true
		}
		if chunk.Text != "" {
			return chunk.Text, true, nil
		}
	}
}

func (s *eventStream) readEvent(ctx context.Context) (sse.Event, error) {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	return s.reader.Next()
}

func (s *eventStream) Usage() (int, bool) {
	return s.usage, s.usage > 0
}

func (s *eventStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}
