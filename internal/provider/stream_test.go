package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"chat-gateway/internal/models"
	"chat-gateway/internal/provider/sse"
)

type trackingBody struct {
	io.Reader
	closed int
}

func (b *trackingBody) Close() error {
	b.closed++
	return nil
}

func textDecoder(ev sse.Event) (Chunk, error) {
	switch ev.Data {
	case "stop":
		return Chunk{Done: true, Usage: 42}, nil
	case "bad":
		return Chunk{}, MalformedError(models.ProviderClaude, "bad event")
	case "usage":
		return Chunk{Usage: 7}, nil
	}
	return Chunk{Text: ev.Data}, nil
}

func TestEventStream_DoneStopsReading(t *testing.T) {
	t.Parallel()

	body := &trackingBody{Reader: strings.NewReader("data: a\n\ndata: \n\ndata: usage\n\ndata: b\n\ndata: stop\n\ndata: ignored\n\n")}
	var cancels int
	s := NewEventStream(models.ProviderClaude, body, func() { cancels++ }, textDecoder)

	var got []string
	for {
		frag, ok, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			break
		}
		got = append(got, frag)
	}
	if strings.Join(got, "") != "ab" {
		t.Errorf("fragments = %q; want a, b", got)
	}
	if usage, ok := s.Usage(); !ok || usage != 42 {
		t.Errorf("Usage() = %d, %v; want 42", usage, ok)
	}

	s.Close()
	s.Close()
	if body.closed != 1 || cancels != 1 {
		t.Errorf("body closed %d times, cancel called %d times; want 1 each", body.closed, cancels)
	}
}

func TestEventStream_EOFWithoutDone(t *testing.T) {
	t.Parallel()

	body := &trackingBody{Reader: strings.NewReader("data: only\n\ndata: usage\n\n")}
	s := NewEventStream(models.ProviderOpenAI, body, nil, textDecoder)
	defer s.Close()

	if frag, ok, err := s.Next(context.Background()); frag != "only" || !ok || err != nil {
		t.Fatalf("Next() = %q, %v, %v", frag, ok, err)
	}

	_, ok, err := s.Next(context.Background())
	var perr *Error
	if ok || !errors.As(err, &perr) || perr.Kind != KindMalformed {
		t.Fatalf("Next() at truncated end = %v, %v; want malformed error", ok, err)
	}
	if !strings.Contains(err.Error(), "stream ended before completion") {
		t.Errorf("error = %v", err)
	}
	if _, ok, err := s.Next(context.Background()); ok || err != nil {
		t.Errorf("Next() after truncation = %v, %v; want finished", ok, err)
	}
}

func TestEventStream_DecodeError(t *testing.T) {
	t.Parallel()

	body := &trackingBody{Reader: strings.NewReader("data: bad\n\ndata: after\n\n")}
	s := NewEventStream(models.ProviderClaude, body, nil, textDecoder)
	defer s.Close()

	_, _, err := s.Next(context.Background())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindMalformed {
		t.Fatalf("Next() error = %v; want malformed", err)
	}
	if _, ok, err := s.Next(context.Background()); ok || err != nil {
		t.Errorf("Next() after decode error = %v, %v; want finished", ok, err)
	}
}

func TestEventStream_CanceledContext(t *testing.T) {
	t.Parallel()

	body := &trackingBody{Reader: strings.NewReader("data: a\n\n")}
	s := NewEventStream(models.ProviderGemini, body, nil, textDecoder)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Next(ctx)
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindCanceled {
		t.Fatalf("Next() error = %v; want canceled", err)
	}
}
