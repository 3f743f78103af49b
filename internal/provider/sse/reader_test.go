package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReaderNext(t *testing.T) {
	t.Parallel()

	raw := ": keep-alive\n" +
		"event: message_start\n" +
		"data: {\"a\":1}\n\n" +
		"data: line1\r\n" +
		"data: line2\r\n\r\n" +
		"\n\n" +
		"data:nospace\n"

	r := NewReader(io.NopCloser(strings.NewReader(raw)))
	defer r.Close()

	want := []Event{
		{Event: "message_start", Data: `{"a":1}`},
		{Data: "line1\nline2"},
		{Data: "nospace"},
	}
	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if got != w {
			t.Errorf("Next() #%d = %+v; want %+v", i, got, w)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after end error = %v; want io.EOF", err)
	}
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestReaderClose(t *testing.T) {
	t.Parallel()

	body := &closeTracker{Reader: strings.NewReader("")}
	r := NewReader(body)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !body.closed {
		t.Error("Close() did not close the body")
	}
}
