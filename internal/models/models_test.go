package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func validRequest() ChatRequest {
	return ChatRequest{
		Messages:    []ChatMessage{{Role: RoleUser, Content: "hello"}},
		Provider:    ProviderClaude,
		Stream:      true,
		Temperature: 1.0,
	}
}

func TestChatRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*ChatRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(*ChatRequest) {}},
		{name: "max tokens upper bound", mutate: func(r *ChatRequest) { r.MaxTokens = intPtr(4096) }},
		{name: "no messages", mutate: func(r *ChatRequest) { r.Messages = nil }, wantErr: "messages"},
		{name: "bad role", mutate: func(r *ChatRequest) { r.Messages[0].Role = "robot" }, wantErr: "messages[0].role"},
		{name: "temperature too high", mutate: func(r *ChatRequest) { r.Temperature = 2.5 }, wantErr: "temperature"},
		{name: "temperature negative", mutate: func(r *ChatRequest) { r.Temperature = -0.1 }, wantErr: "temperature"},
		{name: "max tokens zero", mutate: func(r *ChatRequest) { r.MaxTokens = intPtr(0) }, wantErr: "max_tokens"},
		{name: "max tokens too large", mutate: func(r *ChatRequest) { r.MaxTokens = intPtr(4097) }, wantErr: "max_tokens"},
		{name: "missing provider", mutate: func(r *ChatRequest) { r.Provider = "" }, wantErr: "provider"},
		{
			name: "last turn from assistant",
			mutate: func(r *ChatRequest) {
				r.Messages = append(r.Messages, ChatMessage{Role: RoleAssistant, Content: "hi"})
			},
			wantErr: "last message",
		},
		{name: "blank last turn", mutate: func(r *ChatRequest) { r.Messages[0].Content = "  " }, wantErr: "must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v; want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil; want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Validate() error = %v; want ErrInvalidRequest", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q; want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestStreamEventJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event StreamEvent
		want  string
	}{
		{ContentEvent("Hel"), `{"content":"Hel"}`},
		{DoneEvent(7), `{"done":true,"tokens_used":7}`},
		{ErrorEvent("boom"), `{"error":"boom"}`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.event)
		if err != nil {
			t.Fatalf("Marshal(%+v) error = %v", tt.event, err)
		}
		if string(got) != tt.want {
			t.Errorf("Marshal(%+v) = %s; want %s", tt.event, got, tt.want)
		}
	}
}

func TestStreamEventIsTerminal(t *testing.T) {
	t.Parallel()

	if ContentEvent("x").IsTerminal() {
		t.Error("content event reported terminal")
	}
	if !DoneEvent(0).IsTerminal() || !ErrorEvent("x").IsTerminal() {
		t.Error("done/error events must be terminal")
	}
}

func TestProviderKnown(t *testing.T) {
	t.Parallel()

	for _, p := range Providers() {
		if !p.Known() {
			t.Errorf("%q.Known() = false", p)
		}
	}
	if Provider("mistral").Known() {
		t.Error(`"mistral".Known() = true`)
	}
}
