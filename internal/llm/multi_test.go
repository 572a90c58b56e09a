package llm

import (
	"context"
	"testing"
)

type stubClient struct {
	name  string
	calls int
}

func (s *stubClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	s.calls++
	return &ChatResponse{Model: model, Message: Message{Role: "assistant", Content: s.name}}, nil
}

func (s *stubClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	return s.Chat(ctx, model, messages, tools)
}

func (s *stubClient) Ping(ctx context.Context) error { return nil }

func TestMultiClient_RoutesByModel(t *testing.T) {
	openai := &stubClient{name: "openai"}
	anthropic := &stubClient{name: "anthropic"}

	m := NewMultiClient(openai)
	m.AddProvider("openai", openai)
	m.AddProvider("anthropic", anthropic)
	m.AddModel("claude-sonnet-4-20250514", "anthropic")
	m.AddModel("gpt-4o", "openai")

	resp, err := m.Chat(context.Background(), "claude-sonnet-4-20250514", nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "anthropic" {
		t.Errorf("routed to %q, want anthropic", resp.Message.Content)
	}

	// Unknown model falls back.
	resp, err = m.Chat(context.Background(), "mystery-model", nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "openai" {
		t.Errorf("fallback routed to %q, want openai", resp.Message.Content)
	}
}

func TestMultiClient_NoFallback(t *testing.T) {
	m := NewMultiClient(nil)
	if _, err := m.Chat(context.Background(), "gpt-4o", nil, nil); err == nil {
		t.Fatal("Chat with no provider should error")
	}
	if err := m.Ping(context.Background()); err == nil {
		t.Fatal("Ping with no fallback should error")
	}
}
