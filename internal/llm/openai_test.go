package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClientImplementsInterface(t *testing.T) {
	// Compile-time check that OpenAIClient implements Client
	var _ Client = (*OpenAIClient)(nil)
}

func TestConvertToOpenAI_ToolArgumentsEncoded(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "search please"},
		{
			Role:      "assistant",
			ToolCalls: []ToolCall{NewToolCall("call_1", "search", map[string]any{"query": "golang"})},
		},
		{Role: "tool", Content: "result-A", ToolCallID: "call_1"},
	}

	wire := convertToOpenAI(messages)
	if len(wire) != 3 {
		t.Fatalf("got %d messages, want 3", len(wire))
	}

	tc := wire[1].ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" {
		t.Errorf("tool call = %+v", tc)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments are not valid JSON: %q", tc.Function.Arguments)
	}
	if args["query"] != "golang" {
		t.Errorf("arguments = %v", args)
	}

	if wire[2].ToolCallID != "call_1" {
		t.Errorf("tool message ToolCallID = %q", wire[2].ToolCallID)
	}
}

func TestConvertFromOpenAI_ToolArgumentsDecoded(t *testing.T) {
	var msg openaiMessage
	raw := `{
		"role": "assistant",
		"content": "",
		"tool_calls": [
			{"id":"call_7","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"/etc/hosts\"}"}}
		]
	}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}

	out := convertFromOpenAI(msg)
	if len(out.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(out.ToolCalls))
	}
	tc := out.ToolCalls[0]
	if tc.ID != "call_7" || tc.Function.Name != "read_file" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments["path"] != "/etc/hosts" {
		t.Errorf("arguments = %v", tc.Function.Arguments)
	}
}

func TestOpenAIChat_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		body, _ := io.ReadAll(r.Body)
		var req openaiRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body: %v", err)
		}
		if req.Stream {
			t.Error("stream should be false for Chat")
		}

		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"created": 1714000000,
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [
						{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"query\":\"golang\"}"}}
					]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 55, "completion_tokens": 12}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key", srv.URL, nil)
	resp, err := c.Chat(context.Background(), "gpt-4o",
		[]Message{{Role: "user", Content: "search for golang"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Model != "gpt-4o" {
		t.Errorf("Model = %q", resp.Model)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Function.Name != "search" || tc.Function.Arguments["query"] != "golang" {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.InputTokens != 55 || resp.OutputTokens != 12 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

// openaiStreamBody carries text deltas and a tool call whose name and
// arguments arrive split across chunks, accumulated by index.
const openaiStreamBody = `data: {"model":"gpt-4o","choices":[{"delta":{"content":"Looking"},"finish_reason":""}]}

data: {"model":"gpt-4o","choices":[{"delta":{"content":" it up."},"finish_reason":""}]}

data: {"model":"gpt-4o","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search","arguments":""}}]},"finish_reason":""}]}

data: {"model":"gpt-4o","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"que"}}]},"finish_reason":""}]}

data: {"model":"gpt-4o","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ry\":\"golang\"}"}}]},"finish_reason":""}]}

data: {"model":"gpt-4o","choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":40,"completion_tokens":9}}

data: [DONE]

`

func TestOpenAIChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req openaiRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body: %v", err)
		}
		if !req.Stream {
			t.Error("stream should be true for ChatStream with callback")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, openaiStreamBody)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key", srv.URL, nil)

	var tokens string
	resp, err := c.ChatStream(context.Background(), "gpt-4o",
		[]Message{{Role: "user", Content: "search for golang"}}, nil,
		func(ev StreamEvent) {
			if ev.Kind == KindToken {
				tokens += ev.Token
			}
		})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if tokens != "Looking it up." {
		t.Errorf("streamed tokens = %q", tokens)
	}
	if resp.Message.Content != "Looking it up." {
		t.Errorf("final content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "search" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments["query"] != "golang" {
		t.Errorf("arguments = %v (fragments must reassemble)", tc.Function.Arguments)
	}
	if resp.InputTokens != 40 || resp.OutputTokens != 9 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOpenAIChat_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key", srv.URL, nil)
	_, err := c.Chat(context.Background(), "gpt-4o", []Message{{Role: "user", Content: "hi"}}, nil)
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("error = %v, want ErrProvider", err)
	}
}

func TestOpenAIPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key", srv.URL, nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpenAIPing_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIClient("bad-key", srv.URL, nil)
	if err := c.Ping(context.Background()); !errors.Is(err, ErrProvider) {
		t.Fatalf("error = %v, want ErrProvider", err)
	}
}
