package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/Uttam1728/mcp-toolkit/internal/llm"
)

// ChunkKind identifies what a stream chunk carries.
type ChunkKind string

const (
	// ChunkToken is an incremental piece of assistant text.
	ChunkToken ChunkKind = "token"

	// ChunkToolCall announces a tool the model is invoking.
	ChunkToolCall ChunkKind = "tool_call"

	// ChunkToolResult carries the output of a completed tool execution.
	ChunkToolResult ChunkKind = "tool_result"

	// ChunkDone is the terminal success chunk; Result is set.
	ChunkDone ChunkKind = "done"

	// ChunkError is the terminal failure chunk; Err is set.
	ChunkError ChunkKind = "error"
)

// Chunk is one event on a streaming conversation. Every chunk in a
// stream shares the same ID so consumers can correlate interleaved
// streams.
type Chunk struct {
	ID   string    `json:"id"`
	Kind ChunkKind `json:"kind"`

	Token string `json:"token,omitempty"`

	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	ToolError  string         `json:"tool_error,omitempty"`

	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// Stream runs the conversation like Run but delivers progress on the
// returned channel: tokens as they arrive, tool activity between turns,
// and exactly one terminal chunk (done or error) before the channel
// closes. An empty model falls back to the adapter's configured
// default.
func (a *Adapter) Stream(ctx context.Context, model string, messages []llm.Message) <-chan Chunk {
	out := make(chan Chunk, 16)
	streamID := uuid.NewString()

	go func() {
		defer close(out)

		emit := func(c Chunk) {
			c.ID = streamID
			select {
			case out <- c:
			case <-ctx.Done():
			}
		}

		callback := func(ev llm.StreamEvent) {
			switch ev.Kind {
			case llm.KindToken:
				emit(Chunk{Kind: ChunkToken, Token: ev.Token})
			case llm.KindToolCallStart:
				if ev.ToolCall != nil {
					emit(Chunk{
						Kind:     ChunkToolCall,
						ToolName: ev.ToolCall.Function.Name,
						ToolArgs: ev.ToolCall.Function.Arguments,
					})
				}
			case llm.KindToolCallDone:
				emit(Chunk{
					Kind:       ChunkToolResult,
					ToolName:   ev.ToolName,
					ToolResult: ev.ToolResult,
					ToolError:  ev.ToolError,
				})
			}
		}

		result, err := a.run(ctx, model, messages, callback)
		if err != nil {
			emit(Chunk{Kind: ChunkError, Err: err})
			return
		}
		emit(Chunk{Kind: ChunkDone, Result: result})
	}()

	return out
}
