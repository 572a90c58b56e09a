// Package chat runs LLM conversations with MCP-backed tool dispatch.
//
// The adapter owns the tool-call loop: it sends the conversation to the
// provider, executes any tool calls the model makes against the tool
// registry, splices the results back into the transcript, and re-sends
// until the model answers in plain text or the turn cap is hit.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Uttam1728/mcp-toolkit/internal/llm"
)

// DefaultMaxTurns caps how many times the model may call tools within a
// single Run before the loop aborts.
const DefaultMaxTurns = 3

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 60 * time.Second

// ErrToolLoopExceeded is returned when the model keeps requesting tools
// past the configured turn cap. Match with errors.Is.
var ErrToolLoopExceeded = errors.New("chat: tool loop exceeded turn limit")

// Toolset is the tool surface the adapter dispatches against.
// *tools.Registry satisfies it.
type Toolset interface {
	// List returns tool definitions in provider function-call format.
	List() []map[string]any

	// Execute runs a tool with JSON-encoded arguments.
	Execute(ctx context.Context, name string, argsJSON string) (string, error)
}

// Config configures an Adapter.
type Config struct {
	Model        string
	SystemPrompt string
	MaxTurns     int           // 0 means DefaultMaxTurns
	ToolTimeout  time.Duration // 0 means DefaultToolTimeout
	Logger       *slog.Logger
}

// Adapter drives conversations against one provider client and one
// toolset. It is stateless across calls; the caller owns the transcript.
type Adapter struct {
	client      llm.Client
	toolset     Toolset
	model       string
	system      string
	maxTurns    int
	toolTimeout time.Duration
	logger      *slog.Logger
}

// New creates an Adapter.
func New(client llm.Client, toolset Toolset, cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}

	return &Adapter{
		client:      client,
		toolset:     toolset,
		model:       cfg.Model,
		system:      cfg.SystemPrompt,
		maxTurns:    maxTurns,
		toolTimeout: toolTimeout,
		logger:      logger.With("component", "chat"),
	}
}

// Result is the outcome of one Run.
type Result struct {
	// Content is the model's final plain-text answer.
	Content string

	// Model is the model that produced the answer.
	Model string

	// Messages is the full spliced transcript including tool calls and
	// tool results, suitable for continuing the conversation.
	Messages []llm.Message

	// Turns is how many provider round trips were made.
	Turns int

	// ToolCalls is how many tool executions ran.
	ToolCalls int

	// Token usage aggregated across all turns.
	InputTokens  int
	OutputTokens int
}

// Run executes the conversation until the model produces a final text
// answer. Tool calls are dispatched between turns; a model that never
// stops calling tools fails with ErrToolLoopExceeded. An empty model
// falls back to the adapter's configured default.
func (a *Adapter) Run(ctx context.Context, model string, messages []llm.Message) (*Result, error) {
	return a.run(ctx, model, messages, nil)
}

func (a *Adapter) run(ctx context.Context, model string, messages []llm.Message, callback llm.StreamCallback) (*Result, error) {
	msgs := a.prepare(messages)
	toolDefs := a.toolset.List()

	if model == "" {
		model = a.model
	}
	result := &Result{Model: model}

	for turn := 1; turn <= a.maxTurns; turn++ {
		result.Turns = turn

		a.logger.Debug("provider turn", "turn", turn, "messages", len(msgs), "tools", len(toolDefs))

		resp, err := a.client.ChatStream(ctx, model, msgs, toolDefs, callback)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}
		if resp.Model != "" {
			result.Model = resp.Model
		}
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		if len(resp.Message.ToolCalls) == 0 {
			result.Content = resp.Message.Content
			msgs = append(msgs, llm.Message{Role: "assistant", Content: resp.Message.Content})
			result.Messages = msgs
			a.logger.Info("conversation complete",
				"turns", result.Turns,
				"tool_calls", result.ToolCalls,
				"input_tokens", result.InputTokens,
				"output_tokens", result.OutputTokens,
			)
			return result, nil
		}

		// The assistant's tool-call message goes into the transcript
		// first, then each result directly after it, so the provider
		// can correlate tool_call_id on the next turn.
		msgs = append(msgs, llm.Message{
			Role:      "assistant",
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		})

		for _, tc := range resp.Message.ToolCalls {
			if callback != nil {
				call := tc
				callback(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &call})
			}

			output, err := a.executeTool(ctx, tc)
			content := output
			if err != nil {
				// Feed the failure back to the model; it can recover
				// or explain instead of the whole run aborting.
				content = fmt.Sprintf("Error: %v", err)
				a.logger.Warn("tool execution failed", "tool", tc.Function.Name, "error", err)
			}
			result.ToolCalls++

			if callback != nil {
				ev := llm.StreamEvent{
					Kind:       llm.KindToolCallDone,
					ToolName:   tc.Function.Name,
					ToolResult: output,
				}
				if err != nil {
					ev.ToolError = err.Error()
				}
				callback(ev)
			}

			msgs = append(msgs, llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	return nil, fmt.Errorf("%w (%d turns)", ErrToolLoopExceeded, a.maxTurns)
}

// executeTool runs one tool call under the per-tool timeout.
func (a *Adapter) executeTool(ctx context.Context, tc llm.ToolCall) (string, error) {
	args := tc.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal arguments: %w", err)
	}

	toolCtx, cancel := context.WithTimeout(ctx, a.toolTimeout)
	defer cancel()

	start := time.Now()
	output, err := a.toolset.Execute(toolCtx, tc.Function.Name, string(argsJSON))
	a.logger.Debug("tool executed",
		"tool", tc.Function.Name,
		"duration", time.Since(start),
		"error", err != nil,
	)
	return output, err
}

// prepare prepends the system prompt unless the caller already supplied
// one, and copies the slice so Run never mutates its input.
func (a *Adapter) prepare(messages []llm.Message) []llm.Message {
	hasSystem := len(messages) > 0 && messages[0].Role == "system"

	out := make([]llm.Message, 0, len(messages)+1)
	if a.system != "" && !hasSystem {
		out = append(out, llm.Message{Role: "system", Content: a.system})
	}
	return append(out, messages...)
}
