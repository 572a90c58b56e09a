// Package api implements the HTTP surface: server profile management,
// chat completions with SSE streaming, websocket chat, and the
// consolidated tool list.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Uttam1728/mcp-toolkit/internal/buildinfo"
	"github.com/Uttam1728/mcp-toolkit/internal/chat"
	"github.com/Uttam1728/mcp-toolkit/internal/llm"
	"github.com/Uttam1728/mcp-toolkit/internal/mcp"
	"github.com/Uttam1728/mcp-toolkit/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// ChatRunner drives conversations. *chat.Adapter satisfies it.
type ChatRunner interface {
	Run(ctx context.Context, model string, messages []llm.Message) (*chat.Result, error)
	Stream(ctx context.Context, model string, messages []llm.Message) <-chan chat.Chunk
}

// ToolLister exposes the consolidated MCP tool surface. *mcp.Manager
// satisfies it.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	ServerNames() []string
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	chat     ChatRunner
	tools    ToolLister
	profiles *store.Store
	logger   *slog.Logger
	server   *http.Server
	stats    *SessionStats
}

// SessionStats tracks token usage for the current process lifetime.
type SessionStats struct {
	mu                sync.Mutex
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalRequests     int64
}

func (s *SessionStats) Record(inputTokens, outputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInputTokens += int64(inputTokens)
	s.TotalOutputTokens += int64(outputTokens)
	s.TotalRequests++
}

// Snapshot returns a copy-safe view of the stats.
func (s *SessionStats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int64{
		"total_input_tokens":  s.TotalInputTokens,
		"total_output_tokens": s.TotalOutputTokens,
		"total_requests":      s.TotalRequests,
	}
}

// NewServer creates an API server. profiles may be nil when profile
// persistence is disabled; the profile endpoints then return 503.
func NewServer(address string, port int, chatRunner ChatRunner, tools ToolLister, profiles *store.Store, logger *slog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		chat:     chatRunner,
		tools:    tools,
		profiles: profiles,
		logger:   logger,
		stats:    &SessionStats{},
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)

	mux.HandleFunc("GET /v1/tools", s.handleTools)

	mux.HandleFunc("GET /v1/servers", s.handleProfileList)
	mux.HandleFunc("POST /v1/servers", s.handleProfileCreate)
	mux.HandleFunc("GET /v1/servers/{id}", s.handleProfileGet)
	mux.HandleFunc("PUT /v1/servers/{id}", s.handleProfileUpdate)
	mux.HandleFunc("DELETE /v1/servers/{id}", s.handleProfileDelete)
	mux.HandleFunc("POST /v1/servers/{id}/toggle", s.handleProfileToggle)

	mux.HandleFunc("GET /v1/session/stats", s.handleSessionStats)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return mux
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// userID identifies the caller for profile scoping.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "default"
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "mcp-toolkit",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":  "healthy",
		"servers": s.tools.ServerNames(),
	}, s.logger)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.stats.Snapshot(), s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.tools.ListTools(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, "list tools: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count": len(tools),
		"tools": tools,
	}, s.logger)
}

// ChatCompletionRequest is the chat completions request format.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatCompletionResponse is the chat completions response format.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "messages are required")
		return
	}

	if req.Stream {
		s.handleStreamingCompletion(w, r, req.Model, req.Messages)
		return
	}

	result, err := s.chat.Run(r.Context(), req.Model, req.Messages)
	if err != nil {
		s.logger.Error("chat failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "chat error")
		return
	}

	s.stats.Record(result.InputTokens, result.OutputTokens)

	completion := ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   result.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: llm.Message{
					Role:    "assistant",
					Content: result.Content,
				},
				FinishReason: "stop",
			},
		},
		Usage: Usage{
			PromptTokens:     result.InputTokens,
			CompletionTokens: result.OutputTokens,
			TotalTokens:      result.InputTokens + result.OutputTokens,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, completion, s.logger)
}

// StreamChunk is the SSE format for streaming responses.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice represents a streaming choice with delta content.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta represents incremental content.
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *Server) handleStreamingCompletion(w http.ResponseWriter, r *http.Request, model string, messages []llm.Message) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	completionID := fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()
	modelName := model

	rc := http.NewResponseController(w)

	for chunk := range s.chat.Stream(r.Context(), model, messages) {
		switch chunk.Kind {
		case chat.ChunkToken:
			s.writeSSE(w, StreamChunk{
				ID:      completionID,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   modelName,
				Choices: []StreamChoice{{
					Index: 0,
					Delta: StreamDelta{Content: chunk.Token},
				}},
			})
			flusher.Flush()

		case chat.ChunkToolCall, chat.ChunkToolResult:
			// SSE comment as keepalive during tool execution
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()

		case chat.ChunkDone:
			if chunk.Result != nil {
				modelName = chunk.Result.Model
				s.stats.Record(chunk.Result.InputTokens, chunk.Result.OutputTokens)
			}
			finishReason := "stop"
			s.writeSSE(w, StreamChunk{
				ID:      completionID,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   modelName,
				Choices: []StreamChoice{{
					Index:        0,
					Delta:        StreamDelta{},
					FinishReason: &finishReason,
				}},
			})
			fmt.Fprintf(w, "data: [DONE]\n\n")
			flusher.Flush()

		case chat.ChunkError:
			// Cannot change the status code mid-stream; log and close.
			s.logger.Error("chat stream failed", "error", chunk.Err)
			return
		}

		// Keep the write deadline ahead of long tool loops.
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, chunk StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Debug("failed to marshal SSE chunk", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE chunk", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}
