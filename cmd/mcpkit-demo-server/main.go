// Mcpkit-demo-server is a small MCP server speaking newline-delimited
// JSON-RPC over stdio. It exists so the toolkit can be exercised end to
// end without external servers:
//
//	servers:
//	  - name: demo
//	    type: stdio
//	    command: mcpkit-demo-server
//
// It exposes three tools: echo, time, and website_text (fetch a URL and
// return its readable text).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Uttam1728/mcp-toolkit/internal/buildinfo"
	"github.com/Uttam1728/mcp-toolkit/internal/config"
	"github.com/Uttam1728/mcp-toolkit/internal/httpkit"
)

const protocolVersion = "2024-11-05"

// maxFetchBytes caps how much of a fetched page is read.
const maxFetchBytes = 2 << 20

func main() {
	// Stdout carries the protocol; logs must go to stderr.
	logger := config.NewLogger(os.Stderr, slog.LevelInfo)

	srv := &server{
		logger: logger,
		client: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
	}
	if err := srv.serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type server struct {
	logger *slog.Logger
	client *http.Client
}

// serve reads one JSON-RPC message per line until EOF.
func (s *server) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("skipping unparseable line", "error", err)
			continue
		}
		if req.ID == nil {
			// Notification; nothing to answer.
			s.logger.Debug("notification received", "method", req.Method)
			continue
		}

		resp := s.handle(ctx, &req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *server) handle(ctx context.Context, req *request) *response {
	resp := &response{JSONRPC: "2.0", ID: *req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    "mcpkit-demo-server",
				"version": buildinfo.Version,
			},
		}
	case "ping":
		resp.Result = map[string]any{}
	case "tools/list":
		resp.Result = map[string]any{"tools": toolList()}
	case "tools/call":
		result, err := s.callTool(ctx, req.Params)
		if err != nil {
			// Tool failures are results with isError, not protocol errors.
			resp.Result = errorResult(err)
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
	return resp
}

func toolList() []map[string]any {
	return []map[string]any{
		{
			"name":        "echo",
			"description": "Echo the given text back to the caller.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Text to echo"},
				},
				"required": []string{"text"},
			},
		},
		{
			"name":        "time",
			"description": "Report the current time, optionally in a named IANA timezone.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{"type": "string", "description": "IANA timezone name, e.g. Europe/Amsterdam"},
				},
			},
		},
		{
			"name":        "website_text",
			"description": "Fetch a URL and return its readable text content.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{"type": "string", "description": "HTTP or HTTPS URL to fetch"},
				},
				"required": []string{"url"},
			},
		},
	}
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func textResult(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
}

func errorResult(err error) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": err.Error()}},
		"isError": true,
	}
}

func (s *server) callTool(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
	var params callParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid tools/call params: %w", err)
	}

	s.logger.Debug("tool call", "tool", params.Name)

	switch params.Name {
	case "echo":
		text, _ := params.Arguments["text"].(string)
		return textResult(text), nil
	case "time":
		return s.timeTool(params.Arguments)
	case "website_text":
		return s.websiteTextTool(ctx, params.Arguments)
	default:
		return nil, fmt.Errorf("unknown tool: %s", params.Name)
	}
}

func (s *server) timeTool(args map[string]any) (map[string]any, error) {
	loc := time.Local
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = parsed
	}
	return textResult(time.Now().In(loc).Format(time.RFC1123)), nil
}

func (s *server) websiteTextTool(ctx context.Context, args map[string]any) (map[string]any, error) {
	url, _ := args["url"].(string)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("url must start with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer httpkit.DrainAndClose(resp.Body, maxFetchBytes)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	title, text := extractReadableText(string(body))
	if title != "" {
		text = title + "\n\n" + text
	}
	return textResult(text), nil
}
