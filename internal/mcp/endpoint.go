package mcp

import (
	"fmt"
	"log/slog"
	"sort"
)

// TransportKind selects how a ServerEndpoint is reached.
type TransportKind string

const (
	// TransportStdio runs the server as a subprocess and speaks
	// newline-delimited JSON-RPC over its standard streams.
	TransportStdio TransportKind = "stdio"

	// TransportSSE pairs a GET event stream (server→client) with POSTs
	// to a server-announced message endpoint (client→server).
	TransportSSE TransportKind = "sse"

	// TransportHTTP is streamable HTTP: each JSON-RPC request is a POST
	// whose response body carries the reply.
	TransportHTTP TransportKind = "http"
)

// ServerEndpoint identifies one remote tool server. Values are treated
// as immutable after creation; Session copies what it needs.
type ServerEndpoint struct {
	// Name labels the server in logs and namespaced tool names.
	Name string

	// Kind selects the transport.
	Kind TransportKind

	// URL is the endpoint for sse and http transports.
	URL string

	// Headers are sent with every HTTP request (e.g. Authorization).
	Headers map[string]string

	// Command, Args, and Env describe the subprocess for stdio
	// transports. Env entries are KEY=VALUE pairs appended to the
	// parent environment.
	Command string
	Args    []string
	Env     map[string]string
}

// transport builds the Transport for this endpoint.
func (e ServerEndpoint) transport(logger *slog.Logger) (Transport, error) {
	switch e.Kind {
	case TransportStdio:
		if e.Command == "" {
			return nil, fmt.Errorf("endpoint %q: stdio transport requires a command", e.Name)
		}
		return NewStdioTransport(StdioConfig{
			Command: e.Command,
			Args:    e.Args,
			Env:     envPairs(e.Env),
			Logger:  logger,
		}), nil
	case TransportSSE:
		if e.URL == "" {
			return nil, fmt.Errorf("endpoint %q: sse transport requires a url", e.Name)
		}
		return NewSSETransport(SSEConfig{
			URL:     e.URL,
			Headers: e.Headers,
			Logger:  logger,
		}), nil
	case TransportHTTP:
		if e.URL == "" {
			return nil, fmt.Errorf("endpoint %q: http transport requires a url", e.Name)
		}
		return NewHTTPTransport(HTTPConfig{
			URL:     e.URL,
			Headers: e.Headers,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("endpoint %q: unknown transport kind %q", e.Name, e.Kind)
	}
}

// envPairs flattens an environment map into sorted KEY=VALUE pairs so
// subprocess environments are deterministic.
func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}
