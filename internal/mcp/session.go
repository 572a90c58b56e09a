package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Uttam1728/mcp-toolkit/internal/buildinfo"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// DefaultCallTimeout bounds a single request when the caller's context
// carries no deadline of its own.
const DefaultCallTimeout = 60 * time.Second

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateUnstarted SessionState = iota
	StateInitializing
	StateReady
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ToolDescriptor is an MCP tool as returned by tools/list.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// serverCapabilities describes what an MCP server supports.
type serverCapabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// Session owns one Transport to a single MCP server and provides typed
// access to the protocol operations (initialize, tools/list, tools/call).
//
// A Session must reach StateReady via Initialize before tool listing or
// invocation is accepted. Requests carry a monotonically increasing id;
// transports correlate responses by that id, so overlapping calls from
// multiple goroutines each receive exactly the result they asked for.
type Session struct {
	name        string
	transport   Transport
	logger      *slog.Logger
	callTimeout time.Duration
	nextID      atomic.Int64
	state       atomic.Int32

	mu         sync.RWMutex
	serverName string
	serverVer  string
	tools      []ToolDescriptor

	closeOnce sync.Once
	closed    chan struct{}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCallTimeout overrides DefaultCallTimeout for every request issued
// by the session. Zero disables the session-level deadline entirely.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.callTimeout = d }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates an unstarted Session for the given endpoint,
// constructing the matching transport. Call Initialize before use.
func NewSession(endpoint ServerEndpoint, opts ...SessionOption) (*Session, error) {
	s := &Session{
		name:        endpoint.Name,
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
		closed:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("mcp_server", endpoint.Name)

	transport, err := endpoint.transport(s.logger)
	if err != nil {
		return nil, err
	}
	s.transport = transport
	return s, nil
}

// newSessionWithTransport wires a prebuilt transport, used by tests and
// by callers that manage transports themselves.
func newSessionWithTransport(name string, transport Transport, opts ...SessionOption) *Session {
	s := &Session{
		name:        name,
		transport:   transport,
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
		closed:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("mcp_server", name)
	return s
}

// Name returns the server name this session is connected to.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// ServerInfo returns the name and version the server reported during
// the handshake. Empty until Initialize succeeds.
func (s *Session) ServerInfo() (name, version string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverName, s.serverVer
}

// Initialize performs the MCP handshake: an initialize request followed
// by the notifications/initialized notification. On success the session
// transitions Unstarted→Ready; any transport or protocol failure here
// is fatal and leaves the session in Failed.
func (s *Session) Initialize(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUnstarted), int32(StateInitializing)) {
		return &StateError{Op: "Initialize", State: s.State()}
	}

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "mcp-toolkit",
			"version": buildinfo.Version,
		},
	}

	resp, err := s.send(ctx, "initialize", params)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("unmarshal initialize result: %w: %v", ErrProtocol, err)
	}

	// Complete the handshake before accepting callers.
	if err := s.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("send initialized notification: %w", classify(err))
	}

	s.mu.Lock()
	s.serverName = result.ServerInfo.Name
	s.serverVer = result.ServerInfo.Version
	s.mu.Unlock()
	s.state.Store(int32(StateReady))

	s.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	return nil
}

// ListTools calls tools/list and returns the available tool descriptors.
// Results are cached; subsequent calls return the cached list. Use
// RefreshTools to force a re-list.
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if st := s.State(); st != StateReady {
		return nil, &StateError{Op: "ListTools", State: st}
	}

	s.mu.RLock()
	if s.tools != nil {
		defer s.mu.RUnlock()
		return s.tools, nil
	}
	s.mu.RUnlock()

	return s.RefreshTools(ctx)
}

// RefreshTools re-lists the server's tools, replacing the cache.
func (s *Session) RefreshTools(ctx context.Context) ([]ToolDescriptor, error) {
	if st := s.State(); st != StateReady {
		return nil, &StateError{Op: "RefreshTools", State: st}
	}

	resp, err := s.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w: %v", ErrProtocol, err)
	}

	s.mu.Lock()
	s.tools = result.Tools
	s.mu.Unlock()

	s.logger.Info("discovered MCP tools", "count", len(result.Tools))
	return result.Tools, nil
}

// CallTool invokes a tool by name with the given arguments. The result
// is extracted from the response content blocks as a single string;
// non-text blocks are described inline (e.g. "[image]"). A tool that
// ran but reported failure yields ErrRemoteExecution. Per-call errors
// leave the session Ready.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if st := s.State(); st != StateReady {
		return "", &StateError{Op: "CallTool", State: st}
	}

	if args == nil {
		args = map[string]any{}
	}

	// Catch bad arguments locally when the tool's schema is known.
	s.mu.RLock()
	for _, td := range s.tools {
		if td.Name == name {
			if err := ValidateArguments(td.InputSchema, args); err != nil {
				s.mu.RUnlock()
				return "", fmt.Errorf("tools/call %s: %w", name, err)
			}
			break
		}
	}
	s.mu.RUnlock()

	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := s.send(ctx, "tools/call", params)
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("unmarshal tools/call result: %w: %v", ErrProtocol, err)
	}

	text := extractText(result.Content)

	if result.IsError {
		return "", fmt.Errorf("tool %s: %w: %s", name, ErrRemoteExecution, text)
	}

	return text, nil
}

// Ping checks whether the MCP server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	if st := s.State(); st != StateReady {
		return &StateError{Op: "Ping", State: st}
	}
	_, err := s.send(ctx, "ping", nil)
	return err
}

// Close releases the transport and transitions to Closed. It is
// idempotent; the second and later calls are no-ops. Calls in flight
// when Close is invoked fail with ErrCancelled rather than hanging.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("closing MCP session")
		close(s.closed)
		s.state.Store(int32(StateClosed))
		err = s.transport.Close()
	})
	return err
}

// send issues a JSON-RPC request under the per-call timeout and maps
// transport and protocol-level failures onto the error taxonomy.
func (s *Session) send(ctx context.Context, method string, params any) (*Response, error) {
	// Fail fast if the session is already closed.
	select {
	case <-s.closed:
		return nil, fmt.Errorf("session closed: %w", ErrCancelled)
	default:
	}

	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	// Closing the session mid-call cancels the call instead of letting
	// it hang on a dead transport.
	ctx, cancelOnClose := context.WithCancel(ctx)
	defer cancelOnClose()
	go func() {
		select {
		case <-s.closed:
			cancelOnClose()
		case <-ctx.Done():
		}
	}()

	id := s.nextID.Add(1)
	req := NewRequest(id, method, params)

	resp, err := s.transport.Send(ctx, req)
	if err != nil {
		select {
		case <-s.closed:
			return nil, fmt.Errorf("session closed: %w", ErrCancelled)
		default:
		}
		return nil, classify(err)
	}

	if resp.Error != nil {
		return nil, rpcToError(resp.Error)
	}

	return resp, nil
}

// classify maps a transport error onto the sentinel taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	default:
		return fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}
}

// rpcToError maps a JSON-RPC error object onto the sentinel taxonomy.
func rpcToError(e *RPCError) error {
	switch e.Code {
	case codeMethodNotFound:
		return fmt.Errorf("%w: %s", ErrToolNotFound, e.Message)
	case codeInvalidParams:
		return fmt.Errorf("%w: %s", ErrInvalidArguments, e.Message)
	default:
		return fmt.Errorf("%w: %v", ErrRemoteExecution, e)
	}
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			parts = append(parts, "[image]")
		case "resource":
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
