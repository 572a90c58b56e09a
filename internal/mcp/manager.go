package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns sessions to multiple MCP servers and presents them as a
// single tool surface. Tool names are consolidated across servers; when
// two servers expose the same name, the server connected first wins and
// the duplicate is logged and skipped.
type Manager struct {
	logger *slog.Logger
	opts   []SessionOption

	mu       sync.RWMutex
	sessions map[string]*Session // by server name, insertion-ordered via order
	order    []string
	toolMap  map[string]string // tool name -> server name
}

// NewManager creates an empty Manager. Session options are applied to
// every session the manager opens.
func NewManager(logger *slog.Logger, opts ...SessionOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		opts:     append([]SessionOption{WithLogger(logger)}, opts...),
		sessions: make(map[string]*Session),
		toolMap:  make(map[string]string),
	}
}

// AddEndpoint connects and initializes a session for the endpoint and
// registers its tools. Endpoint names must be unique within a manager.
func (m *Manager) AddEndpoint(ctx context.Context, endpoint ServerEndpoint) error {
	m.mu.Lock()
	if _, exists := m.sessions[endpoint.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("server %q already registered", endpoint.Name)
	}
	m.mu.Unlock()

	session, err := NewSession(endpoint, m.opts...)
	if err != nil {
		return fmt.Errorf("server %s: %w", endpoint.Name, err)
	}

	if err := session.Initialize(ctx); err != nil {
		session.Close()
		return fmt.Errorf("server %s: %w", endpoint.Name, err)
	}

	return m.adopt(ctx, session)
}

// AddSession registers an already-initialized session. Used when the
// caller constructs sessions itself (custom transports, tests).
func (m *Manager) AddSession(ctx context.Context, session *Session) error {
	if st := session.State(); st != StateReady {
		return &StateError{Op: "AddSession", State: st}
	}
	return m.adopt(ctx, session)
}

func (m *Manager) adopt(ctx context.Context, session *Session) error {
	tools, err := session.ListTools(ctx)
	if err != nil {
		session.Close()
		return fmt.Errorf("server %s: %w", session.Name(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.Name()]; exists {
		session.Close()
		return fmt.Errorf("server %q already registered", session.Name())
	}

	m.sessions[session.Name()] = session
	m.order = append(m.order, session.Name())

	for _, tool := range tools {
		if owner, taken := m.toolMap[tool.Name]; taken {
			m.logger.Warn("duplicate MCP tool name, keeping first",
				"tool", tool.Name, "owner", owner, "skipped_server", session.Name())
			continue
		}
		m.toolMap[tool.Name] = session.Name()
	}

	m.logger.Info("MCP server registered", "server", session.Name(), "tools", len(tools))
	return nil
}

// Session returns the session for a server name, or nil if unknown.
func (m *Manager) Session(name string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[name]
}

// ServerNames returns registered server names in connection order.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// ListTools returns the consolidated tool list across all servers, in
// server connection order. Duplicate names are already resolved to the
// first server that claimed them.
func (m *Manager) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.RUnlock()

	var out []ToolDescriptor
	for _, name := range names {
		session := m.Session(name)
		if session == nil {
			continue
		}
		tools, err := session.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		for _, tool := range tools {
			if m.owner(tool.Name) == name {
				out = append(out, tool)
			}
		}
	}
	return out, nil
}

func (m *Manager) owner(tool string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.toolMap[tool]
}

// CallTool routes a tool call to whichever server owns the name.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	m.mu.RLock()
	server, ok := m.toolMap[name]
	session := m.sessions[server]
	m.mu.RUnlock()

	if !ok || session == nil {
		return "", fmt.Errorf("tool %q: %w", name, ErrToolNotFound)
	}

	return session.CallTool(ctx, name, args)
}

// Close closes every session, returning the joined errors. The manager
// is empty afterwards and may not be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.order = nil
	m.toolMap = make(map[string]string)
	m.mu.Unlock()

	var errs []error
	for name, session := range sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
