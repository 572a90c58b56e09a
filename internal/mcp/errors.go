package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by sessions and the manager. Callers match
// them with errors.Is; everything else wrapping them carries context
// about the server, method, and tool involved.
var (
	// ErrConnectionFailure means the transport could not be established
	// or dropped mid-call. During Initialize this is fatal to the
	// Session; it transitions to Failed and must be recreated.
	ErrConnectionFailure = errors.New("mcp: connection failure")

	// ErrProtocol means the server sent a malformed handshake or
	// response. Fatal during Initialize, per-call otherwise.
	ErrProtocol = errors.New("mcp: protocol error")

	// ErrToolNotFound means no connected server exposes the named tool.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrInvalidArguments means the arguments did not satisfy the
	// tool's input schema. Raised locally by schema validation or
	// remotely via a JSON-RPC invalid-params error.
	ErrInvalidArguments = errors.New("mcp: invalid arguments")

	// ErrRemoteExecution means the tool ran but reported failure.
	ErrRemoteExecution = errors.New("mcp: tool execution failed")

	// ErrTimeout means the per-call deadline elapsed before the server
	// responded. The call's resources are released; the Session stays Ready.
	ErrTimeout = errors.New("mcp: call timed out")

	// ErrCancelled means the caller's context was cancelled or the
	// Session was closed while the call was in flight.
	ErrCancelled = errors.New("mcp: call cancelled")
)

// JSON-RPC error codes the Model Context Protocol uses.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// StateError reports an operation attempted in the wrong session state,
// e.g. calling ListTools before Initialize has completed.
type StateError struct {
	Op    string
	State SessionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("mcp: %s requires a ready session (state: %s)", e.Op, e.State)
}
