package llm

import "errors"

// ErrProvider marks a failure reported by the provider API itself
// (non-2xx status, malformed payload) rather than by the local stack.
// Match with errors.Is.
var ErrProvider = errors.New("llm: provider error")
