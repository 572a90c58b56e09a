// Package mcp implements client-side support for the Model Context
// Protocol: connecting to tool servers, discovering the tools they
// expose, and invoking them on behalf of a chat adapter.
//
// MCP uses JSON-RPC 2.0 over three transports: stdio (subprocess),
// SSE (HTTP event stream paired with a POST message endpoint), and
// streamable HTTP. A Session owns exactly one transport and must reach
// Ready via Initialize before tools/list or tools/call is accepted.
// The Manager aggregates many sessions behind one consolidated tool
// namespace.
//
// This implementation covers the client/host side only; acting as an
// MCP server is out of scope.
package mcp
