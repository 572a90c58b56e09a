package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Uttam1728/mcp-toolkit/internal/httpkit"
)

// endpointWait bounds how long we wait for the server to announce its
// message endpoint after the event stream opens.
const endpointWait = 10 * time.Second

// SSEConfig configures an SSE MCP transport. The server pushes events
// (including JSON-RPC responses) over a long-lived GET stream, and the
// client POSTs requests to a per-connection message endpoint the server
// announces as the first event.
type SSEConfig struct {
	// URL is the SSE stream endpoint.
	URL string

	// Headers are additional HTTP headers sent with the stream request
	// and every message POST (e.g., Authorization).
	Headers map[string]string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// SSETransport communicates with an MCP server over the HTTP+SSE
// pairing. Requests go out as POSTs; responses arrive asynchronously on
// the event stream and are correlated back to waiting callers by
// JSON-RPC id, so out-of-order delivery is fine and callers may overlap
// freely.
type SSETransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	connected    bool
	closed       bool
	endpoint     string // message POST target announced by the server
	cancelStream context.CancelFunc
	pending      map[int64]chan *Response
}

// NewSSETransport creates an SSE transport for the given config. The
// event stream is not opened until the first Send or Notify call.
func NewSSETransport(cfg SSEConfig) *SSETransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SSETransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		logger:  logger,
		// No global timeout — the event stream is long-lived.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		pending:    make(map[int64]chan *Response),
	}
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

// connect opens the event stream and waits for the server's endpoint
// announcement. Caller must hold t.mu.
func (t *SSETransport) connect(ctx context.Context) error {
	if t.connected {
		return nil
	}
	if t.closed {
		return fmt.Errorf("sse transport is closed")
	}

	// The stream must outlive the call that happened to open it.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open SSE stream to %s: %w", t.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		cancel()
		return fmt.Errorf("SSE stream returned %d: %s", resp.StatusCode, errBody)
	}

	endpointCh := make(chan string, 1)
	go t.readStream(resp.Body, endpointCh)

	// The first event on a fresh stream names the message endpoint.
	select {
	case <-ctx.Done():
		cancel()
		resp.Body.Close()
		return ctx.Err()
	case <-time.After(endpointWait):
		cancel()
		resp.Body.Close()
		return fmt.Errorf("server did not announce a message endpoint within %s", endpointWait)
	case raw, ok := <-endpointCh:
		if !ok {
			cancel()
			return fmt.Errorf("SSE stream closed before endpoint announcement")
		}
		endpoint, err := t.resolveEndpoint(raw)
		if err != nil {
			cancel()
			resp.Body.Close()
			return err
		}
		t.endpoint = endpoint
	}

	t.cancelStream = cancel
	t.connected = true
	t.logger.Info("SSE stream established", "endpoint", t.endpoint)
	return nil
}

// resolveEndpoint resolves the announced message path against the
// stream URL, so servers may send either absolute URLs or paths like
// "/messages?sessionId=abc".
func (t *SSETransport) resolveEndpoint(raw string) (string, error) {
	base, err := url.Parse(t.url)
	if err != nil {
		return "", fmt.Errorf("parse stream URL: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse endpoint announcement %q: %w", raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// readStream parses server-sent events until the stream ends, routing
// responses to waiting callers. On exit it fails every pending call so
// a dropped stream surfaces as an error rather than a hang.
func (t *SSETransport) readStream(body io.ReadCloser, endpointCh chan<- string) {
	// Closing endpointCh first wakes a connect() blocked on the
	// announcement; it holds the mutex the pending cleanup needs.
	defer t.failPending()
	defer body.Close()
	defer close(endpointCh)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var ev sseEvent
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line dispatches the accumulated event.
			t.dispatch(ev, endpointCh)
			ev = sseEvent{}
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if ev.data != "" {
				ev.data += "\n"
			}
			ev.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, ":"):
			// Comment/keepalive.
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Warn("SSE stream read error", "error", err)
	}
}

// failPending marks the transport disconnected and fails every call
// still waiting on the dead stream.
func (t *SSETransport) failPending() {
	t.mu.Lock()
	t.connected = false
	t.endpoint = ""
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	t.logger.Info("SSE stream closed")
}

// dispatch routes one parsed event.
func (t *SSETransport) dispatch(ev sseEvent, endpointCh chan<- string) {
	switch ev.name {
	case "endpoint":
		select {
		case endpointCh <- ev.data:
		default:
			// Endpoint already delivered; a re-announcement is ignored.
		}
	case "message", "":
		if ev.data == "" {
			return
		}
		var resp Response
		if err := json.Unmarshal([]byte(ev.data), &resp); err != nil {
			t.logger.Debug("skipping non-JSON SSE message", "data", ev.data)
			return
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if !ok {
			// Server-initiated notifications land here.
			t.logger.Debug("skipping unmatched MCP message", "id", resp.ID)
			return
		}
		ch <- &resp
	default:
		t.logger.Debug("skipping SSE event", "event", ev.name)
	}
}

// Send POSTs a JSON-RPC request to the message endpoint and waits for
// the matching response to arrive on the event stream.
func (t *SSETransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	if err := t.connect(ctx); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	endpoint := t.endpoint
	ch := make(chan *Response, 1)
	t.pending[req.ID] = ch
	t.mu.Unlock()

	if err := t.post(ctx, endpoint, req); err != nil {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("SSE stream dropped while awaiting response %d", req.ID)
		}
		return resp, nil
	}
}

// Notify POSTs a JSON-RPC notification. No response is expected.
func (t *SSETransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	if err := t.connect(ctx); err != nil {
		t.mu.Unlock()
		return err
	}
	endpoint := t.endpoint
	t.mu.Unlock()

	return t.post(ctx, endpoint, notif)
}

// post delivers one JSON-RPC message to the announced endpoint.
func (t *SSETransport) post(ctx context.Context, endpoint string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("POST to %s: %w", endpoint, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	// Servers reply to the POST itself with 200 or 202; the JSON-RPC
	// response arrives on the stream.
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return fmt.Errorf("MCP server returned %d: %s", httpResp.StatusCode, errBody)
	}

	return nil
}

// Close tears down the event stream. Pending calls fail as the reader
// exits. Close is idempotent.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancelStream != nil {
		t.cancelStream()
		t.cancelStream = nil
	}
	return nil
}
