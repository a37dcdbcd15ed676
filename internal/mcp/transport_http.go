package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// httpTransport speaks MCP's "streamable HTTP" variant: a single POST
// endpoint whose response is either a plain JSON-RPC response or an
// SSE stream of one or more JSON-RPC messages. The server may assign a
// session id on the initialize response, which must be echoed on every
// later request.
type httpTransport struct {
	cfg    *ServerConfig
	client *http.Client
	log    *slog.Logger

	nextID    atomic.Int64
	mu        sync.Mutex
	sessionID string
	lastEvent string
}

func newHTTPTransport(cfg *ServerConfig, log *slog.Logger) *httpTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With("mcp_server", cfg.ID, "transport", "http"),
	}
}

func (t *httpTransport) Initialize(ctx context.Context) error {
	params, _ := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "diva", "version": "1.0.0"},
	})
	if _, err := t.request(ctx, "initialize", params, true); err != nil {
		return err
	}
	return t.notify(ctx, "notifications/initialized", nil)
}

func (t *httpTransport) ListTools(ctx context.Context) ([]DiscoveredTool, error) {
	result, err := t.request(ctx, "tools/list", mustMarshal(map[string]any{}), false)
	if err != nil {
		return nil, err
	}
	var parsed listToolsResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return parsed.Tools, nil
}

func (t *httpTransport) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	params, _ := json.Marshal(map[string]any{"name": name, "arguments": json.RawMessage(arguments)})
	result, err := t.request(ctx, "tools/call", params, false)
	if err != nil {
		return "", err
	}
	var parsed ToolCallResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("decode tools/call result: %w", err)
	}
	return flattenContent(parsed.Content), nil
}

func (t *httpTransport) Close() error {
	return nil
}

// request sends one JSON-RPC request and returns its result, retrying
// once after a fresh initialize if the server answers 404 for an
// existing session (the session expired server-side) — unless this
// call is itself the initialize.
func (t *httpTransport) request(ctx context.Context, method string, params json.RawMessage, isInitialize bool) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal mcp request: %w", err)
	}

	result, status, err := t.send(ctx, payload, id)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound && !isInitialize {
		t.mu.Lock()
		t.sessionID = ""
		t.mu.Unlock()
		if err := t.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("mcp session expired and re-initialize failed: %w", err)
		}
		result, _, err = t.send(ctx, payload, id)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (t *httpTransport) notify(ctx context.Context, method string, params json.RawMessage) error {
	notif := jsonrpcNotification{JSONRPC: "2.0", Method: method, Params: params}
	payload, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal mcp notification: %w", err)
	}
	_, _, err = t.send(ctx, payload, 0)
	return err
}

func (t *httpTransport) send(ctx context.Context, payload []byte, wantID int64) (json.RawMessage, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build mcp http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.Lock()
	if t.sessionID != "" {
		httpReq.Header.Set("MCP-Session-Id", t.sessionID)
	}
	if t.lastEvent != "" {
		httpReq.Header.Set("Last-Event-ID", t.lastEvent)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("mcp http request: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("MCP-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("mcp server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "text/event-stream" {
		result, err := t.readSSE(resp.Body, wantID)
		return result, resp.StatusCode, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read mcp http response: %w", err)
	}
	if wantID == 0 {
		return nil, resp.StatusCode, nil
	}
	var parsed jsonrpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode mcp http response: %w", err)
	}
	if parsed.Error != nil {
		return nil, resp.StatusCode, fmt.Errorf("mcp error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, resp.StatusCode, nil
}

// readSSE scans an SSE body for "data:" lines, decoding each as a
// JSON-RPC message until it finds the response matching wantID.
// Per-event "id:" lines are tracked as lastEvent for a future
// Last-Event-ID reconnect.
func (t *httpTransport) readSSE(body io.Reader, wantID int64) (json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var dataLines []string
	flush := func() (json.RawMessage, bool, error) {
		if len(dataLines) == 0 {
			return nil, false, nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		var parsed jsonrpcResponse
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			return nil, false, nil // notification or malformed frame; keep reading
		}
		if wantID == 0 {
			return nil, false, nil
		}
		id, _ := parsed.ID.Int64()
		if id != wantID {
			return nil, false, nil
		}
		if parsed.Error != nil {
			return nil, true, fmt.Errorf("mcp error %d: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return parsed.Result, true, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "id:"):
			t.mu.Lock()
			t.lastEvent = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			t.mu.Unlock()
		case strings.HasPrefix(line, "retry:"):
			// Server-suggested reconnect interval; nothing to act on for a
			// single-shot request/response exchange.
			_, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:")))
		case line == "":
			if result, done, err := flush(); done || err != nil {
				return result, err
			}
		}
	}
	if result, done, err := flush(); done || err != nil {
		return result, err
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mcp sse stream: %w", err)
	}
	return nil, fmt.Errorf("mcp sse stream ended without a matching response")
}
