package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSanitizeIdentifier(t *testing.T) {
	cases := map[string]string{
		"Search Docs":  "search_docs",
		"get-weather":  "get_weather",
		"already_fine": "already_fine",
		"":             "tool",
		"!!!":          "___",
	}
	for in, want := range cases {
		if got := sanitizeIdentifier(in); got != want {
			t.Errorf("sanitizeIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFlattenContent(t *testing.T) {
	if got := flattenContent(nil); got != "(no output)" {
		t.Errorf("empty content = %q, want (no output)", got)
	}
	content := []ToolResultContent{
		{Type: "text", Text: "hello"},
		{Type: "text", Text: "world"},
	}
	if got := flattenContent(content); got != "hello\nworld" {
		t.Errorf("text content = %q, want hello\\nworld", got)
	}
	nonText := []ToolResultContent{{Type: "image", Data: json.RawMessage(`{"mime":"png"}`)}}
	got := flattenContent(nonText)
	if !strings.Contains(got, "image") {
		t.Errorf("non-text content = %q, want it to mention type image", got)
	}
}

func TestServerConfigValidate(t *testing.T) {
	if err := (&ServerConfig{}).Validate(); err == nil {
		t.Fatal("expected error for missing id")
	}
	if err := (&ServerConfig{ID: "x", Transport: TransportStdio}).Validate(); err == nil {
		t.Fatal("expected error for stdio without command")
	}
	if err := (&ServerConfig{ID: "x", Transport: TransportHTTP, URL: "ftp://bad"}).Validate(); err == nil {
		t.Fatal("expected error for non-http url")
	}
	if err := (&ServerConfig{ID: "x", Transport: TransportHTTP, URL: "https://ok"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (&ServerConfig{ID: "x", Transport: "weird"}).Validate(); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// TestStdioTransport_WriteAndReadFrame exercises the Content-Length
// framing directly, writing into and reading back from an in-memory
// buffer rather than a real subprocess.
func TestStdioTransport_WriteAndReadFrame(t *testing.T) {
	var buf bytes.Buffer
	tr := &stdioTransport{log: slog.Default(), stdin: nopWriteCloser{&buf}}

	payload := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	if err := tr.writeFrame(payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	tr.stdout = bufio.NewReader(&buf)
	frame, err := tr.readFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(frame, payload) {
		t.Errorf("readFrame = %s, want %s", frame, payload)
	}
}

func TestHTTPTransport_JSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		w.Header().Set("MCP-Session-Id", "sess-1")
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "initialize":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + idStr(req.ID) + `,"result":{}}`))
		case "tools/list":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + idStr(req.ID) + `,"result":{"tools":[{"name":"echo","description":"echoes input","inputSchema":{"type":"object"}}]}}`))
		case "tools/call":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + idStr(req.ID) + `,"result":{"content":[{"type":"text","text":"echoed"}]}}`))
		default:
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + idStr(req.ID) + `,"result":{}}`))
		}
	}))
	defer srv.Close()

	cfg := &ServerConfig{ID: "test", Transport: TransportHTTP, URL: srv.URL, Timeout: 5 * time.Second}
	tr := newHTTPTransport(cfg, slog.Default())
	ctx := context.Background()

	if err := tr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if tr.sessionID != "sess-1" {
		t.Errorf("sessionID = %q, want sess-1", tr.sessionID)
	}

	toolsList, err := tr.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(toolsList) != 1 || toolsList[0].Name != "echo" {
		t.Fatalf("ListTools = %+v, want one tool named echo", toolsList)
	}

	result, err := tr.CallTool(ctx, "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result != "echoed" {
		t.Errorf("CallTool result = %q, want echoed", result)
	}
}

func idStr(id int64) string {
	return strconv.FormatInt(id, 10)
}
