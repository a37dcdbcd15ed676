package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// stdioTransport speaks Content-Length-framed JSON-RPC over a
// subprocess's stdin/stdout, the same framing LSP uses.
type stdioTransport struct {
	cfg *ServerConfig
	log *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	nextID atomic.Int64
	mu     sync.Mutex // guards writes to stdin and reads from stdout — one in-flight request at a time
}

func newStdioTransport(cfg *ServerConfig, log *slog.Logger) *stdioTransport {
	return &stdioTransport{cfg: cfg, log: log.With("mcp_server", cfg.ID, "transport", "stdio")}
}

func (t *stdioTransport) start(ctx context.Context) error {
	t.cmd = exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	t.cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		t.cmd.Env = append(t.cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.cfg.WorkDir != "" {
		t.cmd.Dir = t.cfg.WorkDir
	}

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdin = stdin
	t.stdout = bufio.NewReader(stdout)

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("start mcp server process: %w", err)
	}
	t.log.Info("started mcp server process", "command", t.cfg.Command, "pid", t.cmd.Process.Pid)
	return nil
}

func (t *stdioTransport) Initialize(ctx context.Context) error {
	if err := t.start(ctx); err != nil {
		return err
	}
	params, _ := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "diva", "version": "1.0.0"},
	})
	if _, err := t.request(ctx, "initialize", params); err != nil {
		return err
	}
	return t.notify(ctx, "notifications/initialized", nil)
}

func (t *stdioTransport) ListTools(ctx context.Context) ([]DiscoveredTool, error) {
	result, err := t.request(ctx, "tools/list", mustMarshal(map[string]any{}))
	if err != nil {
		return nil, err
	}
	var parsed listToolsResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return parsed.Tools, nil
}

func (t *stdioTransport) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	params, _ := json.Marshal(map[string]any{"name": name, "arguments": json.RawMessage(arguments)})
	result, err := t.request(ctx, "tools/call", params)
	if err != nil {
		return "", err
	}
	var parsed ToolCallResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("decode tools/call result: %w", err)
	}
	return flattenContent(parsed.Content), nil
}

func (t *stdioTransport) Close() error {
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	return nil
}

func (t *stdioTransport) request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal mcp request: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeFrame(payload); err != nil {
		return nil, fmt.Errorf("write mcp request %q: %w", method, err)
	}

	timeout := t.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("mcp request %q timed out after %s", method, timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		frame, err := t.readFrame()
		if err != nil {
			return nil, fmt.Errorf("read mcp response for %q: %w", method, err)
		}

		var resp jsonrpcResponse
		if err := json.Unmarshal(frame, &resp); err == nil && resp.ID.String() != "" {
			respID, _ := resp.ID.Int64()
			if respID != id {
				continue
			}
			if resp.Error != nil {
				return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
			}
			return resp.Result, nil
		}
		// Not our response (a notification, or another request's ID); ignore and keep reading.
	}
}

func (t *stdioTransport) notify(ctx context.Context, method string, params json.RawMessage) error {
	notif := jsonrpcNotification{JSONRPC: "2.0", Method: method, Params: params}
	payload, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal mcp notification: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeFrame(payload)
}

func (t *stdioTransport) writeFrame(payload []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := io.WriteString(t.stdin, header); err != nil {
		return err
	}
	_, err := t.stdin.Write(payload)
	return err
}

func (t *stdioTransport) readFrame() ([]byte, error) {
	var contentLength int
	for {
		line, err := t.stdout.ReadString('\n')
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		lower := strings.ToLower(trimmed)
		if rest, ok := strings.CutPrefix(lower, "content-length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return nil, fmt.Errorf("invalid content-length header %q: %w", trimmed, err)
			}
			contentLength = n
		}
	}
	if contentLength <= 0 {
		return nil, fmt.Errorf("missing content-length header")
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.stdout, body); err != nil {
		return nil, err
	}
	return body, nil
}

func mustMarshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
