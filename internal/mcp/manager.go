package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agent-diva/diva/internal/tools"
)

// Manager connects to a set of configured MCP servers, discovers their
// tools, and hands back tools.Tool implementations the agent loop's
// registry can hold alongside its built-ins.
type Manager struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[string]clientTransport
}

// NewManager returns a manager with no connected servers yet.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, clients: make(map[string]clientTransport)}
}

// Connect dials one MCP server, runs its initialize handshake, lists
// its tools, and returns each wrapped as a tools.Tool named
// mcp_<server>_<tool>. The caller is expected to Register each
// returned tool on its own registry.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) ([]tools.Tool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client clientTransport
	switch cfg.Transport {
	case TransportStdio:
		client = newStdioTransport(&cfg, m.log)
	case TransportHTTP:
		client = newHTTPTransport(&cfg, m.log)
	default:
		return nil, fmt.Errorf("mcp server %s: unknown transport %q", cfg.ID, cfg.Transport)
	}

	if err := client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("mcp server %s: initialize: %w", cfg.ID, err)
	}

	discovered, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp server %s: tools/list: %w", cfg.ID, err)
	}

	m.mu.Lock()
	m.clients[cfg.ID] = client
	m.mu.Unlock()

	wrapped := make([]tools.Tool, 0, len(discovered))
	for _, dt := range discovered {
		wrapped = append(wrapped, &mcpTool{
			server:     cfg.ID,
			remoteName: dt.Name,
			publicName: fmt.Sprintf("mcp_%s_%s", sanitizeIdentifier(cfg.ID), sanitizeIdentifier(dt.Name)),
			desc:       fmt.Sprintf("[MCP:%s] %s", cfg.ID, dt.Description),
			schema:     decodeSchema(dt.InputSchema),
			client:     client,
		})
	}
	m.log.Info("connected mcp server", "server", cfg.ID, "tools", len(wrapped))
	return wrapped, nil
}

// Close disconnects every connected server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, c := range m.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close mcp server %s: %w", id, err)
		}
	}
	m.clients = make(map[string]clientTransport)
	return firstErr
}

func decodeSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{"type": "object"}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return map[string]any{"type": "object"}
	}
	return schema
}

// mcpTool adapts one MCP server tool to the tools.Tool interface.
type mcpTool struct {
	server     string
	remoteName string
	publicName string
	desc       string
	schema     map[string]any
	client     clientTransport
}

func (t *mcpTool) Name() string           { return t.publicName }
func (t *mcpTool) Description() string    { return t.desc }
func (t *mcpTool) Schema() map[string]any { return t.schema }

func (t *mcpTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	result, err := t.client.CallTool(ctx, t.remoteName, args)
	if err != nil {
		return fmt.Sprintf("Error: mcp tool %s on server %s: %v", t.remoteName, t.server, err), nil
	}
	return result, nil
}
