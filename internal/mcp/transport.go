package mcp

import (
	"context"
	"encoding/json"
)

// clientTransport is the minimal contract a stdio or HTTP connection to
// an MCP server must satisfy: the initialize handshake, tool listing,
// tool calls, and shutdown.
type clientTransport interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]DiscoveredTool, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error)
	Close() error
}
