// Package llm provides the vendor-agnostic Provider contract used by the
// agent loop, a model-name Registry that resolves a requested model to a
// concrete provider across Anthropic/OpenAI/Gemini/Bedrock and
// OpenAI-compatible gateways, and a hand-rolled SSE frame parser for the
// gateway backends that have no vendor SDK.
package llm

import (
	"context"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// ChatRequest is the vendor-agnostic request every Provider accepts.
type ChatRequest struct {
	Model                string
	System               string
	Messages             []divamodel.Message
	Tools                []ToolSpec
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// ToolSpec describes a callable tool in JSON-schema form, vendor-neutral.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Provider is implemented by every LLM backend. Implementations must be
// safe for concurrent use: the agent loop may have several Chat/ChatStream
// calls in flight for different sessions at once.
type Provider interface {
	// Name identifies the provider for logging and model-prefix resolution.
	Name() string

	// Chat performs a single non-streaming completion.
	Chat(ctx context.Context, req ChatRequest) (*divamodel.LLMResponse, error)

	// ChatStream performs a streaming completion, delivering incremental
	// divamodel.LLMStreamEvent values. The channel is closed when the
	// stream ends; a Completed event, if any, is always the last value
	// sent before the channel closes.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan divamodel.LLMStreamEvent, error)

	// SupportsTools reports whether this provider can be sent ToolSpecs.
	SupportsTools() bool
}
