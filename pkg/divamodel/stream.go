package divamodel

// StreamEventKind discriminates an LLMStreamEvent variant.
type StreamEventKind string

const (
	StreamTextDelta      StreamEventKind = "text_delta"
	StreamReasoningDelta StreamEventKind = "reasoning_delta"
	StreamToolCallDelta  StreamEventKind = "tool_call_delta"
	StreamCompleted      StreamEventKind = "completed"
)

// ToolCallDelta is a sparse, index-addressed fragment of a tool call
// under construction. Name and Arguments arrive incrementally and must
// be concatenated in arrival order.
type ToolCallDelta struct {
	Index         int    `json:"index"`
	ID            string `json:"id,omitempty"`
	Name          string `json:"name,omitempty"`
	ArgumentsJSON string `json:"arguments_json,omitempty"`
}

// LLMStreamEvent is one event in a chat_stream sequence. Exactly one of
// the fields is meaningful, selected by Kind.
type LLMStreamEvent struct {
	Kind          StreamEventKind `json:"kind"`
	TextDelta     string          `json:"text_delta,omitempty"`
	ReasoningText string          `json:"reasoning_text,omitempty"`
	ToolCallDelta *ToolCallDelta  `json:"tool_call_delta,omitempty"`
	Completed     *LLMResponse    `json:"completed,omitempty"`
}
