package divamodel

// AgentEventType discriminates the tagged AgentEvent variant.
type AgentEventType string

const (
	EventIterationStarted AgentEventType = "iteration_started"
	EventAssistantDelta    AgentEventType = "assistant_delta"
	EventReasoningDelta    AgentEventType = "reasoning_delta"
	EventToolCallDelta     AgentEventType = "tool_call_delta"
	EventToolCallStarted   AgentEventType = "tool_call_started"
	EventToolCallFinished  AgentEventType = "tool_call_finished"
	EventFinalResponse     AgentEventType = "final_response"
	EventError             AgentEventType = "error"
)

// AgentEvent is the tagged union described in spec.md §3. Exactly one of
// the payload pointers is set, matching Type.
type AgentEvent struct {
	Type AgentEventType `json:"type"`

	IterationStarted *IterationStartedPayload `json:"iteration_started,omitempty"`
	AssistantDelta   *TextDeltaPayload        `json:"assistant_delta,omitempty"`
	ReasoningDelta   *TextDeltaPayload        `json:"reasoning_delta,omitempty"`
	ToolCallDelta    *ToolCallDeltaPayload    `json:"tool_call_delta,omitempty"`
	ToolCallStarted  *ToolCallStartedPayload  `json:"tool_call_started,omitempty"`
	ToolCallFinished *ToolCallFinishedPayload `json:"tool_call_finished,omitempty"`
	FinalResponse    *FinalResponsePayload    `json:"final_response,omitempty"`
	Error            *ErrorPayload            `json:"error,omitempty"`
}

type IterationStartedPayload struct {
	Index         int `json:"index"`
	MaxIterations int `json:"max_iterations"`
}

type TextDeltaPayload struct {
	Text string `json:"text"`
}

type ToolCallDeltaPayload struct {
	Name      string `json:"name"`
	ArgsDelta string `json:"args_delta"`
}

type ToolCallStartedPayload struct {
	Name        string `json:"name"`
	ArgsPreview string `json:"args_preview"`
	CallID      string `json:"call_id"`
}

type ToolCallFinishedPayload struct {
	Name    string `json:"name"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	CallID  string `json:"call_id"`
}

type FinalResponsePayload struct {
	Content string `json:"content"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// AgentEventEnvelope routes an AgentEvent to its (channel, chat_id)
// conversation. Events are strictly ordered per envelope key.
type AgentEventEnvelope struct {
	Channel string     `json:"channel"`
	ChatID  string     `json:"chat_id"`
	Event   AgentEvent `json:"event"`
}

// Key returns the routing key used to preserve per-conversation order.
func (e AgentEventEnvelope) Key() string {
	return e.Channel + ":" + e.ChatID
}

func newEvent(t AgentEventType) AgentEvent { return AgentEvent{Type: t} }

// NewIterationStarted builds an IterationStarted event.
func NewIterationStarted(index, max int) AgentEvent {
	e := newEvent(EventIterationStarted)
	e.IterationStarted = &IterationStartedPayload{Index: index, MaxIterations: max}
	return e
}

// NewAssistantDelta builds an AssistantDelta event.
func NewAssistantDelta(text string) AgentEvent {
	e := newEvent(EventAssistantDelta)
	e.AssistantDelta = &TextDeltaPayload{Text: text}
	return e
}

// NewReasoningDelta builds a ReasoningDelta event.
func NewReasoningDelta(text string) AgentEvent {
	e := newEvent(EventReasoningDelta)
	e.ReasoningDelta = &TextDeltaPayload{Text: text}
	return e
}

// NewToolCallDelta builds a ToolCallDelta event.
func NewToolCallDelta(name, argsDelta string) AgentEvent {
	e := newEvent(EventToolCallDelta)
	e.ToolCallDelta = &ToolCallDeltaPayload{Name: name, ArgsDelta: argsDelta}
	return e
}

// NewToolCallStarted builds a ToolCallStarted event.
func NewToolCallStarted(name, argsPreview, callID string) AgentEvent {
	e := newEvent(EventToolCallStarted)
	e.ToolCallStarted = &ToolCallStartedPayload{Name: name, ArgsPreview: argsPreview, CallID: callID}
	return e
}

// NewToolCallFinished builds a ToolCallFinished event.
func NewToolCallFinished(name, result string, isError bool, callID string) AgentEvent {
	e := newEvent(EventToolCallFinished)
	e.ToolCallFinished = &ToolCallFinishedPayload{Name: name, Result: result, IsError: isError, CallID: callID}
	return e
}

// NewFinalResponse builds a FinalResponse event.
func NewFinalResponse(content string) AgentEvent {
	e := newEvent(EventFinalResponse)
	e.FinalResponse = &FinalResponsePayload{Content: content}
	return e
}

// NewErrorEvent builds an Error event.
func NewErrorEvent(message string) AgentEvent {
	e := newEvent(EventError)
	e.Error = &ErrorPayload{Message: message}
	return e
}

// IsTerminal reports whether this event ends a run (FinalResponse or Error).
func (e AgentEvent) IsTerminal() bool {
	return e.Type == EventFinalResponse || e.Type == EventError
}
