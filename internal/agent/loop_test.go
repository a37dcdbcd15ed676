package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/agent-diva/diva/internal/bus"
	"github.com/agent-diva/diva/internal/llm"
	"github.com/agent-diva/diva/internal/sessions"
	"github.com/agent-diva/diva/internal/tools"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// scriptedProvider replays a fixed sequence of stream-event batches, one
// per ChatStream call, so a test can script a multi-iteration exchange.
type scriptedProvider struct {
	turns [][]divamodel.LLMStreamEvent
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*divamodel.LLMResponse, error) {
	panic("not used")
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan divamodel.LLMStreamEvent, error) {
	turn := p.turns[p.calls]
	p.calls++
	ch := make(chan divamodel.LLMStreamEvent, len(turn))
	for _, ev := range turn {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) SupportsTools() bool { return true }

type echoTool struct{}

func (echoTool) Name() string           { return "echo" }
func (echoTool) Description() string    { return "echoes its input" }
func (echoTool) Schema() map[string]any { return map[string]any{} }
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return "echoed: " + string(args), nil
}

func newTestLoop(t *testing.T, provider llm.Provider) (*Loop, *bus.Bus) {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), nil)
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	store := sessions.NewJournalStore(t.TempDir())
	l := New(b, provider, filepath.Join(t.TempDir(), "ws"), "scripted-model", 0, registry, store, nil, nil)
	return l, b
}

func completedResponse(content string) divamodel.LLMStreamEvent {
	return divamodel.LLMStreamEvent{
		Kind:      divamodel.StreamCompleted,
		Completed: &divamodel.LLMResponse{Content: content, FinishReason: "stop"},
	}
}

func TestProcessInboundMessage_NoToolCalls(t *testing.T) {
	provider := &scriptedProvider{turns: [][]divamodel.LLMStreamEvent{
		{{Kind: divamodel.StreamTextDelta, TextDelta: "hi "}, completedResponse("hi there")},
	}}
	l, _ := newTestLoop(t, provider)

	var events []divamodel.AgentEvent
	out, err := l.ProcessInboundMessage(context.Background(), divamodel.InboundMessage{
		Channel: "cli", SenderID: "u1", ChatID: "c1", Content: "hello",
	}, func(e divamodel.AgentEvent) { events = append(events, e) })
	if err != nil {
		t.Fatalf("ProcessInboundMessage: %v", err)
	}
	if out.Content != "hi there" {
		t.Fatalf("Content = %q, want %q", out.Content, "hi there")
	}
	if out.Channel != "cli" || out.ChatID != "c1" {
		t.Fatalf("out = %+v, want channel/chat_id preserved", out)
	}

	var sawFinal bool
	for _, e := range events {
		if e.Type == divamodel.EventFinalResponse {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Fatal("expected a FinalResponse event")
	}
}

func TestProcessInboundMessage_WithToolCall(t *testing.T) {
	provider := &scriptedProvider{turns: [][]divamodel.LLMStreamEvent{
		{{
			Kind: divamodel.StreamCompleted,
			Completed: &divamodel.LLMResponse{
				ToolCalls: []divamodel.ToolCallRequest{
					{ID: "call-1", Name: "echo", Arguments: map[string]any{"x": "y"}},
				},
			},
		}},
		{completedResponse("done after tool")},
	}}
	l, _ := newTestLoop(t, provider)

	out, err := l.ProcessInboundMessage(context.Background(), divamodel.InboundMessage{
		Channel: "cli", SenderID: "u1", ChatID: "c1", Content: "use the echo tool",
	}, nil)
	if err != nil {
		t.Fatalf("ProcessInboundMessage: %v", err)
	}
	if out.Content != "done after tool" {
		t.Fatalf("Content = %q, want %q", out.Content, "done after tool")
	}
	if provider.calls != 2 {
		t.Fatalf("provider called %d times, want 2 (one per iteration)", provider.calls)
	}
}

func TestProcessInboundMessage_ExhaustsIterationsWithApology(t *testing.T) {
	call := divamodel.LLMStreamEvent{
		Kind: divamodel.StreamCompleted,
		Completed: &divamodel.LLMResponse{
			ToolCalls: []divamodel.ToolCallRequest{{ID: "1", Name: "echo", Arguments: map[string]any{}}},
		},
	}
	turns := make([][]divamodel.LLMStreamEvent, 3)
	for i := range turns {
		turns[i] = []divamodel.LLMStreamEvent{call}
	}
	provider := &scriptedProvider{turns: turns}

	b := bus.New(bus.DefaultConfig(), nil)
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	store := sessions.NewJournalStore(t.TempDir())
	l := New(b, provider, t.TempDir(), "scripted-model", 3, registry, store, nil, nil)

	out, err := l.ProcessInboundMessage(context.Background(), divamodel.InboundMessage{
		Channel: "cli", SenderID: "u1", ChatID: "c1", Content: "loop forever",
	}, nil)
	if err != nil {
		t.Fatalf("ProcessInboundMessage: %v", err)
	}
	if out.Content == "" {
		t.Fatal("expected a fallback apology content when iterations are exhausted")
	}
	if provider.calls != 3 {
		t.Fatalf("provider called %d times, want 3", provider.calls)
	}
}

func TestProcessInboundMessage_PersistsSessionHistory(t *testing.T) {
	provider := &scriptedProvider{turns: [][]divamodel.LLMStreamEvent{
		{completedResponse("pong")},
	}}
	l, _ := newTestLoop(t, provider)

	ctx := context.Background()
	if _, err := l.ProcessInboundMessage(ctx, divamodel.InboundMessage{
		Channel: "cli", SenderID: "u1", ChatID: "c1", Content: "ping",
	}, nil); err != nil {
		t.Fatalf("ProcessInboundMessage: %v", err)
	}

	session, err := l.sessions.GetOrCreate(ctx, divamodel.SessionKey("cli", "c1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2 (user + assistant)", len(session.Messages))
	}
	if session.Messages[0].Content != "ping" || session.Messages[1].Content != "pong" {
		t.Fatalf("unexpected persisted messages: %+v", session.Messages)
	}
}

func TestProcessInboundMessage_ReplyToFromMetadata(t *testing.T) {
	provider := &scriptedProvider{turns: [][]divamodel.LLMStreamEvent{
		{completedResponse("reply")},
	}}
	l, _ := newTestLoop(t, provider)

	out, err := l.ProcessInboundMessage(context.Background(), divamodel.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", Content: "hi",
		Metadata: map[string]any{"message_id": "msg-42"},
	}, nil)
	if err != nil {
		t.Fatalf("ProcessInboundMessage: %v", err)
	}
	if out.ReplyTo != "msg-42" {
		t.Fatalf("ReplyTo = %q, want msg-42", out.ReplyTo)
	}
}
