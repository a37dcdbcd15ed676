package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agent-diva/diva/internal/observability"
	"github.com/agent-diva/diva/pkg/divamodel"
)

type stubProvider struct {
	name      string
	resp      *divamodel.LLMResponse
	err       error
	events    []divamodel.LLMStreamEvent
	streamErr error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Chat(ctx context.Context, req ChatRequest) (*divamodel.LLMResponse, error) {
	return p.resp, p.err
}

func (p *stubProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan divamodel.LLMStreamEvent, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	ch := make(chan divamodel.LLMStreamEvent, len(p.events))
	for _, ev := range p.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *stubProvider) SupportsTools() bool { return true }

// testMetrics is shared across this file's tests: NewMetrics registers
// against the default Prometheus registry, so it can only run once per
// test binary.
var testMetrics = observability.NewMetrics()

func TestInstrumentChatRecordsSuccessAndTokens(t *testing.T) {
	inner := &stubProvider{
		name: "anthropic",
		resp: &divamodel.LLMResponse{
			Usage: map[string]any{"input_tokens": 100, "output_tokens": 42},
		},
	}
	m := testMetrics
	wrapped := Instrument(inner, m)

	if _, err := wrapped.Chat(context.Background(), ChatRequest{Model: "claude-3-opus"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if count := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-3-opus", "success")); count != 1 {
		t.Errorf("LLMRequestCounter success = %v, want 1", count)
	}
	if tokens := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-opus", "prompt")); tokens != 100 {
		t.Errorf("prompt tokens = %v, want 100", tokens)
	}
	if tokens := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-opus", "completion")); tokens != 42 {
		t.Errorf("completion tokens = %v, want 42", tokens)
	}
}

func TestInstrumentChatRecordsErrorStatus(t *testing.T) {
	inner := &stubProvider{name: "openai", err: errors.New("rate limited")}
	m := testMetrics
	wrapped := Instrument(inner, m)

	if _, err := wrapped.Chat(context.Background(), ChatRequest{Model: "gpt-4"}); err == nil {
		t.Fatal("expected Chat to return the underlying error")
	}
	if count := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("openai", "gpt-4", "error")); count != 1 {
		t.Errorf("LLMRequestCounter error = %v, want 1", count)
	}
	if count := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("llm", "openai")); count != 1 {
		t.Errorf("ErrorCounter = %v, want 1", count)
	}
}

func TestInstrumentChatStreamRecordsOnCompletion(t *testing.T) {
	inner := &stubProvider{
		name: "anthropic",
		events: []divamodel.LLMStreamEvent{
			{Kind: divamodel.StreamTextDelta, TextDelta: "hi"},
			{Kind: divamodel.StreamCompleted, Completed: &divamodel.LLMResponse{
				Usage: map[string]any{"input_tokens": 10, "output_tokens": 5},
			}},
		},
	}
	m := testMetrics
	wrapped := Instrument(inner, m)

	events, err := wrapped.ChatStream(context.Background(), ChatRequest{Model: "claude-3-haiku"})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	count := 0
	for range events {
		count++
	}
	if count != 2 {
		t.Fatalf("drained %d events, want 2", count)
	}

	if reqs := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-3-haiku", "success")); reqs != 1 {
		t.Errorf("LLMRequestCounter success = %v, want 1", reqs)
	}
}

func TestInstrumentChatStreamErrorBeforeStart(t *testing.T) {
	inner := &stubProvider{name: "gemini", streamErr: errors.New("connect failed")}
	m := testMetrics
	wrapped := Instrument(inner, m)

	if _, err := wrapped.ChatStream(context.Background(), ChatRequest{Model: "gemini-pro"}); err == nil {
		t.Fatal("expected error")
	}
	if count := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("gemini", "gemini-pro", "error")); count != 1 {
		t.Errorf("LLMRequestCounter error = %v, want 1", count)
	}
}
