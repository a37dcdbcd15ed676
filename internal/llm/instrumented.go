package llm

import (
	"context"
	"time"

	"github.com/agent-diva/diva/internal/observability"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// InstrumentedProvider wraps a Provider, recording request latency, token
// usage, and status metrics around every call without the underlying
// vendor implementation knowing metrics exist.
type InstrumentedProvider struct {
	Provider
	metrics *observability.Metrics
}

// Instrument wraps p so every Chat/ChatStream call records metrics against
// m. A nil m makes the wrapper a transparent passthrough.
func Instrument(p Provider, m *observability.Metrics) Provider {
	return &InstrumentedProvider{Provider: p, metrics: m}
}

func (p *InstrumentedProvider) Chat(ctx context.Context, req ChatRequest) (*divamodel.LLMResponse, error) {
	start := time.Now()
	resp, err := p.Provider.Chat(ctx, req)
	status := "success"
	if err != nil {
		status = "error"
	}
	var prompt, completion int
	if resp != nil {
		prompt, completion = usageTokens(resp.Usage)
	}
	p.metrics.RecordLLMRequest(p.Provider.Name(), req.Model, status, time.Since(start), prompt, completion)
	if err != nil {
		p.metrics.RecordError("llm", p.Provider.Name())
	}
	return resp, err
}

func (p *InstrumentedProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan divamodel.LLMStreamEvent, error) {
	start := time.Now()
	events, err := p.Provider.ChatStream(ctx, req)
	if err != nil {
		p.metrics.RecordLLMRequest(p.Provider.Name(), req.Model, "error", time.Since(start), 0, 0)
		p.metrics.RecordError("llm", p.Provider.Name())
		return events, err
	}

	out := make(chan divamodel.LLMStreamEvent)
	go func() {
		defer close(out)
		var prompt, completion int
		for ev := range events {
			if ev.Completed != nil {
				prompt, completion = usageTokens(ev.Completed.Usage)
			}
			out <- ev
		}
		p.metrics.RecordLLMRequest(p.Provider.Name(), req.Model, "success", time.Since(start), prompt, completion)
	}()
	return out, nil
}

// usageTokens pulls the prompt/completion token counts out of a provider's
// loosely-typed usage map, reading input_tokens/output_tokens and, when
// both are absent, prompt_tokens/completion_tokens, and tolerating
// whichever numeric JSON type survived unmarshaling (int, int64, or float64).
func usageTokens(usage map[string]any) (prompt, completion int) {
	prompt, completion = usageInt(usage, "input_tokens"), usageInt(usage, "output_tokens")
	if prompt == 0 && completion == 0 {
		prompt, completion = usageInt(usage, "prompt_tokens"), usageInt(usage, "completion_tokens")
	}
	return prompt, completion
}

func usageInt(usage map[string]any, key string) int {
	switch v := usage[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
