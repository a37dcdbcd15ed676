package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// HTTPProviderConfig configures an OpenAI-compatible backend reachable
// over plain HTTP: a self-hosted litellm instance, OpenRouter, AiHubMix,
// or any other gateway that speaks the /chat/completions wire format.
type HTTPProviderConfig struct {
	Name          string
	APIBase       string
	APIKey        string
	DefaultModel  string
	ExtraHeaders  map[string]string
	Gateway       *ProviderSpec
	Registry      *Registry
	HTTPClient    *http.Client
	MaxRetries    int
	RetryInterval time.Duration
}

// HTTPProvider talks to any OpenAI-compatible /chat/completions endpoint,
// doing its own model-name resolution and SSE framing. This is the path
// exercised by gateway and self-hosted model backends that have no
// first-party Go SDK.
type HTTPProvider struct {
	cfg HTTPProviderConfig
	cl  *http.Client
}

// NewHTTPProvider builds an HTTPProvider. If cfg.APIBase is empty it
// falls back to the gateway spec's default, then to localhost:4000 (a
// local litellm proxy), matching the resolution order of a litellm
// client.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.APIBase == "" {
		if cfg.Gateway != nil && cfg.Gateway.DefaultAPIBase != "" {
			cfg.APIBase = cfg.Gateway.DefaultAPIBase
		} else {
			cfg.APIBase = "http://localhost:4000"
		}
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &HTTPProvider{cfg: cfg, cl: cfg.HTTPClient}
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

func (p *HTTPProvider) SupportsTools() bool { return true }

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	Tools       []wireTool      `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatCompletionResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Message      wireResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type wireResponseMessage struct {
	Content          string         `json:"content"`
	ToolCalls        []wireToolCall `json:"tool_calls"`
	ReasoningContent string         `json:"reasoning_content"`
}

type wireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *wireUsage     `json:"usage"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Content          *string            `json:"content"`
	ReasoningContent *string            `json:"reasoning_content"`
	ToolCalls        []streamToolCall   `json:"tool_calls"`
}

type streamToolCall struct {
	Index    int              `json:"index"`
	ID       *string          `json:"id"`
	Type     *string          `json:"type"`
	Function *streamFunction  `json:"function"`
}

type streamFunction struct {
	Name      *string `json:"name"`
	Arguments *string `json:"arguments"`
}

func toWireMessages(sys string, msgs []divamodel.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs)+1)
	if sys != "" {
		out = append(out, wireMessage{Role: "system", Content: sys})
	}
	for _, m := range msgs {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireToolCallFunc{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []ToolSpec) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func (p *HTTPProvider) buildRequest(req ChatRequest, stream bool) chatCompletionRequest {
	resolved := p.cfg.Registry.ResolveModel(req.Model, p.cfg.Gateway)
	temperature := 1.0
	if overrides := p.cfg.Registry.ApplyModelOverrides(req.Model); overrides != nil {
		if t, ok := overrides["temperature"].(float64); ok {
			temperature = t
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	cr := chatCompletionRequest{
		Model:       resolved,
		Messages:    toWireMessages(req.System, req.Messages),
		Tools:       toWireTools(req.Tools),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
	if len(cr.Tools) > 0 {
		cr.ToolChoice = "auto"
	}
	return cr
}

func (p *HTTPProvider) newHTTPRequest(ctx context.Context, body chatCompletionRequest) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIBase+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	for k, v := range p.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (p *HTTPProvider) errorFromResponse(resp *http.Response, model string) error {
	body, _ := io.ReadAll(resp.Body)
	return &ProviderError{
		Reason:   reasonForStatus(resp.StatusCode),
		Provider: p.cfg.Name,
		Model:    model,
		Status:   resp.StatusCode,
		Message:  string(body),
	}
}

// Chat sends a non-streaming completion request.
func (p *HTTPProvider) Chat(ctx context.Context, req ChatRequest) (*divamodel.LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	req.Model = model

	body := p.buildRequest(req, false)
	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := p.cl.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Reason: FailoverUnknown, Provider: p.cfg.Name, Model: model, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.errorFromResponse(resp, model)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &JSONError{Cause: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Reason: FailoverInvalidRequest, Provider: p.cfg.Name, Model: model, Message: "no choices in response"}
	}
	return fromWireResponse(parsed), nil
}

func fromWireResponse(resp chatCompletionResponse) *divamodel.LLMResponse {
	choice := resp.Choices[0]
	out := &divamodel.LLMResponse{
		Content:          choice.Message.Content,
		FinishReason:     choice.FinishReason,
		ReasoningContent: choice.Message.ReasoningContent,
		Usage: map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, toolCallFromWire(tc))
	}
	return out
}

func toolCallFromWire(tc wireToolCall) divamodel.ToolCallRequest {
	args := map[string]any{}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		args = map[string]any{"raw": tc.Function.Arguments}
	}
	callType := tc.Type
	if callType == "" {
		callType = "function"
	}
	return divamodel.ToolCallRequest{ID: tc.ID, CallType: callType, Name: tc.Function.Name, Arguments: args}
}

// ChatStream sends a streaming completion request and relays parsed SSE
// frames as divamodel.LLMStreamEvent values on the returned channel.
func (p *HTTPProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan divamodel.LLMStreamEvent, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	req.Model = model

	body := p.buildRequest(req, true)
	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := p.cl.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Reason: FailoverUnknown, Provider: p.cfg.Name, Model: model, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, p.errorFromResponse(resp, model)
	}

	out := make(chan divamodel.LLMStreamEvent)
	go p.streamLoop(resp, out)
	return out, nil
}

func (p *HTTPProvider) streamLoop(resp *http.Response, out chan<- divamodel.LLMStreamEvent) {
	defer close(out)
	defer resp.Body.Close()

	var (
		scanner      sseFrameScanner
		content      strings.Builder
		reasoning    strings.Builder
		finishReason string
		usage        *wireUsage
		partials     []partialToolCall
	)

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, payload := range scanner.feed(buf[:n]) {
				if payload == "[DONE]" {
					out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: finalizeStream(content.String(), reasoning.String(), partials, finishReason, usage)}
					return
				}

				var chunk streamChunk
				if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
					continue
				}
				if len(chunk.Choices) == 0 {
					if chunk.Usage != nil {
						usage = chunk.Usage
					}
					continue
				}

				choice := chunk.Choices[0]
				if choice.FinishReason != nil {
					finishReason = *choice.FinishReason
				}
				if choice.Delta.Content != nil && *choice.Delta.Content != "" {
					content.WriteString(*choice.Delta.Content)
					out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamTextDelta, TextDelta: *choice.Delta.Content}
				}
				if choice.Delta.ReasoningContent != nil && *choice.Delta.ReasoningContent != "" {
					reasoning.WriteString(*choice.Delta.ReasoningContent)
					out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamReasoningDelta, ReasoningText: *choice.Delta.ReasoningContent}
				}
				for _, tc := range choice.Delta.ToolCalls {
					for len(partials) <= tc.Index {
						partials = append(partials, partialToolCall{})
					}
					entry := &partials[tc.Index]
					if tc.ID != nil {
						entry.id = *tc.ID
					}
					if tc.Type != nil {
						entry.callType = *tc.Type
					}
					var argsDelta string
					if tc.Function != nil {
						if tc.Function.Name != nil {
							entry.name += *tc.Function.Name
						}
						if tc.Function.Arguments != nil {
							entry.argumentsJSON += *tc.Function.Arguments
							argsDelta = *tc.Function.Arguments
						}
					}
					out <- divamodel.LLMStreamEvent{
						Kind: divamodel.StreamToolCallDelta,
						ToolCallDelta: &divamodel.ToolCallDelta{
							Index:         tc.Index,
							ID:            entry.id,
							Name:          entry.name,
							ArgumentsJSON: argsDelta,
						},
					}
				}
			}
		}
		if readErr != nil {
			out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: finalizeStream(content.String(), reasoning.String(), partials, finishReason, usage)}
			return
		}
	}
}

func finalizeStream(content, reasoning string, partials []partialToolCall, finishReason string, usage *wireUsage) *divamodel.LLMResponse {
	resp := &divamodel.LLMResponse{Content: content, ReasoningContent: reasoning, FinishReason: finishReason}
	if resp.FinishReason == "" {
		resp.FinishReason = "stop"
	}
	for i, call := range partials {
		id := call.id
		if id == "" {
			id = fmt.Sprintf("stream_tool_call_%d", i)
		}
		callType := call.callType
		if callType == "" {
			callType = "function"
		}
		args := map[string]any{}
		if err := json.Unmarshal([]byte(call.argumentsJSON), &args); err != nil {
			args = map[string]any{"raw": call.argumentsJSON}
		}
		resp.ToolCalls = append(resp.ToolCalls, divamodel.ToolCallRequest{ID: id, CallType: callType, Name: call.name, Arguments: args})
	}
	if usage != nil {
		resp.Usage = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		}
	}
	return resp
}
