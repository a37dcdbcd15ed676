package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// OpenAIProvider implements Provider against the OpenAI Chat Completions
// API (and any Azure/compatible deployment sharing its wire format).
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenAIProvider builds a provider from an API key and optional
// default model (falls back to gpt-4o).
func NewOpenAIProvider(apiKey, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &OpenAIProvider{
		client:       openai.NewClient(apiKey),
		defaultModel: defaultModel,
		maxRetries:   3,
		retryDelay:   time.Second,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) model(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func convertMessagesToOpenAI(system string, msgs []divamodel.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: string(args)},
			})
		}
		out = append(out, om)
	}
	return out
}

func convertToolsToOpenAI(tools []ToolSpec) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) buildRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	cr := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: convertMessagesToOpenAI(req.System, req.Messages),
		Stream:   stream,
		Tools:    convertToolsToOpenAI(req.Tools),
	}
	if req.MaxTokens > 0 {
		cr.MaxTokens = req.MaxTokens
	}
	return cr
}

func (p *OpenAIProvider) isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reasonForStatus(apiErr.HTTPStatusCode).IsRetryable()
	}
	return false
}

// Chat performs a non-streaming completion with linear-backoff retry.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*divamodel.LLMResponse, error) {
	cr := p.buildRequest(req, false)

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		resp, err = p.client.CreateChatCompletion(ctx, cr)
		if err == nil {
			break
		}
		if !p.isRetryable(err) || attempt == p.maxRetries {
			return nil, wrapOpenAIError(err, p.model(req))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt)):
		}
	}
	if err != nil {
		return nil, wrapOpenAIError(err, p.model(req))
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Reason: FailoverInvalidRequest, Provider: "openai", Model: p.model(req), Message: "no choices in response"}
	}
	return openaiChoiceToResponse(resp.Choices[0]), nil
}

func openaiChoiceToResponse(choice openai.ChatCompletionChoice) *divamodel.LLMResponse {
	resp := &divamodel.LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if json.Unmarshal([]byte(tc.Function.Arguments), &args) != nil {
			args = map[string]any{"raw": tc.Function.Arguments}
		}
		resp.ToolCalls = append(resp.ToolCalls, divamodel.ToolCallRequest{ID: tc.ID, CallType: "function", Name: tc.Function.Name, Arguments: args})
	}
	return resp
}

// ChatStream performs a streaming completion, reconstructing fragmented
// tool calls from their index and emitting each delta as it arrives.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan divamodel.LLMStreamEvent, error) {
	cr := p.buildRequest(req, true)
	stream, err := p.client.CreateChatCompletionStream(ctx, cr)
	if err != nil {
		return nil, wrapOpenAIError(err, p.model(req))
	}

	out := make(chan divamodel.LLMStreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		var content strings.Builder
		var finishReason string
		var partials []partialToolCall

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: finalizeOpenAIStream(content.String(), partials, finishReason)}
					return
				}
				out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: &divamodel.LLMResponse{Content: content.String(), FinishReason: "error"}}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamTextDelta, TextDelta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				for len(partials) <= index {
					partials = append(partials, partialToolCall{})
				}
				entry := &partials[index]
				if tc.ID != "" {
					entry.id = tc.ID
				}
				if tc.Function.Name != "" {
					entry.name += tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					entry.argumentsJSON += tc.Function.Arguments
				}
				out <- divamodel.LLMStreamEvent{
					Kind: divamodel.StreamToolCallDelta,
					ToolCallDelta: &divamodel.ToolCallDelta{
						Index: index, ID: entry.id, Name: entry.name, ArgumentsJSON: tc.Function.Arguments,
					},
				}
			}
		}
	}()
	return out, nil
}

func finalizeOpenAIStream(content string, partials []partialToolCall, finishReason string) *divamodel.LLMResponse {
	resp := &divamodel.LLMResponse{Content: content, FinishReason: finishReason}
	for _, call := range partials {
		args := map[string]any{}
		if json.Unmarshal([]byte(call.argumentsJSON), &args) != nil {
			args = map[string]any{"raw": call.argumentsJSON}
		}
		resp.ToolCalls = append(resp.ToolCalls, divamodel.ToolCallRequest{ID: call.id, CallType: "function", Name: call.name, Arguments: args})
	}
	return resp
}

func wrapOpenAIError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Reason:   reasonForStatus(apiErr.HTTPStatusCode),
			Provider: "openai",
			Model:    model,
			Status:   apiErr.HTTPStatusCode,
			Code:     fmtAny(apiErr.Code),
			Message:  apiErr.Message,
			Cause:    err,
		}
	}
	return &ProviderError{Reason: FailoverUnknown, Provider: "openai", Model: model, Cause: err}
}

func fmtAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
