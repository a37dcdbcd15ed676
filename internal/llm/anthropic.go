package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements Provider against Anthropic's Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicProvider builds a provider talking to api.anthropic.com (or
// cfg.BaseURL, for a compatible proxy).
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5-20250929"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) model(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *AnthropicProvider) maxTokens(req ChatRequest) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	return 4096
}

func (p *AnthropicProvider) buildParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  messages,
		MaxTokens: p.maxTokens(req),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToolsToAnthropic(req.Tools)
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

func convertMessagesToAnthropic(msgs []divamodel.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		if m.Role == divamodel.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.Role == divamodel.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
		for _, tc := range m.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.ID, map[string]any(tc.Arguments), tc.Name))
		}

		if m.Role == divamodel.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertToolsToAnthropic(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schemaJSON, _ := json.Marshal(t.Schema)
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(schemaJSON, &schema)

		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out
}

// Chat sends a non-streaming Messages request with linear-backoff retry on
// retryable failures (rate limit, server error, timeout).
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*divamodel.LLMResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		msg, err = p.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		perr := wrapAnthropicError(err, p.model(req))
		if !perr.(*ProviderError).Reason.IsRetryable() || attempt == p.maxRetries {
			return nil, perr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt)):
		}
	}
	if err != nil {
		return nil, wrapAnthropicError(err, p.model(req))
	}

	return anthropicMessageToResponse(msg), nil
}

func anthropicMessageToResponse(msg *anthropic.Message) *divamodel.LLMResponse {
	resp := &divamodel.LLMResponse{
		FinishReason: string(msg.StopReason),
		Usage: map[string]any{
			"input_tokens":  msg.Usage.InputTokens,
			"output_tokens": msg.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	var reasoning strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ThinkingBlock:
			reasoning.WriteString(variant.Thinking)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if json.Unmarshal(variant.Input, &args) != nil {
				args = map[string]any{"raw": string(variant.Input)}
			}
			resp.ToolCalls = append(resp.ToolCalls, divamodel.ToolCallRequest{
				ID: variant.ID, CallType: "function", Name: variant.Name, Arguments: args,
			})
		}
	}
	resp.Content = text.String()
	resp.ReasoningContent = reasoning.String()
	return resp
}

// ChatStream streams a Messages request, relaying text/thinking deltas and
// reconstructing tool_use blocks from input_json_delta fragments.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan divamodel.LLMStreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan divamodel.LLMStreamEvent)
	go func() {
		defer close(out)

		stream := p.client.Messages.NewStreaming(ctx, params)
		var toolIndex = -1
		var toolID, toolName string
		var toolArgs strings.Builder
		var finishReason string
		var toolCalls []divamodel.ToolCallRequest
		var content, reasoning strings.Builder

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				start := event.AsContentBlockStart()
				if start.ContentBlock.Type == "tool_use" {
					tu := start.ContentBlock.AsToolUse()
					toolIndex++
					toolID, toolName = tu.ID, tu.Name
					toolArgs.Reset()
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						content.WriteString(delta.Text)
						out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamTextDelta, TextDelta: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						reasoning.WriteString(delta.Thinking)
						out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamReasoningDelta, ReasoningText: delta.Thinking}
					}
				case "input_json_delta":
					if delta.PartialJSON != "" {
						toolArgs.WriteString(delta.PartialJSON)
						out <- divamodel.LLMStreamEvent{
							Kind: divamodel.StreamToolCallDelta,
							ToolCallDelta: &divamodel.ToolCallDelta{
								Index: toolIndex, ID: toolID, Name: toolName, ArgumentsJSON: delta.PartialJSON,
							},
						}
					}
				}
			case "content_block_stop":
				if toolIndex >= 0 && toolName != "" {
					args := map[string]any{}
					if json.Unmarshal([]byte(toolArgs.String()), &args) != nil {
						args = map[string]any{"raw": toolArgs.String()}
					}
					toolCalls = append(toolCalls, divamodel.ToolCallRequest{ID: toolID, CallType: "function", Name: toolName, Arguments: args})
					toolName = ""
				}
			case "message_delta":
				md := event.AsMessageDelta()
				if md.Delta.StopReason != "" {
					finishReason = string(md.Delta.StopReason)
				}
			case "message_stop":
				out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: &divamodel.LLMResponse{
					Content: content.String(), ReasoningContent: reasoning.String(),
					ToolCalls: toolCalls, FinishReason: finishReason,
				}}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: &divamodel.LLMResponse{
				Content: content.String(), FinishReason: "error",
			}}
		}
	}()
	return out, nil
}

func wrapAnthropicError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Reason:   reasonForStatus(apiErr.StatusCode),
			Provider: "anthropic",
			Model:    model,
			Status:   apiErr.StatusCode,
			Message:  apiErr.Error(),
			Cause:    err,
		}
	}
	return &ProviderError{Reason: FailoverUnknown, Provider: "anthropic", Model: model, Cause: err, Message: fmt.Sprint(err)}
}
