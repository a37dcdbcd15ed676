package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockProvider implements Provider against AWS Bedrock's Converse and
// ConverseStream APIs, giving access to Anthropic/Titan/Llama/Mistral
// foundation models hosted on Bedrock through one wire format.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewBedrockProvider builds a provider using explicit credentials when
// given, otherwise the default AWS credential chain (env, IAM role).
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load aws config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsTools() bool { return true }

func (p *BedrockProvider) model(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func convertMessagesToBedrock(msgs []divamodel.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == divamodel.RoleSystem {
			continue
		}
		var content []types.ContentBlock
		if m.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			content = append(content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     document.NewLazyDocument(tc.Arguments),
			}})
		}
		if m.Role == divamodel.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
			}})
		}

		role := types.ConversationRoleUser
		if m.Role == divamodel.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func convertToolsToBedrock(tools []ToolSpec) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	bedrockTools := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(t.Schema)},
		}})
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

func (p *BedrockProvider) buildInput(req ChatRequest) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(p.model(req)),
		Messages: convertMessagesToBedrock(req.Messages),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if cfg := convertToolsToBedrock(req.Tools); cfg != nil {
		input.ToolConfig = cfg
	}
	return input
}

// Chat performs a request by draining ChatStream, since Bedrock's
// Converse (non-streaming) API requires a distinct request type; reusing
// the streaming path keeps the wire-format conversion in one place.
func (p *BedrockProvider) Chat(ctx context.Context, req ChatRequest) (*divamodel.LLMResponse, error) {
	events, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	var final *divamodel.LLMResponse
	for ev := range events {
		if ev.Kind == divamodel.StreamCompleted {
			final = ev.Completed
		}
	}
	if final == nil {
		return nil, &ProviderError{Reason: FailoverUnknown, Provider: "bedrock", Model: p.model(req), Message: "stream closed without completion"}
	}
	return final, nil
}

// ChatStream opens a ConverseStream and relays text/tool-use deltas,
// retrying the initial stream open on any error, up to maxRetries attempts
// with linear backoff.
func (p *BedrockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan divamodel.LLMStreamEvent, error) {
	input := p.buildInput(req)

	var resp *bedrockruntime.ConverseStreamOutput
	var err error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		resp, err = p.client.ConverseStream(ctx, input)
		if err == nil {
			break
		}
		if attempt == p.maxRetries {
			return nil, &ProviderError{Reason: FailoverUnknown, Provider: "bedrock", Model: p.model(req), Cause: err}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt)):
		}
	}

	out := make(chan divamodel.LLMStreamEvent)
	go func() {
		defer close(out)

		stream := resp.GetStream()
		defer stream.Close()

		var content strings.Builder
		var toolID, toolName string
		var toolInput strings.Builder
		var toolCalls []divamodel.ToolCallRequest
		toolIndex := 0

		for event := range stream.Events() {
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolID = aws.ToString(tu.Value.ToolUseId)
					toolName = aws.ToString(tu.Value.Name)
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						content.WriteString(delta.Value)
						out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamTextDelta, TextDelta: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
						out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamToolCallDelta, ToolCallDelta: &divamodel.ToolCallDelta{
							Index: toolIndex, ID: toolID, Name: toolName, ArgumentsJSON: *delta.Value.Input,
						}}
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if toolName != "" {
					args := map[string]any{}
					if json.Unmarshal([]byte(toolInput.String()), &args) != nil {
						args = map[string]any{"raw": toolInput.String()}
					}
					toolCalls = append(toolCalls, divamodel.ToolCallRequest{ID: toolID, CallType: "function", Name: toolName, Arguments: args})
					toolName = ""
					toolIndex++
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: &divamodel.LLMResponse{
					Content: content.String(), ToolCalls: toolCalls, FinishReason: string(ev.Value.StopReason),
				}}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: &divamodel.LLMResponse{Content: content.String(), FinishReason: "error"}}
		}
	}()
	return out, nil
}
