package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GeminiProvider implements Provider against Google's Gemini API.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewGeminiProvider builds a provider using the Gemini Developer API
// backend (not Vertex AI).
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiProvider{client: client, defaultModel: cfg.DefaultModel, maxRetries: cfg.MaxRetries, retryDelay: cfg.RetryDelay}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) SupportsTools() bool { return true }

func (p *GeminiProvider) model(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func convertMessagesToGemini(msgs []divamodel.Message) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		if m.Role == divamodel.RoleSystem {
			continue
		}
		content := &genai.Content{Role: genai.RoleUser}
		if m.Role == divamodel.RoleAssistant {
			content.Role = genai.RoleModel
		}
		if m.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Arguments}})
		}
		if m.Role == divamodel.RoleTool {
			content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     m.Name,
				Response: map[string]any{"result": m.Content},
			}})
		}
		out = append(out, content)
	}
	return out
}

func convertToolsToGemini(tools []ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToGemini(t.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func schemaToGemini(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out genai.Schema
	if json.Unmarshal(raw, &out) != nil {
		return nil
	}
	return &out
}

func (p *GeminiProvider) buildConfig(req ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertToolsToGemini(req.Tools)
	}
	return cfg
}

// Chat performs a non-streaming generateContent call, retrying on any
// error up to maxRetries attempts with linear backoff.
func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*divamodel.LLMResponse, error) {
	contents := convertMessagesToGemini(req.Messages)
	cfg := p.buildConfig(req)
	model := p.model(req)

	var result *genai.GenerateContentResponse
	var err error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		result, err = p.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			break
		}
		if attempt == p.maxRetries {
			return nil, &ProviderError{Reason: FailoverUnknown, Provider: "gemini", Model: model, Cause: err}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt)):
		}
	}

	return geminiResponseToLLM(result), nil
}

func geminiResponseToLLM(resp *genai.GenerateContentResponse) *divamodel.LLMResponse {
	out := &divamodel.LLMResponse{FinishReason: "stop"}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return out
	}
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, divamodel.ToolCallRequest{
				ID: part.FunctionCall.Name, CallType: "function", Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args,
			})
		}
	}
	if cand.FinishReason != "" {
		out.FinishReason = string(cand.FinishReason)
	}
	return out
}

// ChatStream streams generateContent, relaying a text delta per text part
// and one tool-call delta per function call as it arrives, then a final
// Completed event (Gemini does not fragment function-call arguments
// across chunks the way OpenAI does, so each tool call arrives whole in
// one chunk).
func (p *GeminiProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan divamodel.LLMStreamEvent, error) {
	contents := convertMessagesToGemini(req.Messages)
	cfg := p.buildConfig(req)
	model := p.model(req)

	out := make(chan divamodel.LLMStreamEvent)
	go func() {
		defer close(out)

		var content string
		var toolCalls []divamodel.ToolCallRequest
		finishReason := "stop"
		index := 0

		for chunk, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: &divamodel.LLMResponse{Content: content, FinishReason: "error"}}
				return
			}
			if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
				continue
			}
			cand := chunk.Candidates[0]
			if cand.FinishReason != "" {
				finishReason = string(cand.FinishReason)
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					content += part.Text
					out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamTextDelta, TextDelta: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					toolCalls = append(toolCalls, divamodel.ToolCallRequest{
						ID: part.FunctionCall.Name, CallType: "function", Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args,
					})
					out <- divamodel.LLMStreamEvent{
						Kind: divamodel.StreamToolCallDelta,
						ToolCallDelta: &divamodel.ToolCallDelta{
							Index: index, Name: part.FunctionCall.Name, ArgumentsJSON: string(argsJSON),
						},
					}
					index++
				}
			}
		}

		out <- divamodel.LLMStreamEvent{Kind: divamodel.StreamCompleted, Completed: &divamodel.LLMResponse{
			Content: content, ToolCalls: toolCalls, FinishReason: finishReason,
		}}
	}()
	return out, nil
}
