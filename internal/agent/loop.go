// Package agent implements the core reasoning loop: it consumes inbound
// messages from the bus, drives one or more streaming LLM calls,
// executes any requested tools, and publishes the resulting outbound
// message back onto the bus.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/agent-diva/diva/internal/bus"
	"github.com/agent-diva/diva/internal/llm"
	"github.com/agent-diva/diva/internal/sessions"
	"github.com/agent-diva/diva/internal/tools"
	"github.com/agent-diva/diva/pkg/divamodel"
)

const (
	defaultMaxIterations = 20
	historyWindow        = 50
	toolPreviewMaxChars  = 200
	maxChatTokens        = 4096
	pollTimeout          = time.Second
)

// EventSink receives a copy of every AgentEvent the loop emits for one
// message, in addition to the bus publish — used by a direct caller
// (e.g. the gateway's SSE handler) that wants events without
// subscribing to the whole bus.
type EventSink func(divamodel.AgentEvent)

// Loop is the agent's reasoning driver. A Provider field is an
// indirection re-read every iteration so the manager can hot-swap
// providers without disrupting an in-flight run.
type Loop struct {
	bus           *bus.Bus
	provider      atomic.Pointer[llm.Provider]
	workspace     string
	defaultModel  string
	maxIterations int

	tools    *tools.Registry
	sessions sessions.Store
	context  *ContextBuilder
	spawn    *spawnTool

	log *slog.Logger
}

// New constructs a Loop. maxIterations <= 0 uses the default of 20.
func New(b *bus.Bus, provider llm.Provider, workspace, defaultModel string, maxIterations int, registry *tools.Registry, store sessions.Store, spawner SubagentSpawner, log *slog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if log == nil {
		log = slog.Default()
	}

	l := &Loop{
		bus:           b,
		workspace:     workspace,
		defaultModel:  defaultModel,
		maxIterations: maxIterations,
		tools:         registry,
		sessions:      store,
		context:       NewContextBuilder(workspace),
		log:           log.With("component", "agent"),
	}
	l.provider.Store(&provider)

	if spawner != nil {
		l.spawn = NewSpawnTool(spawner)
		registry.Register(l.spawn)
	}
	return l
}

// SetProvider hot-swaps the provider backing subsequent iterations.
// In-flight iterations keep using whatever they already read.
func (l *Loop) SetProvider(p llm.Provider) {
	l.provider.Store(&p)
}

func (l *Loop) currentProvider() llm.Provider {
	return *l.provider.Load()
}

// Run takes ownership of the bus's inbound receiver and processes
// messages until ctx is cancelled or the inbound channel is closed.
// Bus.Stop does not close the inbound channel, so stopping the bus alone
// does not end Run. Each response is published back onto the bus as an
// OutboundMessage.
func (l *Loop) Run(ctx context.Context) error {
	inbound, err := l.bus.TakeInboundReceiver()
	if err != nil {
		return fmt.Errorf("agent loop: %w", err)
	}

	l.log.Info("agent loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info("agent loop stopping: context cancelled")
			return nil
		case msg, ok := <-inbound:
			if !ok {
				l.log.Info("agent loop stopping: bus closed")
				return nil
			}
			l.handle(ctx, msg)
		case <-time.After(pollTimeout):
			// lets shutdown signals propagate promptly even when idle.
			continue
		}
	}
}

func (l *Loop) handle(ctx context.Context, msg divamodel.InboundMessage) {
	out, err := l.ProcessInboundMessage(ctx, msg, nil)
	if err != nil {
		l.log.Error("failed to process inbound message", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		return
	}
	if out == nil {
		return
	}
	if err := l.bus.PublishOutbound(ctx, *out); err != nil {
		l.log.Error("failed to publish outbound message", "channel", out.Channel, "error", err)
	}
}

// ProcessInboundMessage runs the per-message algorithm end to end:
// resolve the model, load session history, build the prompt, drive
// the iteration loop, persist the turn, and return the outbound reply.
func (l *Loop) ProcessInboundMessage(ctx context.Context, msg divamodel.InboundMessage, sink EventSink) (*divamodel.OutboundMessage, error) {
	provider := l.currentProvider()
	model := l.defaultModel
	if model == "" {
		model = provider.Name()
	}

	preview := truncateRunes(msg.Content, 80)
	l.log.Debug("processing inbound message", "channel", msg.Channel, "sender", msg.SenderID, "preview", preview, "model", model)

	sessionKey := divamodel.SessionKey(msg.Channel, msg.ChatID)
	session, err := l.sessions.GetOrCreate(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionKey, err)
	}

	if l.spawn != nil {
		l.spawn.setOrigin(msg.Channel, msg.ChatID)
	}

	messages := l.context.BuildMessages(session.LastN(historyWindow), msg.Content)

	emit := func(event divamodel.AgentEvent) {
		if sink != nil {
			sink(event)
		}
		l.bus.PublishEvent(divamodel.AgentEventEnvelope{Channel: msg.Channel, ChatID: msg.ChatID, Event: event})
	}

	toolDefs := toToolSpecs(l.tools.Definitions())

	var finalContent, finalReasoning string
	haveFinal := false

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		emit(divamodel.NewIterationStarted(iteration, l.maxIterations))

		req := llm.ChatRequest{
			Model:     model,
			Messages:  messages,
			Tools:     toolDefs,
			MaxTokens: maxChatTokens,
		}

		response, err := l.streamOneTurn(ctx, l.currentProvider(), req, emit)
		if err != nil {
			emit(divamodel.NewErrorEvent(err.Error()))
			return nil, fmt.Errorf("chat stream: %w", err)
		}

		if response.HasToolCalls() {
			messages = append(messages, divamodel.Message{
				Role:      divamodel.RoleAssistant,
				Content:   response.Content,
				ToolCalls: response.ToolCalls,
			})

			for _, call := range response.ToolCalls {
				argsJSON := marshalArgs(call.Arguments)
				argsPreview := truncateRunes(string(argsJSON), toolPreviewMaxChars)
				emit(divamodel.NewToolCallStarted(call.Name, argsPreview, call.ID))

				result, err := l.tools.Execute(ctx, call.Name, argsJSON)
				if err != nil {
					result = fmt.Sprintf("Error: %v", err)
				}
				isError := tools.IsError(result)
				emit(divamodel.NewToolCallFinished(call.Name, result, isError, call.ID))

				messages = append(messages, divamodel.Message{
					Role:       divamodel.RoleTool,
					Content:    result,
					Name:       call.Name,
					ToolCallID: call.ID,
				})
			}
			continue
		}

		finalContent = response.Content
		finalReasoning = response.ReasoningContent
		haveFinal = true
		break
	}

	if !haveFinal {
		finalContent = "I've reached my iteration limit and wasn't able to finish. Could you try rephrasing or breaking the task down?"
	}

	emit(divamodel.NewFinalResponse(finalContent))

	session.Append(divamodel.Message{Role: divamodel.RoleUser, Content: msg.Content})
	session.Append(divamodel.Message{Role: divamodel.RoleAssistant, Content: finalContent})
	if err := l.sessions.Save(ctx, sessionKey); err != nil {
		l.log.Error("failed to save session", "key", sessionKey, "error", err)
	}

	return &divamodel.OutboundMessage{
		Channel:          msg.Channel,
		ChatID:           msg.ChatID,
		Content:          finalContent,
		ReplyTo:          msg.MessageID(),
		ReasoningContent: finalReasoning,
		Metadata:         msg.Metadata,
	}, nil
}

// streamOneTurn drives one ChatStream call to completion, relaying
// deltas through emit and returning the synthesized LLMResponse even
// if the stream closed before a Completed event arrived.
func (l *Loop) streamOneTurn(ctx context.Context, provider llm.Provider, req llm.ChatRequest, emit func(divamodel.AgentEvent)) (*divamodel.LLMResponse, error) {
	events, err := provider.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var textBuf, reasoningBuf string
	var completed *divamodel.LLMResponse

	for ev := range events {
		switch ev.Kind {
		case divamodel.StreamTextDelta:
			textBuf += ev.TextDelta
			emit(divamodel.NewAssistantDelta(ev.TextDelta))
		case divamodel.StreamReasoningDelta:
			reasoningBuf += ev.ReasoningText
			emit(divamodel.NewReasoningDelta(ev.ReasoningText))
		case divamodel.StreamToolCallDelta:
			if ev.ToolCallDelta != nil {
				emit(divamodel.NewToolCallDelta(ev.ToolCallDelta.Name, ev.ToolCallDelta.ArgumentsJSON))
			}
		case divamodel.StreamCompleted:
			completed = ev.Completed
		}
	}

	if completed != nil {
		return completed, nil
	}
	return &divamodel.LLMResponse{
		Content:          textBuf,
		ReasoningContent: reasoningBuf,
		FinishReason:     "stop",
	}, nil
}

// marshalArgs re-encodes a tool call's parsed arguments back to raw
// JSON for the registry's schema-validating Execute.
func marshalArgs(args map[string]any) json.RawMessage {
	raw, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

func toToolSpecs(defs []tools.Definition) []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolSpec{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}
	return out
}
