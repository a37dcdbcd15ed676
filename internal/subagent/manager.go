// Package subagent lets the main agent delegate a task to a
// background, scaled-down agent run: same provider and workspace, a
// restricted tool set, tighter iteration and token budgets, and no way
// to call back into the main loop except by re-injecting a synthetic
// message onto the bus when it finishes.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agent-diva/diva/internal/bus"
	"github.com/agent-diva/diva/internal/llm"
	"github.com/agent-diva/diva/internal/tools"
	"github.com/agent-diva/diva/pkg/divamodel"
)

const (
	maxIterations = 15
	maxTokens     = 2000
	labelMaxChars = 30
)

// restrictedToolNames is the fixed tool surface a sub-agent run is
// allowed: no spawn (no nested sub-agents) and no messaging tool (no
// side channel back to a user — results only flow through announce).
var restrictedToolNames = []string{"read_file", "write_file", "list_dir", "exec", "web_search", "web_fetch"}

// Manager tracks in-flight sub-agent runs under a mutex, keyed by the
// 8-character id handed back to the caller.
type Manager struct {
	bus       *bus.Bus
	provider  llm.Provider
	workspace string
	model     string
	tools     []tools.Tool

	mu      sync.Mutex
	running map[string]context.CancelFunc

	log *slog.Logger
}

// NewManager builds a manager whose sub-agent runs see only
// registry's restricted subset.
func NewManager(b *bus.Bus, provider llm.Provider, workspace, model string, registry *tools.Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		bus:       b,
		provider:  provider,
		workspace: workspace,
		model:     model,
		tools:     registry.Subset(restrictedToolNames),
		running:   make(map[string]context.CancelFunc),
		log:       log.With("component", "subagent"),
	}
}

// Spawn starts a background run and returns immediately with an
// acknowledgment string for the model to relay to the user. It
// satisfies agent.SubagentSpawner.
func (m *Manager) Spawn(ctx context.Context, task, label, originChannel, originChatID string) (string, error) {
	id := uuid.NewString()[:8]
	displayLabel := label
	if displayLabel == "" {
		displayLabel = truncateRunes(task, labelMaxChars)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running[id] = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
			cancel()
		}()
		m.runSubagent(runCtx, id, task, displayLabel, originChannel, originChatID)
	}()

	m.log.Info("spawned subagent", "id", id, "label", displayLabel)
	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it completes.", displayLabel, id), nil
}

// RunningCount reports how many sub-agent runs are currently in flight.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) runSubagent(ctx context.Context, id, task, label, originChannel, originChatID string) {
	m.log.Info("subagent starting", "id", id, "label", label)

	result, err := m.executeTask(ctx, task)
	status := "ok"
	if err != nil {
		result = fmt.Sprintf("Error: %v", err)
		status = "error"
		m.log.Warn("subagent failed", "id", id, "error", err)
	} else {
		m.log.Info("subagent completed", "id", id)
	}

	m.announceResult(ctx, label, task, result, originChannel, originChatID, status)
}

// executeTask runs a self-contained agent loop over a restricted tool
// set: build the subagent's system+user prompt, call the provider
// non-streaming (no live events to relay here), execute any requested
// tools, and repeat until a non-tool-calling response or the iteration
// cap.
func (m *Manager) executeTask(ctx context.Context, task string) (string, error) {
	registry := tools.NewRegistry()
	for _, t := range m.tools {
		registry.Register(t)
	}

	messages := []divamodel.Message{
		{Role: divamodel.RoleSystem, Content: buildSubagentPrompt(task, m.workspace)},
		{Role: divamodel.RoleUser, Content: task},
	}

	toolSpecs := make([]llm.ToolSpec, 0, len(registry.Definitions()))
	for _, d := range registry.Definitions() {
		toolSpecs = append(toolSpecs, llm.ToolSpec{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, err := m.provider.Chat(ctx, llm.ChatRequest{
			Model:     m.model,
			Messages:  messages,
			Tools:     toolSpecs,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return "", err
		}

		if !resp.HasToolCalls() {
			return resp.Content, nil
		}

		messages = append(messages, divamodel.Message{
			Role:      divamodel.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result, execErr := registry.Execute(ctx, call.Name, marshalArgs(call.Arguments))
			if execErr != nil {
				result = fmt.Sprintf("Error: %v", execErr)
			}
			messages = append(messages, divamodel.Message{
				Role:       divamodel.RoleTool,
				Content:    result,
				Name:       call.Name,
				ToolCallID: call.ID,
			})
		}
	}

	return "Task completed but no final response was generated.", nil
}

func (m *Manager) announceResult(ctx context.Context, label, task, result, originChannel, originChatID, status string) {
	statusText := "completed successfully"
	if status != "ok" {
		statusText = "failed"
	}

	content := fmt.Sprintf(
		"[Subagent '%s' %s]\n\nTask: %s\n\nResult:\n%s\n\nSummarize this naturally for the user. Keep it brief (1-2 sentences). Do not mention technical details like \"subagent\" or task IDs.",
		label, statusText, task, result,
	)

	msg := divamodel.InboundMessage{
		Channel:  "system",
		SenderID: "subagent",
		ChatID:   originChannel + ":" + originChatID,
		Content:  content,
	}
	if err := m.bus.PublishInbound(ctx, msg); err != nil {
		m.log.Error("failed to announce subagent result", "error", err)
	}
}

func buildSubagentPrompt(task, workspace string) string {
	return fmt.Sprintf(`# Subagent

You are a subagent spawned by the main agent to complete a specific task.

## Your Task
%s

## Rules
1. Stay focused - complete only the assigned task, nothing else
2. Your final response will be reported back to the main agent
3. Do not initiate conversations or take on side tasks
4. Be concise but informative in your findings

## What You Can Do
- Read and write files in the workspace
- Execute shell commands
- Search the web and fetch web pages
- Complete the task thoroughly

## What You Cannot Do
- Send messages directly to users (no message tool available)
- Spawn other subagents
- Access the main agent's conversation history

## Workspace
Your workspace is at: %s

When you have completed the task, provide a clear summary of your findings or actions.`, task, workspace)
}
