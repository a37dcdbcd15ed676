package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agent-diva/diva/internal/tools"
)

// SubagentSpawner is implemented by the sub-agent manager. Spawn must
// return immediately (the task runs in the background) with a
// human-readable acknowledgment to hand back to the model.
type SubagentSpawner interface {
	Spawn(ctx context.Context, task, label, originChannel, originChatID string) (string, error)
}

var _ tools.Tool = (*spawnTool)(nil)

// spawnTool is the "spawn" tool the main loop exposes so the model can
// delegate a task to a background sub-agent. It carries a mutable
// origin (channel, chat_id) rather than taking one per Execute call,
// since the tools.Tool interface has no room for per-turn context —
// the loop calls setOrigin once before each message's tool-call phase.
type spawnTool struct {
	spawner SubagentSpawner

	mu      sync.RWMutex
	channel string
	chatID  string
}

// NewSpawnTool wraps spawner as a tools.Tool named "spawn".
func NewSpawnTool(spawner SubagentSpawner) *spawnTool {
	return &spawnTool{spawner: spawner, channel: "cli", chatID: "direct"}
}

func (t *spawnTool) setOrigin(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel, t.chatID = channel, chatID
}

func (t *spawnTool) Name() string { return "spawn" }

func (t *spawnTool) Description() string {
	return "Spawn a subagent to handle a task in the background. Use this for complex or " +
		"time-consuming tasks that can run independently. The subagent will complete the " +
		"task and report back when done."
}

func (t *spawnTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task":  map[string]any{"type": "string", "description": "The task for the subagent to complete"},
			"label": map[string]any{"type": "string", "description": "Optional short label for the task (for display)"},
		},
		"required": []any{"task"},
	}
}

func (t *spawnTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Task  string `json:"task"`
		Label string `json:"label"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return fmt.Sprintf("Error: invalid arguments: %v", err), nil
		}
	}
	if in.Task == "" {
		return "Error: 'task' parameter is required", nil
	}

	t.mu.RLock()
	channel, chatID := t.channel, t.chatID
	t.mu.RUnlock()

	result, err := t.spawner.Spawn(ctx, in.Task, in.Label, channel, chatID)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return result, nil
}
