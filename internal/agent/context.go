package agent

import (
	"fmt"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// ContextBuilder assembles the message list handed to the LLM provider:
// a system prompt, the session's recent history, and the current user
// turn. It holds no state beyond the workspace path baked into the
// system prompt.
type ContextBuilder struct {
	workspace string
}

// NewContextBuilder returns a builder whose system prompt names workspace
// as the agent's working directory.
func NewContextBuilder(workspace string) *ContextBuilder {
	return &ContextBuilder{workspace: workspace}
}

// SystemPrompt returns the default system prompt.
func (b *ContextBuilder) SystemPrompt() string {
	return fmt.Sprintf(`You are Diva, a helpful AI assistant with access to tools for reading and
writing files, running shell commands, searching and fetching the web,
and spawning background subagents for longer-running tasks.

Your workspace is at: %s

Be concise and direct. Use tools when they help you answer accurately;
don't narrate tool use that the user doesn't need to see.`, b.workspace)
}

// BuildMessages returns system prompt + history + the current user
// message, ready to send as a ChatRequest's Messages.
func (b *ContextBuilder) BuildMessages(history []divamodel.Message, userContent string) []divamodel.Message {
	out := make([]divamodel.Message, 0, len(history)+2)
	out = append(out, divamodel.Message{Role: divamodel.RoleSystem, Content: b.SystemPrompt()})
	out = append(out, history...)
	out = append(out, divamodel.Message{Role: divamodel.RoleUser, Content: userContent})
	return out
}
