// Package tools implements the in-process tool registry the agent loop
// consults for function-calling: built-in filesystem/shell/web tools plus
// whatever internal/mcp discovers from configured MCP servers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agent-diva/diva/internal/observability"
)

// Tool is anything the agent loop can invoke by name with JSON arguments.
// Execute never returns a Go error for a tool-level failure — per the
// loop's classification convention, a failure is communicated by the
// returned string starting with "Error".
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Definition is the wire-shape handed to an LLM provider for function
// calling.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Registry stores tools by name and answers the agent loop's two
// questions: what tools exist (for the LLM request) and how to run one
// (by name, with raw JSON arguments).
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	metrics *observability.Metrics
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// SetMetrics attaches a metrics sink recorded into on every Execute call.
// A nil Registry.metrics (the default) makes Execute a no-op for metrics.
func (r *Registry) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns every registered tool's wire definition, for
// injection into an LLM request.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return defs
}

// Subset returns the registered tools whose names are in allowed, in the
// order allowed lists them. Unknown names are skipped silently — used by
// the sub-agent manager to hand a restricted tool surface to a child run.
func (r *Registry) Subset(allowed []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(allowed))
	for _, name := range allowed {
		if t, ok := r.tools[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Execute runs a tool by name, returning its text result. A missing
// tool, an args payload that fails the tool's own JSON schema, or a
// json.RawMessage the tool can't parse all come back as an "Error: ..."
// string rather than a Go error, so the agent loop's classify-by-prefix
// convention always has a string to inspect.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.metrics.RecordToolExecution(name, "not_found", 0)
		return fmt.Sprintf("Error: tool not found: %s", name), nil
	}
	if err := validateArgs(t.Schema(), args); err != nil {
		r.metrics.RecordToolExecution(name, "invalid_args", 0)
		return fmt.Sprintf("Error: invalid arguments for %s: %v", name, err), nil
	}

	start := time.Now()
	result, err := t.Execute(ctx, args)
	status := "success"
	if err != nil || IsError(result) {
		status = "error"
	}
	r.metrics.RecordToolExecution(name, status, time.Since(start))
	return result, err
}

var schemaCache sync.Map

// validateArgs compiles schema (caching by its JSON form) and validates
// args against it. A nil or empty schema is treated as permissive.
func validateArgs(schema map[string]any, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}

	var compiled *jsonschema.Schema
	if cached, ok := schemaCache.Load(string(raw)); ok {
		compiled = cached.(*jsonschema.Schema)
	} else {
		compiled, err = jsonschema.CompileString("tool.schema.json", string(raw))
		if err != nil {
			return nil
		}
		schemaCache.Store(string(raw), compiled)
	}

	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return compiled.Validate(decoded)
}

// IsError reports whether a tool's text result represents a failure, per
// the registry's "Error"-prefix convention.
func IsError(result string) bool {
	return len(result) >= len("Error") && result[:len("Error")] == "Error"
}
