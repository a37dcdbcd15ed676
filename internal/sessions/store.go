// Package sessions persists the per-conversation message log the agent
// loop reads for context and appends to after every turn.
package sessions

import (
	"context"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// Store is the contract the agent loop uses to load and persist
// conversation history. GetOrCreate hands back a mutable, cached handle;
// callers mutate it in place (via Session.Append) and call Save to make
// those mutations durable.
type Store interface {
	GetOrCreate(ctx context.Context, key string) (*divamodel.Session, error)
	Save(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
}
