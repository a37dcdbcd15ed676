// Package channels defines the capability-interface contract every
// chat platform adapter implements, plus a registry that aggregates
// them behind the bus. An adapter only needs to satisfy Adapter; the
// optional Lifecycle/Outbound/Inbound/Health interfaces are detected
// at registration time so a stub (config-only, not yet wired to a
// live SDK) can sit in the registry without a fake Start/Send.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// Adapter is the minimal contract for a channel connector.
type Adapter interface {
	// Name returns the channel name used as InboundMessage.Channel /
	// OutboundMessage.Channel ("cli", "telegram", "discord", ...).
	Name() string
}

// Lifecycle is implemented by adapters that hold a live connection.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Outbound is implemented by adapters that can deliver a reply.
type Outbound interface {
	Send(ctx context.Context, msg *divamodel.OutboundMessage) error
}

// Inbound is implemented by adapters that emit messages for the bus
// to pick up and feed into the agent loop.
type Inbound interface {
	Messages() <-chan *divamodel.InboundMessage
}

// Health is implemented by adapters that expose connection status.
type Health interface {
	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
	Metrics() MetricsSnapshot
}

// Status is the adapter's current connection state.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"`
}

// HealthStatus is the result of an on-demand health probe.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// Registry aggregates adapters by name and dispatches across whichever
// optional capabilities each one implements.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	inbound   map[string]Inbound
	outbound  map[string]Outbound
	lifecycle map[string]Lifecycle
	health    map[string]Health
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[string]Adapter),
		inbound:   make(map[string]Inbound),
		outbound:  make(map[string]Outbound),
		lifecycle: make(map[string]Lifecycle),
		health:    make(map[string]Health),
	}
}

// Register adds an adapter, indexing it under every capability
// interface it satisfies.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	r.adapters[name] = adapter

	if inbound, ok := adapter.(Inbound); ok {
		r.inbound[name] = inbound
	} else {
		delete(r.inbound, name)
	}
	if outbound, ok := adapter.(Outbound); ok {
		r.outbound[name] = outbound
	} else {
		delete(r.outbound, name)
	}
	if lifecycle, ok := adapter.(Lifecycle); ok {
		r.lifecycle[name] = lifecycle
	} else {
		delete(r.lifecycle, name)
	}
	if health, ok := adapter.(Health); ok {
		r.health[name] = health
	} else {
		delete(r.health, name)
	}
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// GetOutbound returns the outbound capability for a channel, if any.
func (r *Registry) GetOutbound(name string) (Outbound, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outbound[name]
	return o, ok
}

// HealthAdapters returns a snapshot of all registered health capabilities.
func (r *Registry) HealthAdapters() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Health, len(r.health))
	for name, h := range r.health {
		out[name] = h
	}
	return out
}

// Names lists every registered adapter's name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// StartAll starts every adapter with a Lifecycle, stopping at the
// first error.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycles := make([]Lifecycle, 0, len(r.lifecycle))
	for _, l := range r.lifecycle {
		lifecycles = append(lifecycles, l)
	}
	r.mu.RUnlock()

	for _, l := range lifecycles {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every adapter with a Lifecycle, continuing past
// individual failures and returning the last one seen.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycles := make([]Lifecycle, 0, len(r.lifecycle))
	for _, l := range r.lifecycle {
		lifecycles = append(lifecycles, l)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, l := range lifecycles {
		if err := l.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateMessages fans in every adapter's inbound channel into one.
// The returned channel closes once ctx is canceled or every adapter's
// channel closes.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan *divamodel.InboundMessage {
	r.mu.RLock()
	inbounds := make([]Inbound, 0, len(r.inbound))
	for _, in := range r.inbound {
		inbounds = append(inbounds, in)
	}
	r.mu.RUnlock()

	out := make(chan *divamodel.InboundMessage)
	var wg sync.WaitGroup

	for _, adapter := range inbounds {
		wg.Add(1)
		go func(a Inbound) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-a.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(adapter)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
