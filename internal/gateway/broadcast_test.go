package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agent-diva/diva/internal/bus"
	"github.com/agent-diva/diva/internal/config"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// echoAgent simulates an agent.Loop.Run consumer: it reads every inbound
// message published to its bus and answers with an echoed final_response
// on the same (channel, chat_id), optionally after a delay.
func echoAgent(ctx context.Context, b *bus.Bus, delay time.Duration) {
	rx, err := b.TakeInboundReceiver()
	if err != nil {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-rx:
				if !ok {
					return
				}
				if delay > 0 {
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						return
					}
				}
				b.PublishEvent(divamodel.AgentEventEnvelope{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Event:   divamodel.NewFinalResponse("echo: " + msg.Content),
				})
			}
		}
	}()
}

func newTestAgentBuses(t *testing.T, agentIDs ...string) map[string]*AgentBus {
	t.Helper()
	agents := make(map[string]*AgentBus, len(agentIDs))
	for _, id := range agentIDs {
		b := bus.New(bus.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
		t.Cleanup(b.Stop)
		agents[id] = &AgentBus{AgentID: id, Bus: b}
	}
	return agents
}

func TestBroadcastManagerIsBroadcastPeer(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.BroadcastConfig
		peerID   string
		expected bool
	}{
		{name: "peer in groups", cfg: config.BroadcastConfig{Groups: map[string][]string{"peer1": {"a1", "a2"}}}, peerID: "peer1", expected: true},
		{name: "peer not in groups", cfg: config.BroadcastConfig{Groups: map[string][]string{"peer1": {"a1"}}}, peerID: "peer2", expected: false},
		{name: "empty agent list", cfg: config.BroadcastConfig{Groups: map[string][]string{"peer1": {}}}, peerID: "peer1", expected: false},
		{name: "no groups at all", cfg: config.BroadcastConfig{}, peerID: "peer1", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewBroadcastManager(tt.cfg, nil, nil)
			if got := m.IsBroadcastPeer(tt.peerID); got != tt.expected {
				t.Errorf("IsBroadcastPeer(%q) = %v, want %v", tt.peerID, got, tt.expected)
			}
		})
	}
}

func TestBroadcastManagerNilIsBroadcastPeer(t *testing.T) {
	var m *BroadcastManager
	if m.IsBroadcastPeer("peer1") {
		t.Error("nil manager should report false for every peer")
	}
}

func TestBroadcastChatIDIsolatesAgents(t *testing.T) {
	a := broadcastChatID("agent1", "chat123")
	b := broadcastChatID("agent2", "chat123")
	if a == b {
		t.Error("broadcastChatID should differ across agents sharing a chat")
	}
	if !strings.Contains(a, "agent1") || !strings.Contains(b, "agent2") {
		t.Errorf("broadcastChatID should carry the agent id: %s %s", a, b)
	}
}

func TestBroadcastManagerProcessParallel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agents := newTestAgentBuses(t, "agent1", "agent2", "agent3")
	for _, ab := range agents {
		echoAgent(ctx, ab.Bus, 0)
	}

	cfg := config.BroadcastConfig{
		Strategy: string(BroadcastParallel),
		Groups:   map[string][]string{"peer1": {"agent1", "agent2", "agent3"}},
	}
	m := NewBroadcastManager(cfg, agents, slog.New(slog.NewTextHandler(io.Discard, nil)))

	results, err := m.ProcessBroadcast(context.Background(), "peer1", "telegram", "chat1", "user1", "hello broadcast", 2*time.Second)
	if err != nil {
		t.Fatalf("ProcessBroadcast() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	seen := make(map[string]bool)
	for _, r := range results {
		if r.Error != nil {
			t.Errorf("agent %s had error: %v", r.AgentID, r.Error)
		}
		if r.Response != "echo: hello broadcast" {
			t.Errorf("agent %s unexpected response: %q", r.AgentID, r.Response)
		}
		seen[r.AgentID] = true
	}
	for _, id := range []string{"agent1", "agent2", "agent3"} {
		if !seen[id] {
			t.Errorf("agent %s missing from results", id)
		}
	}
}

func TestBroadcastManagerProcessSequential(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agents := newTestAgentBuses(t, "agent1", "agent2", "agent3")

	var counter int32
	var order []int32
	var orderMu sync.Mutex
	for _, id := range []string{"agent1", "agent2", "agent3"} {
		ab := agents[id]
		go func(b *bus.Bus) {
			rx, err := b.TakeInboundReceiver()
			if err != nil {
				return
			}
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-rx:
					if !ok {
						return
					}
					n := atomic.AddInt32(&counter, 1)
					time.Sleep(5 * time.Millisecond)
					orderMu.Lock()
					order = append(order, n)
					orderMu.Unlock()
					b.PublishEvent(divamodel.AgentEventEnvelope{
						Channel: msg.Channel,
						ChatID:  msg.ChatID,
						Event:   divamodel.NewFinalResponse(fmt.Sprintf("order: %d", n)),
					})
				}
			}
		}(ab.Bus)
	}

	cfg := config.BroadcastConfig{
		Strategy: string(BroadcastSequential),
		Groups:   map[string][]string{"peer1": {"agent1", "agent2", "agent3"}},
	}
	m := NewBroadcastManager(cfg, agents, slog.New(slog.NewTextHandler(io.Discard, nil)))

	results, err := m.ProcessBroadcast(context.Background(), "peer1", "telegram", "chat1", "user1", "hello sequential", 2*time.Second)
	if err != nil {
		t.Fatalf("ProcessBroadcast() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	orderMu.Lock()
	defer orderMu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 completions tracked, got %d", len(order))
	}
	for i, v := range order {
		if want := int32(i + 1); v != want {
			t.Errorf("completion order[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestBroadcastManagerSessionIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agents := newTestAgentBuses(t, "agent1", "agent2")
	for _, ab := range agents {
		echoAgent(ctx, ab.Bus, 0)
	}

	cfg := config.BroadcastConfig{
		Strategy: string(BroadcastParallel),
		Groups:   map[string][]string{"peer1": {"agent1", "agent2"}},
	}
	m := NewBroadcastManager(cfg, agents, slog.New(slog.NewTextHandler(io.Discard, nil)))

	results, err := m.ProcessBroadcast(context.Background(), "peer1", "telegram", "chat456", "user1", "test isolation", 2*time.Second)
	if err != nil {
		t.Fatalf("ProcessBroadcast() error = %v", err)
	}

	chatIDs := make(map[string]bool)
	for _, r := range results {
		if chatIDs[r.ChatID] {
			t.Errorf("duplicate chat id across agents: %s", r.ChatID)
		}
		chatIDs[r.ChatID] = true
	}
	if len(chatIDs) != 2 {
		t.Errorf("expected 2 unique chat ids, got %d", len(chatIDs))
	}
}

func TestBroadcastManagerUnknownPeerErrors(t *testing.T) {
	cfg := config.BroadcastConfig{Groups: map[string][]string{"peer1": {"agent1"}}}
	m := NewBroadcastManager(cfg, newTestAgentBuses(t, "agent1"), nil)

	if m.IsBroadcastPeer("peer2") {
		t.Error("peer2 should not be a broadcast peer")
	}
	if _, err := m.ProcessBroadcast(context.Background(), "peer2", "telegram", "chat1", "user1", "hi", time.Second); err == nil {
		t.Error("expected error for peer with no configured broadcast group")
	}
}

func TestBroadcastManagerContextTimeout(t *testing.T) {
	// Agent never answers, so processForAgent must time out rather than hang.
	agents := newTestAgentBuses(t, "agent1")
	cfg := config.BroadcastConfig{
		Strategy: string(BroadcastParallel),
		Groups:   map[string][]string{"peer1": {"agent1"}},
	}
	m := NewBroadcastManager(cfg, agents, slog.New(slog.NewTextHandler(io.Discard, nil)))

	results, err := m.ProcessBroadcast(context.Background(), "peer1", "telegram", "chat1", "user1", "hello", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ProcessBroadcast() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error == nil {
		t.Error("expected a timeout error when the agent never responds")
	}
}

func TestBroadcastManagerMissingAgentBus(t *testing.T) {
	cfg := config.BroadcastConfig{Groups: map[string][]string{"peer1": {"agent1", "ghost"}}}
	m := NewBroadcastManager(cfg, newTestAgentBuses(t, "agent1"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	echoAgent(ctx, m.agents["agent1"].Bus, 0)

	results, err := m.ProcessBroadcast(context.Background(), "peer1", "telegram", "chat1", "user1", "hello", time.Second)
	if err != nil {
		t.Fatalf("ProcessBroadcast() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.AgentID == "ghost" && r.Error == nil {
			t.Error("expected an error result for an agent with no configured bus")
		}
	}
}
