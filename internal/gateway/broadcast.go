package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agent-diva/diva/internal/bus"
	"github.com/agent-diva/diva/internal/config"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// BroadcastStrategy defines how messages are processed across multiple
// agents: all at once, or one at a time in order.
type BroadcastStrategy string

const (
	BroadcastParallel   BroadcastStrategy = "parallel"
	BroadcastSequential BroadcastStrategy = "sequential"
)

// AgentBus bundles one agent's private bus with its own inbound
// consumer running elsewhere (agent.Loop.Run). Broadcasting to multiple
// agents means publishing the same inbound content onto each of their
// buses and collecting each one's final response — this rewrite's
// single-consumer bus discipline (one agent.Loop per bus) means "N
// agents in a broadcast group" is modeled as N independent agent/bus
// pairs rather than N logical routes through one shared loop.
type AgentBus struct {
	AgentID string
	Bus     *bus.Bus
}

// BroadcastResult is one agent's outcome for a broadcast message.
type BroadcastResult struct {
	AgentID  string
	ChatID   string
	Response string
	Error    error
}

// BroadcastManager routes an inbound message to every agent configured
// for its peer, per config.BroadcastConfig.
type BroadcastManager struct {
	cfg    config.BroadcastConfig
	agents map[string]*AgentBus
	log    *slog.Logger
}

// NewBroadcastManager builds a BroadcastManager. agents maps an agent ID
// (as it appears in cfg.Groups) to the bus its own agent.Loop consumes.
func NewBroadcastManager(cfg config.BroadcastConfig, agents map[string]*AgentBus, log *slog.Logger) *BroadcastManager {
	if log == nil {
		log = slog.Default()
	}
	return &BroadcastManager{cfg: cfg, agents: agents, log: log.With("component", "broadcast")}
}

// IsBroadcastPeer reports whether peerID has a configured broadcast group.
func (m *BroadcastManager) IsBroadcastPeer(peerID string) bool {
	if m == nil || m.cfg.Groups == nil {
		return false
	}
	agents, ok := m.cfg.Groups[peerID]
	return ok && len(agents) > 0
}

// ProcessBroadcast publishes content to every agent configured for
// peerID, isolating each agent's session via a per-agent chat ID, and
// waits for each agent's final_response or error event.
func (m *BroadcastManager) ProcessBroadcast(ctx context.Context, peerID, channel, chatID, senderID, content string, timeout time.Duration) ([]BroadcastResult, error) {
	agentIDs, ok := m.cfg.Groups[peerID]
	if !ok || len(agentIDs) == 0 {
		return nil, fmt.Errorf("no agents configured for peer %q", peerID)
	}

	m.log.Debug("processing broadcast", "peer_id", peerID, "agents", agentIDs, "strategy", m.cfg.Strategy)

	if m.cfg.Strategy == string(BroadcastSequential) {
		return m.processSequential(ctx, agentIDs, channel, chatID, senderID, content, timeout), nil
	}
	return m.processParallel(ctx, agentIDs, channel, chatID, senderID, content, timeout), nil
}

func (m *BroadcastManager) processParallel(ctx context.Context, agentIDs []string, channel, chatID, senderID, content string, timeout time.Duration) []BroadcastResult {
	results := make([]BroadcastResult, len(agentIDs))
	var wg sync.WaitGroup
	wg.Add(len(agentIDs))
	for i, agentID := range agentIDs {
		go func(idx int, aid string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in broadcast processing", "agent_id", aid, "panic", r)
					results[idx] = BroadcastResult{AgentID: aid, Error: fmt.Errorf("panic during processing: %v", r)}
				}
			}()
			results[idx] = m.processForAgent(ctx, aid, channel, chatID, senderID, content, timeout)
		}(i, agentID)
	}
	wg.Wait()
	return results
}

func (m *BroadcastManager) processSequential(ctx context.Context, agentIDs []string, channel, chatID, senderID, content string, timeout time.Duration) []BroadcastResult {
	results := make([]BroadcastResult, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		select {
		case <-ctx.Done():
			return results
		default:
		}
		result := m.processForAgent(ctx, agentID, channel, chatID, senderID, content, timeout)
		results = append(results, result)
		if result.Error != nil {
			m.log.Warn("agent processing failed in sequential broadcast", "agent_id", agentID, "error", result.Error)
		}
	}
	return results
}

// broadcastChatID isolates one agent's session within a shared peer
// conversation, the same way the teacher's BroadcastSessionKey folds
// the agent ID into the session key.
func broadcastChatID(agentID, chatID string) string {
	return chatID + ":" + agentID
}

func (m *BroadcastManager) processForAgent(ctx context.Context, agentID, channel, chatID, senderID, content string, timeout time.Duration) BroadcastResult {
	ab, ok := m.agents[agentID]
	if !ok || ab.Bus == nil {
		return BroadcastResult{AgentID: agentID, Error: fmt.Errorf("no bus configured for agent %s", agentID)}
	}

	agentChatID := broadcastChatID(agentID, chatID)
	result := BroadcastResult{AgentID: agentID, ChatID: agentChatID}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, unsubscribe := ab.Bus.SubscribeEvents(0)
	defer unsubscribe()

	msg := divamodel.InboundMessage{
		Channel:   channel,
		SenderID:  senderID,
		ChatID:    agentChatID,
		Content:   content,
		Timestamp: time.Now(),
	}
	if err := ab.Bus.PublishInbound(runCtx, msg); err != nil {
		result.Error = fmt.Errorf("publishing broadcast message for agent %s: %w", agentID, err)
		return result
	}

	key := channel + ":" + agentChatID
	for {
		select {
		case <-runCtx.Done():
			result.Error = runCtx.Err()
			return result
		case envelope, ok := <-events:
			if !ok {
				result.Error = fmt.Errorf("agent %s bus closed before a response arrived", agentID)
				return result
			}
			if envelope.Key() != key {
				continue
			}
			switch envelope.Event.Type {
			case divamodel.EventFinalResponse:
				if envelope.Event.FinalResponse != nil {
					result.Response = envelope.Event.FinalResponse.Content
				}
				return result
			case divamodel.EventError:
				if envelope.Event.Error != nil {
					result.Error = fmt.Errorf("agent %s: %s", agentID, envelope.Event.Error.Message)
				}
				return result
			}
		}
	}
}
