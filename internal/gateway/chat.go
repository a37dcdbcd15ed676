package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// chatChannel is the InboundMessage.Channel used for HTTP-originated
// chat requests, so the agent loop and every other subsystem see it as
// just another channel rather than a special case.
const chatChannel = "http"

type chatRequest struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// sseEventName maps an AgentEventType to the wire event name a client
// listens for.
func sseEventName(t divamodel.AgentEventType) string {
	switch t {
	case divamodel.EventAssistantDelta:
		return "delta"
	case divamodel.EventReasoningDelta:
		return "reasoning_delta"
	case divamodel.EventToolCallDelta:
		return "tool_delta"
	case divamodel.EventToolCallStarted:
		return "tool_start"
	case divamodel.EventToolCallFinished:
		return "tool_finish"
	case divamodel.EventFinalResponse:
		return "final"
	case divamodel.EventError:
		return "error"
	default:
		return string(t)
	}
}

// handleChat accepts a chat message and streams the agent's response as
// Server-Sent Events: delta|reasoning_delta|tool_delta|tool_start|
// tool_finish|final|error, one JSON-encoded AgentEvent per frame.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" {
		req.ChatID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.bus.SubscribeEvents(0)
	defer unsubscribe()

	msg := divamodel.InboundMessage{
		Channel:   chatChannel,
		SenderID:  req.ChatID,
		ChatID:    req.ChatID,
		Content:   req.Content,
		Timestamp: time.Now(),
	}
	if err := s.bus.PublishInbound(ctx, msg); err != nil {
		writeSSE(w, flusher, "error", divamodel.AgentEvent{
			Type:  divamodel.EventError,
			Error: &divamodel.ErrorPayload{Message: err.Error()},
		})
		return
	}

	key := chatChannel + ":" + req.ChatID
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-events:
			if !ok {
				return
			}
			if envelope.Key() != key {
				continue
			}
			writeSSE(w, flusher, sseEventName(envelope.Event.Type), envelope.Event)
			if envelope.Event.Type == divamodel.EventFinalResponse || envelope.Event.Type == divamodel.EventError {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	bw := bufio.NewWriter(w)
	bw.WriteString("event: " + event + "\n")
	bw.WriteString("data: ")
	bw.Write(data)
	bw.WriteString("\n\n")
	bw.Flush()
	flusher.Flush()
}
