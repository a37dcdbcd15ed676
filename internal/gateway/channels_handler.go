package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/agent-diva/diva/internal/channels"
	"github.com/agent-diva/diva/pkg/divamodel"
)

type channelInfo struct {
	Name    string                    `json:"name"`
	Status  *channels.Status          `json:"status,omitempty"`
	Health  *channels.HealthStatus    `json:"health,omitempty"`
	Metrics *channels.MetricsSnapshot `json:"metrics,omitempty"`
}

// handleChannels lists every registered adapter and, for those exposing
// channels.Health, its current status/health/metrics snapshot.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := s.channels.HealthAdapters()
	infos := make([]channelInfo, 0, len(s.channels.Names()))
	for _, name := range s.channels.Names() {
		info := channelInfo{Name: name}
		if h, ok := health[name]; ok {
			status := h.Status()
			info.Status = &status
			check := h.HealthCheck(r.Context())
			info.Health = &check
			metrics := h.Metrics()
			info.Metrics = &metrics
		}
		infos = append(infos, info)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		s.log.Error("encoding channels response", "error", err)
	}
}

// handleChannelTest sends a probe message through POST
// /channels/{name}/test, exercising the adapter's live Send path.
func (s *Server) handleChannelTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/channels/"), "/test")
	if name == "" || name == r.URL.Path {
		http.Error(w, "channel name is required", http.StatusBadRequest)
		return
	}

	outbound, ok := s.channels.GetOutbound(name)
	if !ok {
		http.Error(w, "channel has no outbound capability: "+name, http.StatusNotFound)
		return
	}

	var req struct {
		ChatID  string `json:"chat_id"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		req.Content = "this is a test message from agent-diva"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := outbound.Send(ctx, &divamodel.OutboundMessage{Channel: name, ChatID: req.ChatID, Content: req.Content}); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
