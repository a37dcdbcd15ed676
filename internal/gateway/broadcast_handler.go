package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

const defaultBroadcastTimeout = 60 * time.Second

type broadcastRequest struct {
	PeerID   string `json:"peer_id"`
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

type broadcastResultDTO struct {
	AgentID  string `json:"agent_id"`
	ChatID   string `json:"chat_id"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleBroadcast fans a message out to every agent configured for
// req.PeerID via BroadcastConfig.Groups, per BroadcastConfig.Strategy.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.broadcast == nil {
		http.Error(w, "broadcast is not configured", http.StatusServiceUnavailable)
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PeerID == "" || req.Content == "" {
		http.Error(w, "peer_id and content are required", http.StatusBadRequest)
		return
	}
	if !s.broadcast.IsBroadcastPeer(req.PeerID) {
		http.Error(w, "no broadcast group configured for peer_id: "+req.PeerID, http.StatusNotFound)
		return
	}

	results, err := s.broadcast.ProcessBroadcast(r.Context(), req.PeerID, "broadcast", req.ChatID, req.SenderID, req.Content, defaultBroadcastTimeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	dtos := make([]broadcastResultDTO, 0, len(results))
	for _, res := range results {
		dto := broadcastResultDTO{AgentID: res.AgentID, ChatID: res.ChatID, Response: res.Response}
		if res.Error != nil {
			dto.Error = res.Error.Error()
		}
		dtos = append(dtos, dto)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dtos); err != nil {
		s.log.Error("encoding broadcast response", "error", err)
	}
}
