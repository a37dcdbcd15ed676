package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/agent-diva/diva/internal/config"
)

// handleConfig serves the live config on GET and accepts a full
// replacement document on POST, writing it to disk and letting the
// config.Watcher pick up the change on its next fsnotify event.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		http.Error(w, "config watcher not configured", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.watcher.Current()); err != nil {
			s.log.Error("encoding config response", "error", err)
		}
	case http.MethodPost:
		var cfg config.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid config body", http.StatusBadRequest)
			return
		}
		if err := config.Save(s.watcher.Path(), &cfg); err != nil {
			http.Error(w, "saving config: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
