package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agent-diva/diva/pkg/divamodel"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 45 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsChatFrame is one message exchanged over /ws: a client sends
// {"chat_id", "content"} to start or continue a conversation, and the
// server streams back frames carrying an AgentEvent, keyed the same way
// handleChat keys its SSE frames.
type wsChatFrame struct {
	ChatID  string                `json:"chat_id,omitempty"`
	Content string                `json:"content,omitempty"`
	Event   *divamodel.AgentEvent `json:"event,omitempty"`
}

// handleWS is the websocket counterpart to handleChat: instead of one
// POST per turn over SSE, a client keeps one socket open and sends a
// chat frame per turn, receiving every AgentEvent for its chat_id back
// over the same connection until it disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.bus.SubscribeEvents(0)
	defer unsubscribe()

	keys := make(map[string]bool)
	var keysMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go s.wsWriteLoop(ctx, conn, events, keys, &keysMu)

	for {
		var frame wsChatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			cancel()
			return
		}
		if frame.Content == "" {
			continue
		}
		if frame.ChatID == "" {
			frame.ChatID = uuid.NewString()
		}

		keysMu.Lock()
		keys[chatChannel+":"+frame.ChatID] = true
		keysMu.Unlock()

		msg := divamodel.InboundMessage{
			Channel:   chatChannel,
			SenderID:  frame.ChatID,
			ChatID:    frame.ChatID,
			Content:   frame.Content,
			Timestamp: time.Now(),
		}
		if err := s.bus.PublishInbound(ctx, msg); err != nil {
			s.writeWSFrame(conn, wsChatFrame{ChatID: frame.ChatID, Event: &divamodel.AgentEvent{
				Type:  divamodel.EventError,
				Error: &divamodel.ErrorPayload{Message: err.Error()},
			}})
		}
	}
}

func (s *Server) wsWriteLoop(ctx context.Context, conn *websocket.Conn, events <-chan divamodel.AgentEventEnvelope, keys map[string]bool, keysMu *sync.Mutex) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case envelope, ok := <-events:
			if !ok {
				return
			}
			keysMu.Lock()
			tracked := keys[envelope.Key()]
			keysMu.Unlock()
			if !tracked {
				continue
			}
			ev := envelope.Event
			if err := s.writeWSFrame(conn, wsChatFrame{Event: &ev}); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWSFrame(conn *websocket.Conn, frame wsChatFrame) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
