package divamodel

import (
	"strings"
	"time"
)

// Session is the append-only conversation log for one (channel, chat_id)
// pair, keyed by "{channel}:{chat_id}".
type Session struct {
	Key       string         `json:"key"`
	Messages  []Message      `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionKey builds the "{channel}:{chat_id}" lookup key.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// SessionFilename derives a filesystem-safe name from a session key by
// replacing path separators and the key delimiter.
func SessionFilename(key string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return replacer.Replace(key)
}

// LastN returns the last n messages, or all of them if there are fewer
// than n.
func (s *Session) LastN(n int) []Message {
	if s == nil || n <= 0 || len(s.Messages) <= n {
		if s == nil {
			return nil
		}
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// Append adds a message to the session and bumps UpdatedAt. The session
// is append-only: callers must never mutate an existing entry.
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}
