package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// metadataLine is the journal's first line: everything about a session
// except its messages. Every subsequent line is a divamodel.Message.
type metadataLine struct {
	Type      string         `json:"_type"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

const metadataType = "metadata"

var _ Store = (*JournalStore)(nil)

// JournalStore persists sessions as append-only line-delimited JSON
// files under dir, one file per session key, with an in-memory cache in
// front so repeated GetOrCreate calls within a run don't re-read disk.
type JournalStore struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*divamodel.Session
}

// NewJournalStore returns a store rooted at dir. dir is created lazily
// on first Save.
func NewJournalStore(dir string) *JournalStore {
	return &JournalStore{dir: dir, cache: make(map[string]*divamodel.Session)}
}

func (s *JournalStore) path(key string) string {
	return filepath.Join(s.dir, divamodel.SessionFilename(key)+".jsonl")
}

// GetOrCreate returns the cached session for key, lazily loading it from
// disk on first access, or creating a fresh empty session if no journal
// file exists yet.
func (s *JournalStore) GetOrCreate(ctx context.Context, key string) (*divamodel.Session, error) {
	s.mu.RLock()
	if sess, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return sess, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have populated the cache while we waited for
	// the write lock.
	if sess, ok := s.cache[key]; ok {
		return sess, nil
	}

	sess, err := loadJournal(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load session %s: %w", key, err)
		}
		now := time.Now()
		sess = &divamodel.Session{Key: key, CreatedAt: now, UpdatedAt: now}
	} else {
		sess.Key = key
	}
	s.cache[key] = sess
	return sess, nil
}

// Save writes the full journal for key atomically: a temp file is
// written alongside the target and renamed over it, so a crash
// mid-write never leaves a truncated journal in place.
func (s *JournalStore) Save(ctx context.Context, key string) error {
	s.mu.RLock()
	sess, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s is not loaded", key)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	path := s.path(key)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	w := bufio.NewWriter(f)

	meta := metadataLine{
		Type:      metadataType,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Metadata:  sess.Metadata,
	}
	if err := writeLine(w, meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write metadata line: %w", err)
	}
	for _, msg := range sess.Messages {
		if err := writeLine(w, msg); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write message line: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close journal: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename journal into place: %w", err)
	}
	return nil
}

// Delete removes both the cache entry and the journal file for key.
func (s *JournalStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete journal: %w", err)
	}
	return nil
}

func writeLine(w *bufio.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// loadJournal reads a journal file line by line: the first line tagged
// "_type":"metadata" populates the session header, everything else
// deserializes as a message and is appended in file order.
func loadJournal(path string) (*divamodel.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sess := &divamodel.Session{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tag struct {
			Type string `json:"_type"`
		}
		if err := json.Unmarshal(line, &tag); err != nil {
			return nil, fmt.Errorf("decode journal line: %w", err)
		}
		if tag.Type == metadataType {
			var meta metadataLine
			if err := json.Unmarshal(line, &meta); err != nil {
				return nil, fmt.Errorf("decode metadata line: %w", err)
			}
			sess.CreatedAt = meta.CreatedAt
			sess.UpdatedAt = meta.UpdatedAt
			sess.Metadata = meta.Metadata
			continue
		}
		var msg divamodel.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("decode message line: %w", err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return sess, nil
}
