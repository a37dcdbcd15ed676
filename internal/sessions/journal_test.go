package sessions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agent-diva/diva/pkg/divamodel"
)

func TestJournalStore_GetOrCreateThenSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewJournalStore(dir)
	ctx := context.Background()
	key := "cli:u1"

	sess, err := store.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	sess.Metadata = map[string]any{"title": "demo"}
	sess.Append(divamodel.Message{Role: divamodel.RoleUser, Content: "hello"})
	sess.Append(divamodel.Message{Role: divamodel.RoleAssistant, Content: "hi there"})

	if err := store.Save(ctx, key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, divamodel.SessionFilename(key)+".jsonl")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected journal file at %s: %v", path, err)
	}

	// Fresh store to force a load from disk rather than the in-memory cache.
	reloaded := NewJournalStore(dir)
	loaded, err := reloaded.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate (reload): %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(loaded.Messages))
	}
	if loaded.Messages[0].Content != "hello" || loaded.Messages[1].Content != "hi there" {
		t.Errorf("loaded messages = %+v", loaded.Messages)
	}
	if loaded.Metadata["title"] != "demo" {
		t.Errorf("loaded metadata = %+v, want title=demo", loaded.Metadata)
	}
}

func TestJournalStore_GetOrCreateCachesHandle(t *testing.T) {
	store := NewJournalStore(t.TempDir())
	ctx := context.Background()

	a, err := store.GetOrCreate(ctx, "k")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := store.GetOrCreate(ctx, "k")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a != b {
		t.Fatal("expected the same cached *Session pointer across calls")
	}
}

func TestJournalStore_SaveUnloadedSessionErrors(t *testing.T) {
	store := NewJournalStore(t.TempDir())
	if err := store.Save(context.Background(), "never-loaded"); err == nil {
		t.Fatal("expected an error saving a session that was never loaded")
	}
}

func TestJournalStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store := NewJournalStore(dir)
	ctx := context.Background()
	key := "cli:u2"

	if _, err := store.GetOrCreate(ctx, key); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.Save(ctx, key); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	path := filepath.Join(dir, divamodel.SessionFilename(key)+".jsonl")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected journal file to be removed, stat err = %v", err)
	}

	sess, err := store.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate after delete: %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("expected a fresh empty session after delete, got %d messages", len(sess.Messages))
	}
}

func TestJournalStore_DeleteMissingKeyIsNotAnError(t *testing.T) {
	store := NewJournalStore(t.TempDir())
	if err := store.Delete(context.Background(), "nope"); err != nil {
		t.Fatalf("Delete of missing key should not error: %v", err)
	}
}
