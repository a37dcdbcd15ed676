package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/agent-diva/diva/pkg/divamodel"
)

// PostgresConfig holds connection settings for the Postgres-backed
// session store.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

var _ Store = (*PostgresStore)(nil)

// DefaultPostgresConfig returns sane connection pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "diva",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store against a single "sessions" table,
// storing each session's full message log as one JSON column — the
// same journal document the file-backed store writes, just persisted
// in a row instead of a file. This keeps session semantics identical
// across both backends (callers never branch on which Store they hold).
// Like JournalStore it caches loaded sessions in memory between
// GetOrCreate and Save; a deployment running more than one agent-diva
// process against the same database should route all sessions for a
// given key to one process (e.g. by consistent hashing at the gateway)
// rather than rely on this cache for cross-process coherence.
type PostgresStore struct {
	db *sql.DB

	stmtUpsert *sql.Stmt
	stmtGet    *sql.Stmt
	stmtDelete *sql.Stmt

	mu    sync.RWMutex
	cache map[string]*divamodel.Session
}

// NewPostgresStore opens a connection pool and prepares statements. The
// caller is responsible for having migrated the "sessions" table
// (key text primary key, created_at, updated_at, metadata jsonb,
// messages jsonb).
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, int(cfg.ConnectTimeout.Seconds()),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, cache: make(map[string]*divamodel.Session)}
	if err := store.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) prepare() error {
	var err error
	s.stmtUpsert, err = s.db.Prepare(`
		INSERT INTO sessions (key, created_at, updated_at, metadata, messages)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			metadata = EXCLUDED.metadata,
			messages = EXCLUDED.messages
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	s.stmtGet, err = s.db.Prepare(`
		SELECT created_at, updated_at, metadata, messages FROM sessions WHERE key = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get: %w", err)
	}
	s.stmtDelete, err = s.db.Prepare(`DELETE FROM sessions WHERE key = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetOrCreate returns the cached session for key, loading its row on
// first access, or starting a fresh empty session if no row exists yet.
func (s *PostgresStore) GetOrCreate(ctx context.Context, key string) (*divamodel.Session, error) {
	s.mu.RLock()
	if sess, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return sess, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		return sess, nil
	}

	var createdAt, updatedAt time.Time
	var metadataRaw, messagesRaw []byte

	row := s.stmtGet.QueryRowContext(ctx, key)
	err := row.Scan(&createdAt, &updatedAt, &metadataRaw, &messagesRaw)

	var sess *divamodel.Session
	switch {
	case err == sql.ErrNoRows:
		now := time.Now()
		sess = &divamodel.Session{Key: key, CreatedAt: now, UpdatedAt: now}
	case err != nil:
		return nil, fmt.Errorf("get session %s: %w", key, err)
	default:
		sess = &divamodel.Session{Key: key, CreatedAt: createdAt, UpdatedAt: updatedAt}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &sess.Metadata); err != nil {
				return nil, fmt.Errorf("decode session metadata: %w", err)
			}
		}
		if len(messagesRaw) > 0 {
			if err := json.Unmarshal(messagesRaw, &sess.Messages); err != nil {
				return nil, fmt.Errorf("decode session messages: %w", err)
			}
		}
	}
	s.cache[key] = sess
	return sess, nil
}

// Save upserts the cached session's current in-memory state as the row
// for key.
func (s *PostgresStore) Save(ctx context.Context, key string) error {
	s.mu.RLock()
	sess, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s is not loaded", key)
	}

	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal session messages: %w", err)
	}
	_, err = s.stmtUpsert.ExecContext(ctx, key, sess.CreatedAt, sess.UpdatedAt, metadata, messages)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", key, err)
	}
	return nil
}

// Delete removes both the cache entry and the row for key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
	_, err := s.stmtDelete.ExecContext(ctx, key)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}
