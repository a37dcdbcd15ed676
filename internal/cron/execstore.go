package cron

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Execution is one record of a job firing: the callback's response (if
// any), whether it succeeded, and when.
type Execution struct {
	ID        int64
	JobID     string
	StartedAt time.Time
	Status    string // "ok" or "error"
	Response  string
	Error     string
}

// ExecutionStore persists cron job run history. Job *definitions* live
// in jobStore's plain JSON file; execution history benefits from
// queryable structured storage since it grows unboundedly and is
// typically inspected by job id or pruned by age.
type ExecutionStore interface {
	Record(ctx context.Context, exec Execution) error
	List(ctx context.Context, jobID string, limit int) ([]Execution, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// SQLiteExecutionStore is the default ExecutionStore, backed by the
// pure-Go modernc.org/sqlite driver so the binary stays CGO-free.
type SQLiteExecutionStore struct {
	db *sql.DB
}

var _ ExecutionStore = (*SQLiteExecutionStore)(nil)

// NewSQLiteExecutionStore opens (creating if needed) a sqlite database
// at path and ensures its schema exists.
func NewSQLiteExecutionStore(path string) (*SQLiteExecutionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cron execution db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cron_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			status TEXT NOT NULL,
			response TEXT,
			error TEXT
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cron_executions table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_cron_executions_job ON cron_executions(job_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cron_executions index: %w", err)
	}
	return &SQLiteExecutionStore{db: db}, nil
}

func (s *SQLiteExecutionStore) Record(ctx context.Context, exec Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_executions (job_id, started_at, status, response, error) VALUES (?, ?, ?, ?, ?)`,
		exec.JobID, exec.StartedAt, exec.Status, exec.Response, exec.Error,
	)
	if err != nil {
		return fmt.Errorf("record cron execution: %w", err)
	}
	return nil
}

func (s *SQLiteExecutionStore) List(ctx context.Context, jobID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, started_at, status, response, error FROM cron_executions
		 WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list cron executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var response, errStr sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &e.StartedAt, &e.Status, &response, &errStr); err != nil {
			return nil, fmt.Errorf("scan cron execution: %w", err)
		}
		e.Response = response.String
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteExecutionStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_executions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cron executions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteExecutionStore) Close() error {
	return s.db.Close()
}
