package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// Store persists executions in SQLite. Logs serialize as a JSON column:
// an execution's log is only ever read and written whole, by its owning
// task, so row-per-entry storage would buy nothing.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens (and if needed creates) the execution database
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create execution db directory: %w", err)
	}

	// WAL for concurrent readers while a restore task writes;
	// busy_timeout so parallel restores queue on the single writer
	// instead of failing.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open execution database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		path TEXT,
		logs TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize execution schema: %w", err)
	}
	return nil
}

// Insert stores a freshly created execution
func (s *Store) Insert(ctx context.Context, e *Execution) error {
	logsJSON, err := json.Marshal(e.Logs)
	if err != nil {
		return fmt.Errorf("failed to encode execution logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, type, status, stage, progress, path, logs, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Type, string(e.Status), string(e.Metadata.Stage), e.Metadata.Progress,
		e.Path, string(logsJSON), e.CreatedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", e.ID, err)
	}
	return nil
}

// Update rewrites the mutable columns of an execution
func (s *Store) Update(ctx context.Context, e *Execution) error {
	logsJSON, err := json.Marshal(e.Logs)
	if err != nil {
		return fmt.Errorf("failed to encode execution logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?, stage = ?, progress = ?, logs = ?,
			finished_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		string(e.Status), string(e.Metadata.Stage), e.Metadata.Progress,
		string(logsJSON), e.FinishedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", e.ID, err)
	}
	return nil
}

// Get retrieves one execution; nil without error when it does not exist
func (s *Store) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, stage, progress, path, logs, created_at, finished_at
		FROM executions WHERE id = ?
	`, id)
	return scanExecution(row)
}

// List returns executions newest-first, up to limit (0 = all)
func (s *Store) List(ctx context.Context, limit int) ([]*Execution, error) {
	q := `
		SELECT id, type, status, stage, progress, path, logs, created_at, finished_at
		FROM executions ORDER BY created_at DESC
	`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Active reports whether an execution exists and has not reached a
// terminal status. Used by the scratch sweeper: unknown ids count as
// inactive so their leftovers get removed.
func (s *Store) Active(ctx context.Context, id string) (bool, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	return !e.Status.Terminal(), nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row scannable) (*Execution, error) {
	var e Execution
	var status, stage string
	var logsJSON sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&e.ID, &e.Type, &status, &stage, &e.Metadata.Progress,
		&e.Path, &logsJSON, &e.CreatedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	e.Status = Status(status)
	e.Metadata.Stage = Stage(stage)
	if finishedAt.Valid {
		e.FinishedAt = &finishedAt.Time
	}
	if logsJSON.Valid && logsJSON.String != "" {
		if err := json.Unmarshal([]byte(logsJSON.String), &e.Logs); err != nil {
			return nil, fmt.Errorf("failed to decode logs of execution %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close execution database failed: %w", err)
	}
	return nil
}
