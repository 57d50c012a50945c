// Package runstore persists pipeline runs, their stage outputs, the key/value
// config store and the append-only publishing logs in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrRunClosed is returned when a run that is no longer running is mutated.
	ErrRunClosed = errors.New("run already closed")
	// ErrStageRecorded is returned when a stage output is recorded twice.
	ErrStageRecorded = errors.New("stage already recorded")
	// ErrRunNotFound is returned when a run id or number does not exist.
	ErrRunNotFound = errors.New("run not found")
)

// Store manages pipeline state in SQLite.
type Store struct {
	DBPath string
	db     *sql.DB
	// mu serializes run-number allocation.
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates the state database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One connection keeps SQLite writers from contending with each other.
	db.SetMaxOpenConns(1)

	store := &Store{
		DBPath: absPath,
		db:     db,
		now:    time.Now,
	}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	run_number INTEGER NOT NULL UNIQUE,
	status TEXT NOT NULL,
	decision TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	metrics_before TEXT,
	metrics_after TEXT,
	state_before TEXT,
	state_after TEXT,
	capture_before TEXT,
	capture_after TEXT,
	aligned_json TEXT,
	changes_json TEXT,
	spend REAL NOT NULL DEFAULT 0,
	error TEXT
);

CREATE TABLE IF NOT EXISTS stage_outputs (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	stage TEXT NOT NULL,
	output_json TEXT NOT NULL,
	defaulted INTEGER NOT NULL DEFAULT 0,
	reason TEXT,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_stage_outputs_run_seq ON stage_outputs(run_id, seq);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS emails (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS social_posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	platform TEXT NOT NULL,
	content TEXT NOT NULL,
	in_reply_to TEXT,
	external_id TEXT,
	url TEXT,
	status TEXT NOT NULL,
	error TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_social_posts_reply ON social_posts(platform, in_reply_to);

CREATE TABLE IF NOT EXISTS growth_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	platform TEXT NOT NULL,
	kind TEXT NOT NULL,
	target TEXT,
	content TEXT,
	status TEXT NOT NULL,
	external_id TEXT,
	error TEXT,
	created_at TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
