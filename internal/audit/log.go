// Package audit keeps a best-effort event trail next to the run store.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultAuditPath = "state/audit.sqlite"

// Event types.
const (
	EventRunStarted     = "run_started"
	EventStageCompleted = "stage_completed"
	EventRunFinished    = "run_finished"
	EventRunFailed      = "run_failed"
	EventDeployed       = "deployed"
	EventPublishFailed  = "publish_failed"
	EventLogFailed      = "log_failed"
	EventMentionReplied = "mention_replied"
	EventGrowthAction   = "growth_action"
	EventJobFinished    = "job_finished"
)

// Event is one stored audit record.
type Event struct {
	ID      int64           `json:"id"`
	TS      time.Time       `json:"ts"`
	Actor   string          `json:"actor"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Logger writes audit events to a SQLite database. A nil Logger resolves the
// path from PAGEPILOT_AUDIT_DB.
type Logger struct {
	DBPath string
}

func NewLogger(dbPath string) *Logger {
	return &Logger{DBPath: dbPath}
}

// LogEvent appends one event.
func (l *Logger) LogEvent(ctx context.Context, actor, eventType string, payload any) error {
	db, err := l.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO events (ts, actor, type, payload_json) VALUES (?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano),
		actor,
		eventType,
		string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first, optionally filtered by actor.
func (l *Logger) Recent(ctx context.Context, actor string, limit int) ([]Event, error) {
	db, err := l.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, ts, actor, type, payload_json FROM events"
	args := []any{}
	if actor != "" {
		query += " WHERE actor = ?"
		args = append(args, actor)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev      Event
			ts      string
			payload string
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.Actor, &ev.Type, &payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.TS, _ = time.Parse(time.RFC3339Nano, ts)
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (l *Logger) open() (*sql.DB, error) {
	path := ""
	if l != nil {
		path = l.DBPath
	}
	resolved, err := resolveDBPath(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			actor TEXT NOT NULL,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

func resolveDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		dbPath = os.Getenv("PAGEPILOT_AUDIT_DB")
	}
	if dbPath == "" {
		dbPath = defaultAuditPath
	}
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve audit db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure audit db dir: %w", err)
	}
	return absPath, nil
}
