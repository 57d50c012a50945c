package daemon

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// ErrJobNotFound is returned for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// Store is the daemon's SQLite job queue.
type Store struct {
	DBPath string
	db     *sql.DB
}

// Job is one queued, running or finished unit of scheduled work.
type Job struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Attempts       int        `json:"attempts"`
	PayloadJSON    string     `json:"payload,omitempty"`
	ResultJSON     string     `json:"result,omitempty"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// Open opens or creates the daemon database at path.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve daemon db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure daemon db dir: %w", err)
	}
	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open daemon db: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{DBPath: absPath, db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS daemon_jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	payload_json TEXT,
	result_json TEXT,
	lease_owner TEXT,
	lease_expires_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON daemon_jobs(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_jobs_type_scheduled ON daemon_jobs(type, scheduled_at);

CREATE TABLE IF NOT EXISTS daemon_kv (
	key TEXT PRIMARY KEY,
	value TEXT
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create daemon schema: %w", err)
	}
	return nil
}

// EnqueueUnique enqueues a job unless one of the same type is already
// scheduled at the same second. created reports whether a row was inserted.
func (s *Store) EnqueueUnique(ctx context.Context, jobType string, scheduledAt time.Time, payload any) (id string, created bool, err error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}
	at := scheduledAt.UTC().Format(time.RFC3339)
	id = fmt.Sprintf("%s_%s", jobType, scheduledAt.UTC().Format("2006-01-02T15:04:05"))

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_jobs (id, type, status, scheduled_at, payload_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, id, jobType, JobQueued, at, string(payloadJSON))
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	return id, n > 0, nil
}

// Enqueue adds a one-off job that runs as soon as a worker is free.
func (s *Store) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := jobType + "_manual_" + uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daemon_jobs (id, type, status, scheduled_at, payload_json)
		VALUES (?, ?, ?, ?, ?)
	`, id, jobType, JobQueued, time.Now().UTC().Format(time.RFC3339), string(payloadJSON))
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// ClaimNext leases the oldest due job. Running jobs whose lease expired are
// claimed again so a crashed worker does not strand them. It returns nil when
// nothing is due.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, leaseOwner string, leaseFor time.Duration) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	nowStr := now.UTC().Format(time.RFC3339)
	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM daemon_jobs
		WHERE (status = 'queued' AND scheduled_at <= ?)
		   OR (status = 'running' AND lease_expires_at < ?)
		ORDER BY scheduled_at ASC
		LIMIT 1
	`, nowStr, nowStr).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE daemon_jobs
		SET status = 'running', started_at = ?, lease_owner = ?, lease_expires_at = ?, attempts = attempts + 1
		WHERE id = ?
	`, nowStr, leaseOwner, now.Add(leaseFor).UTC().Format(time.RFC3339), jobID); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// ExtendLease pushes the lease of a running job forward.
func (s *Store) ExtendLease(ctx context.Context, jobID, leaseOwner string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE daemon_jobs SET lease_expires_at = ?
		WHERE id = ? AND status = 'running' AND lease_owner = ?
	`, until.UTC().Format(time.RFC3339), jobID, leaseOwner)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return nil
}

const jobColumns = `id, type, status, scheduled_at, started_at, finished_at, attempts,
	payload_json, result_json, lease_owner, lease_expires_at`

func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM daemon_jobs WHERE id = ?", jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Succeed records a job's result.
func (s *Store) Succeed(ctx context.Context, jobID string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.finish(ctx, jobID, JobSucceeded, string(resultJSON))
}

// Fail records a job's error.
func (s *Store) Fail(ctx context.Context, jobID string, jobErr error) error {
	resultJSON, err := json.Marshal(map[string]string{"error": jobErr.Error()})
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return s.finish(ctx, jobID, JobFailed, string(resultJSON))
}

func (s *Store) finish(ctx context.Context, jobID, status, resultJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE daemon_jobs
		SET status = ?, finished_at = ?, result_json = ?, lease_owner = NULL, lease_expires_at = NULL
		WHERE id = ?
	`, status, time.Now().UTC().Format(time.RFC3339), resultJSON, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM daemon_jobs ORDER BY scheduled_at DESC LIMIT ?", limit)
}

// ListByStatus returns up to limit jobs in status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM daemon_jobs WHERE status = ? ORDER BY scheduled_at ASC LIMIT ?", status, limit)
}

// ListRecentCompleted returns finished jobs, most recently finished first.
func (s *Store) ListRecentCompleted(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+` FROM daemon_jobs
		WHERE status IN ('succeeded', 'failed')
		ORDER BY finished_at DESC LIMIT ?`, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scheduledAt string
	var startedAt, finishedAt, leaseExpiresAt, payloadJSON, resultJSON, leaseOwner sql.NullString
	if err := row.Scan(
		&job.ID, &job.Type, &job.Status, &scheduledAt, &startedAt, &finishedAt, &job.Attempts,
		&payloadJSON, &resultJSON, &leaseOwner, &leaseExpiresAt,
	); err != nil {
		return nil, err
	}
	job.ScheduledAt, _ = time.Parse(time.RFC3339Nano, scheduledAt)
	job.StartedAt = parseNullTime(startedAt)
	job.FinishedAt = parseNullTime(finishedAt)
	job.LeaseExpiresAt = parseNullTime(leaseExpiresAt)
	job.PayloadJSON = payloadJSON.String
	job.ResultJSON = resultJSON.String
	job.LeaseOwner = leaseOwner.String
	return &job, nil
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// GetKV returns the value under key, or "" when unset.
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM daemon_kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

func (s *Store) SetKV(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}
