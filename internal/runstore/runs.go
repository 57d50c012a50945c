package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagepilot/internal/model"
)

// StageOutput is a stage result to append to a run.
type StageOutput struct {
	Stage     string
	Output    any
	Defaulted bool
	Reason    string
}

// Snapshots carries before/after snapshot fields. Nil fields are left as stored.
type Snapshots struct {
	MetricsBefore map[string]float64
	MetricsAfter  map[string]float64
	StateBefore   json.RawMessage
	StateAfter    json.RawMessage
	CaptureBefore map[string]string
	CaptureAfter  map[string]string
}

// Final is written when a run is closed or failed.
type Final struct {
	Decision model.Decision
	Aligned  *model.AlignedProposal
	Changes  []model.ChangeOp
	Spend    float64
}

// CreateRun allocates the next run number and inserts a running record in a
// single transaction.
func (s *Store) CreateRun(ctx context.Context) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var number int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(run_number), 0) + 1 FROM runs").Scan(&number); err != nil {
		return nil, fmt.Errorf("allocate run number: %w", err)
	}

	started := s.now().UTC().Truncate(time.Second)
	run := &model.Run{
		ID:        uuid.NewString(),
		Number:    number,
		Status:    model.RunRunning,
		StartedAt: started,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, run_number, status, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Number, string(run.Status), started.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return run, nil
}

// AppendStageOutput records one stage output. Outputs are insert-only: a
// stage recorded twice fails with ErrStageRecorded, and closed runs reject
// new outputs with ErrRunClosed.
func (s *Store) AppendStageOutput(ctx context.Context, runID string, out StageOutput) (*model.StageRecord, error) {
	payload, err := json.Marshal(out.Output)
	if err != nil {
		return nil, fmt.Errorf("marshal stage %s: %w", out.Stage, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := requireRunning(ctx, tx, runID); err != nil {
		return nil, err
	}

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM stage_outputs WHERE run_id = ? AND stage = ?", runID, out.Stage).Scan(&exists)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", ErrStageRecorded, out.Stage)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check stage %s: %w", out.Stage, err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM stage_outputs WHERE run_id = ?", runID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("allocate stage seq: %w", err)
	}

	recorded := s.now().UTC().Truncate(time.Second)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stage_outputs (run_id, seq, stage, output_json, defaulted, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, seq, out.Stage, string(payload), boolInt(out.Defaulted), nullString(out.Reason), recorded.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert stage %s: %w", out.Stage, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &model.StageRecord{
		Seq:        seq,
		Stage:      out.Stage,
		Output:     payload,
		Defaulted:  out.Defaulted,
		Reason:     out.Reason,
		RecordedAt: recorded,
	}, nil
}

// UpdateSnapshots sets the non-nil snapshot fields of a running run.
func (s *Store) UpdateSnapshots(ctx context.Context, runID string, snap Snapshots) error {
	args := []any{}
	set := ""
	add := func(col string, v any, present bool) error {
		if !present {
			return nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", col, err)
		}
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, string(data))
		return nil
	}
	fields := []struct {
		col     string
		v       any
		present bool
	}{
		{"metrics_before", snap.MetricsBefore, snap.MetricsBefore != nil},
		{"metrics_after", snap.MetricsAfter, snap.MetricsAfter != nil},
		{"state_before", snap.StateBefore, snap.StateBefore != nil},
		{"state_after", snap.StateAfter, snap.StateAfter != nil},
		{"capture_before", snap.CaptureBefore, snap.CaptureBefore != nil},
		{"capture_after", snap.CaptureAfter, snap.CaptureAfter != nil},
	}
	for _, f := range fields {
		if err := add(f.col, f.v, f.present); err != nil {
			return err
		}
	}
	if set == "" {
		return nil
	}
	args = append(args, runID)
	res, err := s.db.ExecContext(ctx, "UPDATE runs SET "+set+" WHERE id = ? AND status = 'running'", args...)
	if err != nil {
		return fmt.Errorf("update snapshots: %w", err)
	}
	return s.checkAffected(ctx, res, runID)
}

// CloseRun marks a running run completed. It succeeds exactly once.
func (s *Store) CloseRun(ctx context.Context, runID string, final Final) error {
	return s.finish(ctx, runID, model.RunCompleted, final, "")
}

// FailRun marks a running run as error. It succeeds exactly once.
func (s *Store) FailRun(ctx context.Context, runID string, final Final, cause string) error {
	return s.finish(ctx, runID, model.RunError, final, cause)
}

func (s *Store) finish(ctx context.Context, runID string, status model.RunStatus, final Final, cause string) error {
	var aligned any
	if final.Aligned != nil {
		data, err := json.Marshal(final.Aligned)
		if err != nil {
			return fmt.Errorf("marshal aligned proposal: %w", err)
		}
		aligned = string(data)
	}
	changes, err := json.Marshal(final.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?,
		    decision = ?,
		    finished_at = ?,
		    aligned_json = COALESCE(?, aligned_json),
		    changes_json = ?,
		    spend = ?,
		    error = ?
		WHERE id = ? AND status = 'running'
	`, string(status), nullString(string(final.Decision)), s.timestamp(), aligned, string(changes), final.Spend, nullString(cause), runID)
	if err != nil {
		return fmt.Errorf("close run: %w", err)
	}
	return s.checkAffected(ctx, res, runID)
}

func (s *Store) checkAffected(ctx context.Context, res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return requireRunning(ctx, s.db, runID)
}

func requireRunning(ctx context.Context, q execer, runID string) error {
	var status string
	err := q.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("load run status: %w", err)
	}
	if status != string(model.RunRunning) {
		return fmt.Errorf("%w: %s is %s", ErrRunClosed, runID, status)
	}
	return nil
}

const runColumns = `id, run_number, status, decision, started_at, finished_at,
	metrics_before, metrics_after, state_before, state_after,
	capture_before, capture_after, aligned_json, changes_json, spend, error`

// GetRun loads a run by id, including its stage outputs.
func (s *Store) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	return s.getRun(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
}

// GetRunByNumber loads a run by run number, including its stage outputs.
func (s *Store) GetRunByNumber(ctx context.Context, number int) (*model.Run, error) {
	return s.getRun(ctx, "SELECT "+runColumns+" FROM runs WHERE run_number = ?", number)
}

func (s *Store) getRun(ctx context.Context, query string, arg any) (*model.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrRunNotFound, arg)
	}
	if err != nil {
		return nil, err
	}
	stages, err := s.StageOutputs(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Stages = stages
	return run, nil
}

// ListRuns returns up to limit runs, most recent first, without stage outputs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY run_number DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RecentFinished returns up to limit finished runs numbered below
// beforeNumber, most recent first.
func (s *Store) RecentFinished(ctx context.Context, beforeNumber, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+` FROM runs
		WHERE status != 'running' AND run_number < ?
		ORDER BY run_number DESC LIMIT ?`, beforeNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// StageOutputs returns the stage outputs of a run in recording order.
func (s *Store) StageOutputs(ctx context.Context, runID string) ([]model.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, output_json, defaulted, reason, recorded_at
		FROM stage_outputs
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stage outputs: %w", err)
	}
	defer rows.Close()

	var out []model.StageRecord
	for rows.Next() {
		var rec model.StageRecord
		var output string
		var defaulted int
		var reason, recorded sql.NullString
		if err := rows.Scan(&rec.Seq, &rec.Stage, &output, &defaulted, &reason, &recorded); err != nil {
			return nil, fmt.Errorf("scan stage output: %w", err)
		}
		rec.Output = json.RawMessage(output)
		rec.Defaulted = defaulted != 0
		rec.Reason = reason.String
		if t := parseTime(recorded); t != nil {
			rec.RecordedAt = *t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage outputs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var status string
	var decision, started, finished sql.NullString
	var metricsBefore, metricsAfter, stateBefore, stateAfter sql.NullString
	var captureBefore, captureAfter, aligned, changes, runErr sql.NullString
	err := row.Scan(&run.ID, &run.Number, &status, &decision, &started, &finished,
		&metricsBefore, &metricsAfter, &stateBefore, &stateAfter,
		&captureBefore, &captureAfter, &aligned, &changes, &run.Spend, &runErr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = model.RunStatus(status)
	run.Decision = model.Decision(decision.String)
	if t := parseTime(started); t != nil {
		run.StartedAt = *t
	}
	run.FinishedAt = parseTime(finished)
	run.Error = runErr.String

	decode := func(ns sql.NullString, out any) error {
		if !ns.Valid || ns.String == "" {
			return nil
		}
		return json.Unmarshal([]byte(ns.String), out)
	}
	if err := decode(metricsBefore, &run.MetricsBefore); err != nil {
		return nil, fmt.Errorf("decode metrics_before: %w", err)
	}
	if err := decode(metricsAfter, &run.MetricsAfter); err != nil {
		return nil, fmt.Errorf("decode metrics_after: %w", err)
	}
	if err := decode(captureBefore, &run.CaptureBefore); err != nil {
		return nil, fmt.Errorf("decode capture_before: %w", err)
	}
	if err := decode(captureAfter, &run.CaptureAfter); err != nil {
		return nil, fmt.Errorf("decode capture_after: %w", err)
	}
	if err := decode(changes, &run.Changes); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	if aligned.Valid && aligned.String != "" {
		run.Aligned = &model.AlignedProposal{}
		if err := json.Unmarshal([]byte(aligned.String), run.Aligned); err != nil {
			return nil, fmt.Errorf("decode aligned proposal: %w", err)
		}
	}
	if stateBefore.Valid && stateBefore.String != "" {
		run.StateBefore = json.RawMessage(stateBefore.String)
	}
	if stateAfter.Valid && stateAfter.String != "" {
		run.StateAfter = json.RawMessage(stateAfter.String)
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]model.Run, error) {
	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
