package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a persisted run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// Decision is the terminal outcome of a run. Exactly one is reached per run.
type Decision string

const (
	DecisionApproved       Decision = "approved"
	DecisionReject         Decision = "reject"
	DecisionHold           Decision = "hold"
	DecisionBlockedBudget  Decision = "blocked_budget"
	DecisionBlockedContent Decision = "blocked_content"
	DecisionBlockedQA      Decision = "blocked_qa"
)

// Decisions lists every terminal decision.
func Decisions() []Decision {
	return []Decision{
		DecisionApproved,
		DecisionReject,
		DecisionHold,
		DecisionBlockedBudget,
		DecisionBlockedContent,
		DecisionBlockedQA,
	}
}

// Valid reports whether d is a terminal decision.
func (d Decision) Valid() bool {
	for _, known := range Decisions() {
		if d == known {
			return true
		}
	}
	return false
}

// AlignedProposal is the single proposal that leaves the convergence loop.
type AlignedProposal struct {
	Proposal   Proposal `json:"proposal"`
	Iterations int      `json:"iterations"`
	Converged  bool     `json:"converged"`
	Exhausted  bool     `json:"exhausted"`
	Note       string   `json:"note,omitempty"`
}

// StageRecord is one persisted stage output.
type StageRecord struct {
	Seq        int             `json:"seq"`
	Stage      string          `json:"stage"`
	Output     json.RawMessage `json:"output"`
	Defaulted  bool            `json:"defaulted"`
	Reason     string          `json:"reason,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Run is the persisted record of one pipeline execution.
type Run struct {
	ID            string             `json:"id"`
	Number        int                `json:"run_number"`
	Status        RunStatus          `json:"status"`
	Decision      Decision           `json:"decision,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty"`
	MetricsBefore map[string]float64 `json:"metrics_before,omitempty"`
	MetricsAfter  map[string]float64 `json:"metrics_after,omitempty"`
	StateBefore   json.RawMessage    `json:"state_before,omitempty"`
	StateAfter    json.RawMessage    `json:"state_after,omitempty"`
	CaptureBefore map[string]string  `json:"capture_before,omitempty"`
	CaptureAfter  map[string]string  `json:"capture_after,omitempty"`
	Aligned       *AlignedProposal   `json:"aligned,omitempty"`
	Changes       []ChangeOp         `json:"changes,omitempty"`
	Spend         float64            `json:"spend"`
	Error         string             `json:"error,omitempty"`
	Stages        []StageRecord      `json:"stages,omitempty"`
}

// HistoryEntry is the reduced view of a past run given to personas.
type HistoryEntry struct {
	RunNumber     int                `json:"run_number"`
	Decision      Decision           `json:"decision"`
	Changes       []ChangeOp         `json:"changes,omitempty"`
	MetricsBefore map[string]float64 `json:"metrics_before,omitempty"`
	MetricsAfter  map[string]float64 `json:"metrics_after,omitempty"`
	Expected      *ExpectedMetric    `json:"expected_metric,omitempty"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// Reduce flattens a run into a history entry.
func (r *Run) Reduce() HistoryEntry {
	entry := HistoryEntry{
		RunNumber:     r.Number,
		Decision:      r.Decision,
		Changes:       r.Changes,
		MetricsBefore: r.MetricsBefore,
		MetricsAfter:  r.MetricsAfter,
	}
	if r.Aligned != nil {
		entry.Expected = r.Aligned.Proposal.ExpectedMetric
	}
	if r.FinishedAt != nil {
		entry.FinishedAt = *r.FinishedAt
	}
	return entry
}
