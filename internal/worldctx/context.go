// Package worldctx holds the read-only world state a run's personas see, plus
// the append-only log of stage outputs produced so far.
package worldctx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pagepilot/internal/metrics"
	"pagepilot/internal/model"
	"pagepilot/internal/pageconfig"
)

// ErrStageRecorded is returned when a stage name is recorded twice.
var ErrStageRecorded = errors.New("stage output already recorded")

// Budget holds the spend figures for one run.
type Budget struct {
	Total      float64 `json:"total"`
	DailyCap   float64 `json:"daily_cap"`
	Cumulative float64 `json:"cumulative"`
	Today      float64 `json:"today"`
}

// Remaining is the runway left across all runs, never negative.
func (b Budget) Remaining() float64 {
	return nonNegative(b.Total - b.Cumulative)
}

// DailyRemaining is what today's cap still allows, never negative.
func (b Budget) DailyRemaining() float64 {
	return nonNegative(b.DailyCap - b.Today)
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Memory is prompt-only context carried across runs.
type Memory struct {
	PersonaLog  map[string][]PersonaDecision `json:"persona_log,omitempty"`
	Collective  []string                     `json:"collective,omitempty"`
	TrackRecord metrics.TrackRecord          `json:"track_record"`
}

// PersonaDecision is one past output of a persona.
type PersonaDecision struct {
	RunNumber int    `json:"run_number"`
	Stage     string `json:"stage"`
	Output    any    `json:"output"`
}

// StageOutput is one recorded stage result.
type StageOutput struct {
	Stage     string `json:"stage"`
	Value     any    `json:"value"`
	Defaulted bool   `json:"defaulted"`
	Reason    string `json:"reason,omitempty"`
}

// Context is owned by a single run. The world-state fields are read-only
// after Build; stage outputs may only be appended.
type Context struct {
	RunID     string
	RunNumber int
	Now       time.Time
	Metrics   metrics.Window
	History   []model.HistoryEntry
	Budget    Budget
	Page      pageconfig.Document
	Memory    Memory

	outputs []StageOutput
	index   map[string]int
}

// New returns an empty context for a run.
func New(runID string, runNumber int, now time.Time) *Context {
	return &Context{
		RunID:     runID,
		RunNumber: runNumber,
		Now:       now,
		Page:      pageconfig.Document{},
		index:     map[string]int{},
	}
}

// Record appends a stage output. Recording a stage name twice fails with
// ErrStageRecorded.
func (c *Context) Record(stage string, value any, defaulted bool, reason string) error {
	if strings.TrimSpace(stage) == "" {
		return errors.New("stage name is required")
	}
	if c.index == nil {
		c.index = map[string]int{}
	}
	if _, ok := c.index[stage]; ok {
		return fmt.Errorf("%w: %s", ErrStageRecorded, stage)
	}
	c.index[stage] = len(c.outputs)
	c.outputs = append(c.outputs, StageOutput{Stage: stage, Value: value, Defaulted: defaulted, Reason: reason})
	return nil
}

// Output returns the recorded output for stage.
func (c *Context) Output(stage string) (StageOutput, bool) {
	i, ok := c.index[stage]
	if !ok {
		return StageOutput{}, false
	}
	return c.outputs[i], true
}

// Outputs returns a copy of every recorded output in recording order.
func (c *Context) Outputs() []StageOutput {
	out := make([]StageOutput, len(c.outputs))
	copy(out, c.outputs)
	return out
}

// Lookup returns the value recorded for stage if it has type T.
func Lookup[T any](c *Context, stage string) (T, bool) {
	var zero T
	out, ok := c.Output(stage)
	if !ok {
		return zero, false
	}
	switch v := out.Value.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	return zero, false
}

// Input names understood by Resolve.
const (
	InputMetrics     = "metrics"
	InputHistory     = "history"
	InputBudget      = "budget"
	InputPage        = "page"
	InputMemory      = "memory"
	InputCollective  = "collective"
	InputTrackRecord = "track_record"
	InputStages      = "stages"
)

// Resolve returns the named input as prompt material for persona. Names not
// listed above are looked up as stage outputs.
func (c *Context) Resolve(persona, name string) (any, bool) {
	switch name {
	case InputMetrics:
		return map[string]any{
			"as_of":   c.Metrics.AsOf,
			"summary": c.Metrics.Summary(),
			"points":  c.Metrics.Points,
		}, true
	case InputHistory:
		return c.History, true
	case InputBudget:
		return map[string]any{
			"total":           c.Budget.Total,
			"daily_cap":       c.Budget.DailyCap,
			"cumulative":      c.Budget.Cumulative,
			"today":           c.Budget.Today,
			"remaining":       c.Budget.Remaining(),
			"daily_remaining": c.Budget.DailyRemaining(),
		}, true
	case InputPage:
		return c.Page, true
	case InputMemory:
		return c.Memory.PersonaLog[persona], true
	case InputCollective:
		return c.Memory.Collective, true
	case InputTrackRecord:
		return c.Memory.TrackRecord, true
	case InputStages:
		return c.Outputs(), true
	}
	out, ok := c.Output(name)
	if !ok {
		return nil, false
	}
	return out.Value, true
}
