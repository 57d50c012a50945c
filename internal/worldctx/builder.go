package worldctx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"pagepilot/internal/metrics"
	"pagepilot/internal/model"
	"pagepilot/internal/pageconfig"
)

// Key/value keys holding budget figures and cross-run memory.
const (
	KeyBudgetTotal     = "budget.total"
	KeyBudgetDailyCap  = "budget.daily_cap"
	KeySpendCumulative = "spend.cumulative"
	KeyCollective      = "memory.collective"
)

// DailySpendKey is the key holding spend for the UTC day of t.
func DailySpendKey(t time.Time) string {
	return "spend.day." + t.UTC().Format("2006-01-02")
}

// Store is the slice of the run store the builder reads.
type Store interface {
	RecentFinished(ctx context.Context, beforeNumber, limit int) ([]model.Run, error)
	StageOutputs(ctx context.Context, runID string) ([]model.StageRecord, error)
	GetFloat(ctx context.Context, key string) (float64, error)
	GetJSON(ctx context.Context, key string, out any) (bool, error)
}

// Builder assembles the Context for a run.
type Builder struct {
	Store     Store
	Pages     *pageconfig.Repository
	Providers []metrics.Provider
	// HistoryLimit bounds the history window. Defaults to 10.
	HistoryLimit int
	// PersonaLogLimit bounds each persona's decision log. Defaults to 5.
	PersonaLogLimit int
	// CollectiveLimit bounds the collective log. Defaults to 20.
	CollectiveLimit int
	Logger          *zap.Logger
	Now             func() time.Time
}

// Build reads history, metrics, budget and page state for run. History,
// metrics and memory failures degrade to empty values; budget and page state
// failures are returned. A runNumber of zero or less builds a context outside
// any run, such as for engagement, with history up to the latest finished run.
func (b *Builder) Build(ctx context.Context, runID string, runNumber int) (*Context, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	wc := New(runID, runNumber, now().UTC())

	window, err := metrics.CollectWindow(ctx, b.Providers, wc.Now)
	if err != nil {
		logger.Warn("metrics collection degraded", zap.Int("run_number", runNumber), zap.Error(err))
	}
	wc.Metrics = window

	before := runNumber
	if before <= 0 {
		before = math.MaxInt32
	}
	runs, err := b.Store.RecentFinished(ctx, before, orDefault(b.HistoryLimit, 10))
	if err != nil {
		logger.Warn("history unavailable", zap.Int("run_number", runNumber), zap.Error(err))
		runs = nil
	}
	for i := range runs {
		wc.History = append(wc.History, runs[i].Reduce())
	}

	budget, err := b.loadBudget(ctx, wc.Now)
	if err != nil {
		return nil, err
	}
	wc.Budget = budget

	if b.Pages != nil {
		page, err := b.Pages.Load(ctx)
		if err != nil {
			return nil, err
		}
		wc.Page = page
	}

	wc.Memory = b.loadMemory(ctx, logger, runs, wc.History)
	return wc, nil
}

func (b *Builder) loadBudget(ctx context.Context, now time.Time) (Budget, error) {
	var budget Budget
	fields := []struct {
		key string
		dst *float64
	}{
		{KeyBudgetTotal, &budget.Total},
		{KeyBudgetDailyCap, &budget.DailyCap},
		{KeySpendCumulative, &budget.Cumulative},
		{DailySpendKey(now), &budget.Today},
	}
	for _, f := range fields {
		v, err := b.Store.GetFloat(ctx, f.key)
		if err != nil {
			return Budget{}, fmt.Errorf("load budget: %w", err)
		}
		*f.dst = v
	}
	return budget, nil
}

func (b *Builder) loadMemory(ctx context.Context, logger *zap.Logger, runs []model.Run, history []model.HistoryEntry) Memory {
	mem := Memory{
		PersonaLog:  map[string][]PersonaDecision{},
		TrackRecord: metrics.ComputeTrackRecord(history),
	}
	limit := orDefault(b.PersonaLogLimit, 5)
	for _, run := range runs {
		stages, err := b.Store.StageOutputs(ctx, run.ID)
		if err != nil {
			logger.Warn("persona log unavailable", zap.Int("run_number", run.Number), zap.Error(err))
			continue
		}
		for _, stage := range stages {
			persona := PersonaOf(stage.Stage)
			if len(mem.PersonaLog[persona]) >= limit {
				continue
			}
			var output any
			if err := json.Unmarshal(stage.Output, &output); err != nil {
				continue
			}
			mem.PersonaLog[persona] = append(mem.PersonaLog[persona], PersonaDecision{
				RunNumber: run.Number,
				Stage:     stage.Stage,
				Output:    output,
			})
		}
	}

	var collective []string
	if _, err := b.Store.GetJSON(ctx, KeyCollective, &collective); err != nil {
		logger.Warn("collective log unavailable", zap.Error(err))
	}
	if n := orDefault(b.CollectiveLimit, 20); len(collective) > n {
		collective = collective[len(collective)-n:]
	}
	mem.Collective = collective
	return mem
}

// PersonaOf strips the iteration suffix from a stage name: "critic.2" -> "critic".
func PersonaOf(stage string) string {
	name, _, _ := strings.Cut(stage, ".")
	return name
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
