package engagement

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagepilot/internal/adapters"
	"pagepilot/internal/audit"
	"pagepilot/internal/model"
	"pagepilot/internal/persona"
	"pagepilot/internal/publish"
	"pagepilot/internal/runstore"
	"pagepilot/internal/worldctx"
)

// ActionOutcome reports what happened to one proposed growth action.
type ActionOutcome struct {
	Action     model.GrowthAction `json:"action"`
	Status     string             `json:"status"`
	ExternalID string             `json:"external_id,omitempty"`
	Detail     string             `json:"detail,omitempty"`
}

// Growth runs the proactive engagement pipeline.
type Growth struct {
	Store      *runstore.Store
	Builder    *worldctx.Builder
	Publishers map[string]publish.Publisher
	Backend    adapters.Backend
	Personas   *persona.Registry
	// MaxActions caps the actions taken per cycle. Defaults to 3.
	MaxActions int
	// DailyLimit caps the actions sent per UTC day. Defaults to 10.
	DailyLimit  int
	CallTimeout time.Duration
	Audit       *audit.Logger
	Logger      *zap.Logger
	Now         func() time.Time
}

// Engage asks the growth persona for actions and executes those the daily
// limit still allows. Every considered action is logged.
func (g *Growth) Engage(ctx context.Context) ([]ActionOutcome, error) {
	logger := orNop(g.Logger)
	now := g.nowUTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	usedToday, err := g.Store.CountGrowthActionsSince(ctx, dayStart)
	if err != nil {
		return nil, err
	}
	allowed := min(positiveOr(g.MaxActions, 3), positiveOr(g.DailyLimit, 10)-usedToday)
	if allowed <= 0 {
		logger.Info("growth daily limit reached", zap.Int("used_today", usedToday))
		return nil, nil
	}

	wc, err := g.Builder.Build(ctx, "growth-"+uuid.NewString(), 0)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	runner := &persona.Runner{Backend: g.Backend, Timeout: g.CallTimeout, Logger: logger}
	reg := registryOrDefault(g.Personas)

	plan, err := persona.Execute(ctx, runner, reg.Growth, wc, "", map[string]any{
		"max_actions": allowed,
		"used_today":  usedToday,
		"platforms":   platforms(g.Publishers),
	})
	if err != nil {
		return nil, err
	}

	var outcomes []ActionOutcome
	for i, action := range plan.Value.Actions {
		out := ActionOutcome{Action: action}
		if i >= allowed {
			out.Status = runstore.StatusSkipped
			out.Detail = "over action limit"
		} else {
			out, err = g.execute(ctx, runner, reg, wc, i, action)
			if err != nil {
				return outcomes, err
			}
		}
		if _, err := g.Store.AppendGrowthAction(ctx, runstore.GrowthActionRecord{
			Platform:   action.Platform,
			Kind:       action.Kind,
			Target:     action.Target,
			Content:    action.Content,
			Status:     out.Status,
			ExternalID: out.ExternalID,
			Error:      out.Detail,
		}); err != nil {
			return outcomes, fmt.Errorf("log growth action: %w", err)
		}
		if out.Status == runstore.StatusSent {
			g.audit(ctx, map[string]any{"platform": action.Platform, "kind": action.Kind, "target": action.Target, "external_id": out.ExternalID})
		}
		logger.Info("growth action",
			zap.String("platform", action.Platform),
			zap.String("kind", action.Kind),
			zap.String("status", out.Status),
		)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (g *Growth) execute(ctx context.Context, runner *persona.Runner, reg *persona.Registry, wc *worldctx.Context, i int, action model.GrowthAction) (ActionOutcome, error) {
	out := ActionOutcome{Action: action}
	if action.HasContent() {
		verdict, err := persona.Execute(ctx, runner, reg.Content, wc, persona.Content+"."+strconv.Itoa(i+1), map[string]any{
			"description": "proactive " + action.Kind + " on " + action.Platform,
			"text":        action.Content,
		})
		if err != nil {
			return out, err
		}
		if verdict.Value.Verdict != model.ContentPostable {
			out.Status = runstore.StatusSkipped
			out.Detail = "content gate: " + verdict.Value.Rationale
			return out, nil
		}
	}

	pub, err := publish.Lookup(g.Publishers, action.Platform)
	if err == nil {
		var receipt publish.Receipt
		receipt, err = pub.Publish(ctx, publish.Content{Kind: action.Kind, Text: action.Content}, action.Target)
		out.ExternalID = receipt.ID
	}
	switch {
	case errors.Is(err, publish.ErrUnsupported):
		out.Status = runstore.StatusSkipped
		out.Detail = err.Error()
	case err != nil:
		out.Status = runstore.StatusFailed
		out.Detail = err.Error()
	default:
		out.Status = runstore.StatusSent
	}
	return out, nil
}

func (g *Growth) audit(ctx context.Context, payload any) {
	if g.Audit == nil {
		return
	}
	if err := g.Audit.LogEvent(ctx, auditActor, audit.EventGrowthAction, payload); err != nil {
		orNop(g.Logger).Warn("audit log failed", zap.Error(err))
	}
}

func (g *Growth) nowUTC() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func platforms(pubs map[string]publish.Publisher) []string {
	return slices.Sorted(maps.Keys(pubs))
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
