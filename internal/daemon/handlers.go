package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pagepilot/internal/engagement"
	"pagepilot/internal/notify"
	"pagepilot/internal/pipeline"
)

// HandlerFunc executes one claimed job and returns its result for the job log.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// Pipeline runs one optimization run.
type Pipeline interface {
	RunOnce(ctx context.Context) (*pipeline.RunResult, error)
}

// MentionChecker answers new mentions.
type MentionChecker interface {
	Check(ctx context.Context) ([]engagement.MentionOutcome, error)
}

// GrowthEngager runs one growth cycle.
type GrowthEngager interface {
	Engage(ctx context.Context) ([]engagement.ActionOutcome, error)
}

// Services are what the built-in handlers drive. Nil services leave their
// job type unhandled.
type Services struct {
	Pipeline Pipeline
	Mentions MentionChecker
	Growth   GrowthEngager
	Notifier *notify.Notifier
	// MentionsPath is polled by watch_tick; a change enqueues mentions_check.
	MentionsPath string
	Logger       *zap.Logger
}

// DefaultHandlers returns the handlers for every job type svc can serve.
func DefaultHandlers(store *Store, svc Services) map[string]HandlerFunc {
	h := &handlers{store: store, svc: svc, logger: svc.Logger}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	out := map[string]HandlerFunc{}
	if svc.Pipeline != nil {
		out[JobPipelineRun] = h.pipelineRun
	}
	if svc.Mentions != nil {
		out[JobMentionsCheck] = h.mentionsCheck
	}
	if svc.Growth != nil {
		out[JobGrowthEngage] = h.growthEngage
	}
	if svc.MentionsPath != "" {
		out[JobWatchTick] = h.watchTick
	}
	return out
}

type handlers struct {
	store  *Store
	svc    Services
	logger *zap.Logger
}

func (h *handlers) pipelineRun(ctx context.Context, job *Job) (any, error) {
	res, err := h.svc.Pipeline.RunOnce(ctx)
	if res != nil {
		title, msg := notify.FormatRunFinished(res.RunNumber, string(res.Decision), string(res.Status), res.Spend)
		if nerr := h.svc.Notifier.Send(ctx, title, msg); nerr != nil {
			h.logger.Warn("notification failed", zap.Error(nerr))
		}
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"run_id":     res.RunID,
		"run_number": res.RunNumber,
		"status":     res.Status,
		"decision":   res.Decision,
		"spend":      res.Spend,
		"changes":    len(res.Changes),
	}, nil
}

func (h *handlers) mentionsCheck(ctx context.Context, job *Job) (any, error) {
	outcomes, err := h.svc.Mentions.Check(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, o := range outcomes {
		counts[o.Outcome]++
	}
	return map[string]any{"mentions": len(outcomes), "outcomes": counts}, nil
}

func (h *handlers) growthEngage(ctx context.Context, job *Job) (any, error) {
	outcomes, err := h.svc.Growth.Engage(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}
	return map[string]any{"actions": len(outcomes), "statuses": counts}, nil
}

// watchTick polls the mentions file and enqueues a mentions check when it changes.
func (h *handlers) watchTick(ctx context.Context, job *Job) (any, error) {
	now := time.Now()
	changed, err := watchFile(ctx, h.store, h.svc.MentionsPath, "watch_mentions_file")
	if err != nil {
		return nil, fmt.Errorf("watch mentions: %w", err)
	}
	result := map[string]any{"checked_at": now.UTC().Format(time.RFC3339), "status": "no_changes"}
	if changed && h.svc.Mentions != nil {
		payload, _ := json.Marshal(map[string]any{"trigger": "mentions_changed", "path": h.svc.MentionsPath})
		id, created, err := h.store.EnqueueUnique(ctx, JobMentionsCheck, now, json.RawMessage(payload))
		if err != nil {
			return nil, fmt.Errorf("enqueue mentions_check: %w", err)
		}
		result["status"] = "changes_detected"
		if created {
			result["enqueued"] = id
		}
	}
	return result, nil
}
