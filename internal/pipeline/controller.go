// Package pipeline drives one full run: context, analysis, convergence, the
// gate chain, deployment and narration.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pagepilot/internal/adapters"
	"pagepilot/internal/audit"
	"pagepilot/internal/capture"
	"pagepilot/internal/convergence"
	"pagepilot/internal/gates"
	"pagepilot/internal/guardrails"
	"pagepilot/internal/lock"
	"pagepilot/internal/metrics"
	"pagepilot/internal/model"
	"pagepilot/internal/pageconfig"
	"pagepilot/internal/persona"
	"pagepilot/internal/publish"
	"pagepilot/internal/runstore"
	"pagepilot/internal/workspace"
	"pagepilot/internal/worldctx"
)

const auditActor = "pipeline"

// Stage keys recorded by the controller itself rather than by a persona.
const (
	StageAligned = "aligned"
	StageDeploy  = "deploy"
)

// RunResult is what RunOnce reports to its caller.
type RunResult struct {
	RunID     string                 `json:"run_id"`
	RunNumber int                    `json:"run_number"`
	Status    model.RunStatus        `json:"status"`
	Decision  model.Decision         `json:"decision,omitempty"`
	Changes   []model.ChangeOp       `json:"changes"`
	Spend     float64                `json:"spend"`
	Aligned   *model.AlignedProposal `json:"aligned,omitempty"`
	Verdicts  []gates.Verdict        `json:"verdicts,omitempty"`
	Narrative *model.Narrative       `json:"narrative,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Controller runs the pipeline. One Controller serves one workspace and never
// runs two pipelines at once.
type Controller struct {
	Store      *runstore.Store
	Builder    *worldctx.Builder
	Pages      *pageconfig.Repository
	Backend    adapters.Backend
	Personas   *persona.Registry
	Workspace  *workspace.Workspace
	Capturer   capture.Capturer
	Publishers []publish.Publisher
	Audit      *audit.Logger
	// Lock, when set, is held for the whole run.
	Lock *lock.FileLock

	MaxIterations   int
	CallTimeout     time.Duration
	PropagationWait time.Duration
	CollectiveLimit int
	EmailTo         string

	Logger *zap.Logger
	// Sleep waits out the propagation period. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// RunOnce executes one run. Gate vetoes and persona failures are normal
// outcomes; an error is returned only when the run record itself could not
// be created or kept up to date, in which case the result is partial.
func (c *Controller) RunOnce(ctx context.Context) (*RunResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Lock != nil {
		if err := c.Lock.TryLock(); err != nil {
			return nil, err
		}
		defer func() {
			if err := c.Lock.Unlock(); err != nil {
				c.logger().Warn("release run lock", zap.Error(err))
			}
		}()
	}

	run, err := c.Store.CreateRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logger := c.logger().With(zap.String("run_id", run.ID), zap.Int("run_number", run.Number))
	res := &RunResult{RunID: run.ID, RunNumber: run.Number, Status: model.RunRunning, Changes: []model.ChangeOp{}}
	c.audit(ctx, audit.EventRunStarted, map[string]any{"run_id": run.ID, "run_number": run.Number})
	logger.Info("run started")

	r := &runState{c: c, run: run, res: res, logger: logger}
	if err := r.execute(ctx); err != nil {
		return r.fail(ctx, err)
	}
	return res, nil
}

// runState carries one run through its phases.
type runState struct {
	c      *Controller
	run    *model.Run
	res    *RunResult
	logger *zap.Logger

	wc        *worldctx.Context
	integrity *guardrails.IntegrityCheck
	state     *gates.State
	deployErr error
}

func (r *runState) execute(ctx context.Context) error {
	c := r.c
	wc, err := c.Builder.Build(ctx, r.run.ID, r.run.Number)
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}
	r.wc = wc

	if err := r.snapshotBefore(ctx); err != nil {
		return err
	}

	runner := &persona.Runner{
		Backend: c.Backend,
		Timeout: c.CallTimeout,
		Logger:  r.logger,
		OnStage: r.persistStage,
	}
	reg := c.personas()

	if _, err := persona.Execute(ctx, runner, reg.Analyst, wc, "", nil); err != nil {
		return err
	}

	loop := &convergence.Loop{
		Runner:        runner,
		Optimizer:     reg.Optimizer,
		Critic:        reg.Critic,
		MaxIterations: c.MaxIterations,
		Logger:        r.logger,
	}
	conv, err := loop.Run(ctx, wc)
	if err != nil {
		return err
	}
	aligned := conv.Aligned
	r.res.Aligned = &aligned
	if err := r.record(ctx, StageAligned, aligned); err != nil {
		return err
	}

	r.state = gates.NewState(aligned.Proposal)
	outcome, err := gates.NewChain(runner, reg, r.logger).Run(ctx, wc, r.state)
	if err != nil {
		return err
	}
	r.res.Verdicts = outcome.Verdicts
	r.res.Decision = outcome.Decision

	if outcome.Decision == model.DecisionApproved {
		report := r.deploy(ctx)
		if err := r.record(ctx, StageDeploy, report); err != nil {
			return err
		}
	} else {
		r.verifyUntouched(ctx)
	}

	narrative, err := persona.Execute(ctx, runner, reg.Narrator, wc, "", map[string]any{
		"decision": r.res.Decision,
		"changes":  r.res.Changes,
		"spend":    r.res.Spend,
	})
	if err != nil {
		return err
	}
	r.res.Narrative = &narrative.Value
	r.distribute(ctx, narrative.Value)

	return r.close(ctx)
}

func (r *runState) snapshotBefore(ctx context.Context) error {
	c := r.c
	stateJSON, err := json.Marshal(r.wc.Page)
	if err != nil {
		return fmt.Errorf("encode page state: %w", err)
	}
	integrity, err := guardrails.NewIntegrityCheck(r.wc.Page)
	if err != nil {
		return err
	}
	r.integrity = integrity

	if c.Workspace != nil {
		path := metrics.SnapshotPath(c.Workspace.SnapshotsDir, r.run.Number, "before")
		if err := metrics.WriteSnapshot(path, r.run.Number, "before", r.wc.Metrics); err != nil {
			r.logger.Warn("write metrics snapshot", zap.Error(err))
		}
	}

	snap := runstore.Snapshots{
		MetricsBefore: r.wc.Metrics.Summary(),
		StateBefore:   stateJSON,
		CaptureBefore: r.capture(ctx, "before"),
	}
	if err := c.Store.UpdateSnapshots(ctx, r.run.ID, snap); err != nil {
		return fmt.Errorf("record before snapshots: %w", err)
	}
	return nil
}

// persistStage mirrors every recorded stage into the run store.
func (r *runState) persistStage(ctx context.Context, stage string, res persona.StageResult) error {
	if _, err := r.c.Store.AppendStageOutput(ctx, r.run.ID, runstore.StageOutput{
		Stage:     stage,
		Output:    res.Value,
		Defaulted: res.Defaulted,
		Reason:    res.Reason,
	}); err != nil {
		return err
	}
	r.c.audit(ctx, audit.EventStageCompleted, map[string]any{
		"run_id":        r.run.ID,
		"stage":         stage,
		"defaulted":     res.Defaulted,
		"reason":        res.Reason,
		"input_tokens":  res.Usage.InputTokens,
		"output_tokens": res.Usage.OutputTokens,
	})
	return nil
}

// record appends a controller-owned stage to the context and the store.
func (r *runState) record(ctx context.Context, stage string, value any) error {
	if err := r.wc.Record(stage, value, false, ""); err != nil {
		return err
	}
	return r.persistStage(ctx, stage, persona.StageResult{Value: value})
}

// verifyUntouched checks that a run which did not deploy left the page as it found it.
func (r *runState) verifyUntouched(ctx context.Context) {
	page, err := r.c.Pages.Load(ctx)
	if err != nil {
		r.logger.Warn("reload page for integrity check", zap.Error(err))
		return
	}
	if err := r.integrity.CaptureAfter(page); err != nil {
		r.logger.Warn("integrity fingerprint", zap.Error(err))
		return
	}
	if !r.integrity.HasChanges() {
		return
	}
	violation := guardrails.BuildViolation("page_changed_without_deploy", map[string]any{
		"run_id":      r.run.ID,
		"decision":    r.res.Decision,
		"before_hash": r.integrity.BeforeHash,
		"after_hash":  r.integrity.AfterHash,
	})
	r.logger.Error("page changed during a run that did not deploy", zap.String("before", r.integrity.BeforeHash), zap.String("after", r.integrity.AfterHash))
	if r.c.Workspace != nil {
		if _, err := guardrails.WriteViolation(r.c.Workspace.RunDir(r.run.Number), violation); err != nil {
			r.logger.Warn("write violation", zap.Error(err))
		}
	}
}

func (r *runState) close(ctx context.Context) error {
	c := r.c
	snap := runstore.Snapshots{MetricsAfter: r.afterMetrics(ctx)}
	state, err := r.afterState(ctx)
	if err != nil {
		r.logger.Warn("capture after state", zap.Error(err))
	}
	snap.StateAfter = state
	if err := c.Store.UpdateSnapshots(ctx, r.run.ID, snap); err != nil {
		return fmt.Errorf("record after snapshots: %w", err)
	}

	final := r.final()
	if r.deployErr != nil {
		cause := guardrails.SanitizeErrorForJSON(r.deployErr)
		if err := c.Store.FailRun(ctx, r.run.ID, final, cause); err != nil {
			return fmt.Errorf("close run: %w", err)
		}
		r.res.Status = model.RunError
		r.res.Error = cause
	} else {
		if err := c.Store.CloseRun(ctx, r.run.ID, final); err != nil {
			return fmt.Errorf("close run: %w", err)
		}
		r.res.Status = model.RunCompleted
	}
	c.audit(ctx, audit.EventRunFinished, map[string]any{
		"run_id":   r.run.ID,
		"decision": r.res.Decision,
		"status":   r.res.Status,
		"spend":    r.res.Spend,
		"changes":  len(r.res.Changes),
	})
	r.logger.Info("run finished",
		zap.String("decision", string(r.res.Decision)),
		zap.String("status", string(r.res.Status)),
		zap.Float64("spend", r.res.Spend),
	)
	return nil
}

// afterState is the deployed page for an approved run and the untouched
// page otherwise.
func (r *runState) afterState(ctx context.Context) (json.RawMessage, error) {
	page := r.wc.Page
	if r.res.Decision == model.DecisionApproved && r.deployErr == nil {
		var err error
		if page, err = r.c.Pages.Load(ctx); err != nil {
			return nil, err
		}
	}
	return json.Marshal(page)
}

func (r *runState) afterMetrics(ctx context.Context) map[string]float64 {
	c := r.c
	if c.Builder == nil {
		return nil
	}
	w, err := metrics.CollectWindow(ctx, c.Builder.Providers, time.Now().UTC())
	if err != nil {
		r.logger.Warn("after metrics degraded", zap.Error(err))
	}
	if c.Workspace != nil && !w.Empty() {
		path := metrics.SnapshotPath(c.Workspace.SnapshotsDir, r.run.Number, "after")
		if err := metrics.WriteSnapshot(path, r.run.Number, "after", w); err != nil {
			r.logger.Warn("write metrics snapshot", zap.Error(err))
		}
	}
	return w.Summary()
}

func (r *runState) final() runstore.Final {
	return runstore.Final{
		Decision: r.res.Decision,
		Aligned:  r.res.Aligned,
		Changes:  r.res.Changes,
		Spend:    r.res.Spend,
	}
}

// fail marks the run as error, best-effort, and returns the partial result.
func (r *runState) fail(ctx context.Context, cause error) (*RunResult, error) {
	ctx = context.WithoutCancel(ctx)
	msg := guardrails.SanitizeErrorForJSON(cause)
	r.res.Status = model.RunError
	r.res.Error = msg
	if err := r.c.Store.FailRun(ctx, r.run.ID, r.final(), msg); err != nil && !errors.Is(err, runstore.ErrRunClosed) {
		r.logger.Error("mark run failed", zap.Error(err))
	}
	r.c.audit(ctx, audit.EventRunFailed, map[string]any{"run_id": r.run.ID, "error": msg})
	r.logger.Error("run failed", zap.Error(cause))
	return r.res, cause
}

func (c *Controller) personas() *persona.Registry {
	if c.Personas != nil {
		return c.Personas
	}
	return persona.Default()
}

func (c *Controller) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Controller) audit(ctx context.Context, event string, payload any) {
	if c.Audit == nil {
		return
	}
	if err := c.Audit.LogEvent(ctx, auditActor, event, payload); err != nil {
		c.logger().Warn("audit log failed", zap.String("event", event), zap.Error(err))
	}
}
