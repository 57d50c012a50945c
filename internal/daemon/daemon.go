// Package daemon runs pagepilot's scheduled work: a SQLite job queue, a
// watermark scheduler and a worker loop that executes one job at a time.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"pagepilot/internal/audit"
	"pagepilot/internal/notify"
	"pagepilot/internal/workspace"
)

const auditActor = "daemon"

// Daemon claims and executes jobs until its context ends.
type Daemon struct {
	Workspace    *workspace.Workspace
	Store        *Store
	Scheduler    *Scheduler
	Handlers     map[string]HandlerFunc
	Audit        *audit.Logger
	Notifier     *notify.Notifier
	Logger       *zap.Logger
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration
}

// Config holds daemon settings.
type Config struct {
	Workspace    *workspace.Workspace
	StorePath    string
	TimeZone     string
	Schedule     Schedule
	Services     Services
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

// New opens the job store and wires the default handlers.
func New(cfg Config) (*Daemon, error) {
	store, err := Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	scheduler, err := NewScheduler(store, cfg.TimeZone, cfg.Schedule)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if cfg.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		cfg.LeaseOwner = fmt.Sprintf("daemon-%s-%d", hostname, os.Getpid())
	}
	if cfg.LeaseFor == 0 {
		cfg.LeaseFor = 2 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Services.Logger == nil {
		cfg.Services.Logger = logger
	}

	d := &Daemon{
		Workspace:    cfg.Workspace,
		Store:        store,
		Scheduler:    scheduler,
		Handlers:     DefaultHandlers(store, cfg.Services),
		Notifier:     cfg.Services.Notifier,
		Logger:       logger,
		LeaseOwner:   cfg.LeaseOwner,
		LeaseFor:     cfg.LeaseFor,
		PollInterval: cfg.PollInterval,
	}
	if cfg.Workspace != nil {
		d.Audit = audit.NewLogger(cfg.Workspace.AuditDBPath)
	}
	return d, nil
}

// RegisterHandler sets the handler for jobType.
func (d *Daemon) RegisterHandler(jobType string, handler HandlerFunc) {
	d.Handlers[jobType] = handler
}

// Run ticks the scheduler and works the queue until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.audit(ctx, "daemon_started", map[string]any{
		"lease_owner":   d.LeaseOwner,
		"lease_for":     d.LeaseFor.String(),
		"poll_interval": d.PollInterval.String(),
		"handlers":      len(d.Handlers),
	})
	d.Logger.Info("daemon started", zap.String("lease_owner", d.LeaseOwner))

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.audit(context.WithoutCancel(ctx), "daemon_stopped", map[string]any{"lease_owner": d.LeaseOwner})
			d.Logger.Info("daemon stopped")
			return nil
		case now := <-ticker.C:
			if _, err := d.Step(ctx, now); err != nil {
				d.Logger.Error("daemon step failed", zap.Error(err))
			}
		}
	}
}

// Step ticks the scheduler once and executes at most one due job. It
// returns the job it executed, or nil when none was due.
func (d *Daemon) Step(ctx context.Context, now time.Time) (*Job, error) {
	if err := d.Scheduler.Tick(ctx, now); err != nil {
		d.Logger.Warn("scheduler tick failed", zap.Error(err))
	}
	job, err := d.Store.ClaimNext(ctx, now, d.LeaseOwner, d.LeaseFor)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	return job, d.execute(ctx, job)
}

func (d *Daemon) execute(ctx context.Context, job *Job) error {
	logger := d.Logger.With(zap.String("job_id", job.ID), zap.String("job_type", job.Type))
	d.audit(ctx, "job_started", map[string]any{"job_id": job.ID, "job_type": job.Type, "attempt": job.Attempts})
	logger.Info("job started", zap.Int("attempt", job.Attempts))

	handler, ok := d.Handlers[job.Type]
	if !ok {
		err := fmt.Errorf("no handler for job type %q", job.Type)
		d.finish(ctx, logger, job, nil, err)
		return err
	}

	stop := d.keepLease(ctx, job.ID)
	result, err := handler(ctx, job)
	stop()
	d.finish(ctx, logger, job, result, err)
	return err
}

func (d *Daemon) finish(ctx context.Context, logger *zap.Logger, job *Job, result any, jobErr error) {
	ctx = context.WithoutCancel(ctx)
	payload := map[string]any{"job_id": job.ID, "job_type": job.Type}
	if jobErr != nil {
		if err := d.Store.Fail(ctx, job.ID, jobErr); err != nil {
			logger.Error("mark job failed", zap.Error(err))
		}
		payload["status"] = JobFailed
		payload["error"] = jobErr.Error()
		logger.Error("job failed", zap.Error(jobErr))
		title, msg := notify.FormatJobFailed(job.Type, jobErr)
		if err := d.Notifier.Send(ctx, title, msg); err != nil {
			logger.Warn("notification failed", zap.Error(err))
		}
	} else {
		if err := d.Store.Succeed(ctx, job.ID, result); err != nil {
			logger.Error("mark job succeeded", zap.Error(err))
		}
		payload["status"] = JobSucceeded
		payload["result"] = result
		logger.Info("job succeeded")
	}
	d.audit(ctx, audit.EventJobFinished, payload)
}

// keepLease extends the job's lease while its handler runs.
func (d *Daemon) keepLease(ctx context.Context, jobID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(d.LeaseFor/2, time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := d.Store.ExtendLease(ctx, jobID, d.LeaseOwner, now.Add(d.LeaseFor)); err != nil {
					d.Logger.Warn("extend lease", zap.String("job_id", jobID), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (d *Daemon) audit(ctx context.Context, event string, payload any) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.LogEvent(ctx, auditActor, event, payload); err != nil {
		d.Logger.Warn("audit log failed", zap.String("event", event), zap.Error(err))
	}
}

// Close closes the job store.
func (d *Daemon) Close() error {
	return d.Store.Close()
}
