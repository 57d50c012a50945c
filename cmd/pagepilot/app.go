package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"pagepilot/internal/adapters"
	"pagepilot/internal/audit"
	"pagepilot/internal/capture"
	"pagepilot/internal/engagement"
	"pagepilot/internal/lock"
	"pagepilot/internal/metrics"
	"pagepilot/internal/pageconfig"
	"pagepilot/internal/persona"
	"pagepilot/internal/pipeline"
	"pagepilot/internal/publish"
	"pagepilot/internal/runstore"
	"pagepilot/internal/worldctx"
)

// defaultPlatforms get dry-run publishers when no webhooks are configured.
var defaultPlatforms = []string{"x", "linkedin"}

// app holds the collaborators shared by the run, engagement and daemon commands.
type app struct {
	store      *runstore.Store
	audit      *audit.Logger
	backend    adapters.Backend
	personas   *persona.Registry
	pages      *pageconfig.Repository
	builder    *worldctx.Builder
	publishers []publish.Publisher
	capturer   capture.Capturer

	closers []func() error
}

// openApp wires everything from the loaded workspace and config. The
// workspace must have been initialized.
func openApp(ctx context.Context) (*app, error) {
	if _, err := os.Stat(ws.StateDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("workspace %s is not initialized (run '%s init')", ws.Root, appName)
		}
		return nil, fmt.Errorf("stat state dir: %w", err)
	}

	a := &app{audit: audit.NewLogger(ws.AuditDBPath)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, err := runstore.Open(ws.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	a.pages = &pageconfig.Repository{KV: store}

	a.backend, err = adapters.New(ctx, cfg.Backend.Name, adapters.Options{
		Model:   cfg.Backend.Model,
		APIKey:  cfg.Backend.APIKey,
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		WorkDir: ws.Root,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	if a.personas, err = loadPersonas(); err != nil {
		return nil, err
	}
	if a.builder, err = a.newBuilder(); err != nil {
		return nil, err
	}
	a.publishers = newPublishers()
	if a.capturer, err = a.newCapturer(ctx); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func loadPersonas() (*persona.Registry, error) {
	reg := persona.Default()
	if err := reg.Apply(cfg.Personas); err != nil {
		return nil, fmt.Errorf("apply persona settings: %w", err)
	}
	overrides, err := persona.LoadOverrides(ws.PersonasPath)
	if err != nil {
		return nil, err
	}
	if err := reg.Apply(overrides); err != nil {
		return nil, fmt.Errorf("apply %s: %w", ws.PersonasPath, err)
	}
	return reg, nil
}

func (a *app) newBuilder() (*worldctx.Builder, error) {
	manualPath, err := ws.ResolvePath(cfg.Metrics.ManualPath)
	if err != nil {
		return nil, err
	}
	analyticsPath, err := ws.ResolvePath(cfg.Metrics.AnalyticsPath)
	if err != nil {
		return nil, err
	}
	var providers []metrics.Provider
	if manualPath != "" {
		providers = append(providers, &metrics.ManualProvider{Path: manualPath})
	}
	if analyticsPath != "" {
		providers = append(providers, &metrics.AnalyticsProvider{ReportPath: analyticsPath})
	}
	return &worldctx.Builder{
		Store:           a.store,
		Pages:           a.pages,
		Providers:       providers,
		HistoryLimit:    cfg.History.Limit,
		PersonaLogLimit: cfg.History.PersonaLogLimit,
		CollectiveLimit: cfg.History.CollectiveLimit,
		Logger:          logger,
	}, nil
}

func newPublishers() []publish.Publisher {
	var pubs []publish.Publisher
	for _, w := range cfg.Publish.Webhooks {
		if cfg.Publish.DryRun {
			pubs = append(pubs, &publish.DryRunPublisher{Name: w.Platform, Logger: logger})
			continue
		}
		var token string
		if w.TokenEnv != "" {
			token = os.Getenv(w.TokenEnv)
		}
		pubs = append(pubs, &publish.WebhookPublisher{
			Name:    w.Platform,
			URL:     w.URL,
			Token:   token,
			Kinds:   w.Kinds,
			Timeout: cfg.Backend.Timeout,
		})
	}
	if len(pubs) == 0 {
		for _, platform := range defaultPlatforms {
			pubs = append(pubs, &publish.DryRunPublisher{Name: platform, Logger: logger})
		}
	}
	return pubs
}

func (a *app) newCapturer(ctx context.Context) (capture.Capturer, error) {
	if !cfg.Capture.Enabled || strings.TrimSpace(cfg.Capture.PageURL) == "" {
		return capture.Noop{}, nil
	}
	var sink capture.Sink
	switch cfg.Capture.Sink {
	case "s3":
		s3Sink, err := capture.NewS3Sink(ctx, cfg.Capture.Bucket, cfg.Capture.Region, cfg.Capture.Prefix, cfg.Capture.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create s3 sink: %w", err)
		}
		sink = s3Sink
	default:
		sink = capture.FileSink{Dir: ws.CapturesDir}
	}
	shooter := &capture.RodShooter{
		ControlURL:        cfg.Capture.ControlURL,
		Bin:               cfg.Capture.ChromeBin,
		NavigationTimeout: cfg.Capture.Timeout,
	}
	a.closers = append(a.closers, shooter.Close)

	breakpoints := cfg.Capture.Breakpoints
	if len(breakpoints) == 0 {
		breakpoints = capture.DefaultBreakpoints()
	}
	return &capture.Screens{
		PageURL:     cfg.Capture.PageURL,
		Breakpoints: breakpoints,
		Shooter:     shooter,
		Sink:        sink,
		Timeout:     cfg.Capture.Timeout,
		Logger:      logger,
	}, nil
}

func (a *app) controller() *pipeline.Controller {
	return &pipeline.Controller{
		Store:           a.store,
		Builder:         a.builder,
		Pages:           a.pages,
		Backend:         a.backend,
		Personas:        a.personas,
		Workspace:       ws,
		Capturer:        a.capturer,
		Publishers:      a.publishers,
		Audit:           a.audit,
		Lock:            lock.New(ws.LockPath),
		MaxIterations:   cfg.Convergence.MaxIterations,
		CallTimeout:     cfg.Backend.Timeout,
		PropagationWait: cfg.Deploy.PropagationWait,
		CollectiveLimit: cfg.History.CollectiveLimit,
		EmailTo:         cfg.Publish.EmailTo,
		Logger:          logger.Named("pipeline"),
	}
}

func mentionsPath() (string, error) {
	return ws.ResolvePath(cfg.Engagement.MentionsPath)
}

func (a *app) responder() (*engagement.Responder, error) {
	path, err := mentionsPath()
	if err != nil {
		return nil, err
	}
	return &engagement.Responder{
		Store:       a.store,
		Builder:     a.builder,
		Source:      &engagement.FileSource{Path: path},
		Publishers:  publish.ByPlatform(a.publishers),
		Backend:     a.backend,
		Personas:    a.personas,
		CallTimeout: cfg.Backend.Timeout,
		Audit:       a.audit,
		Logger:      logger.Named("mentions"),
	}, nil
}

func (a *app) growth() *engagement.Growth {
	return &engagement.Growth{
		Store:       a.store,
		Builder:     a.builder,
		Publishers:  publish.ByPlatform(a.publishers),
		Backend:     a.backend,
		Personas:    a.personas,
		MaxActions:  cfg.Engagement.MaxGrowthActions,
		DailyLimit:  cfg.Engagement.GrowthDailyLimit,
		CallTimeout: cfg.Backend.Timeout,
		Audit:       a.audit,
		Logger:      logger.Named("growth"),
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
