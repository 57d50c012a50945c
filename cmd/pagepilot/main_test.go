package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pagepilot/internal/capture"
	"pagepilot/internal/config"
	"pagepilot/internal/pageconfig"
	"pagepilot/internal/publish"
	"pagepilot/internal/runstore"
	"pagepilot/internal/workspace"
	"pagepilot/internal/worldctx"
)

func useWorkspace(t *testing.T) {
	t.Helper()
	prevWS, prevCfg, prevLogger, prevSeed := ws, cfg, logger, initSeedPath
	t.Cleanup(func() { ws, cfg, logger, initSeedPath = prevWS, prevCfg, prevLogger, prevSeed })

	ws = workspace.New(t.TempDir())
	cfg = config.Default()
	logger = zap.NewNop()
	initSeedPath = ""
}

func TestNewPublishers(t *testing.T) {
	useWorkspace(t)

	pubs := newPublishers()
	require.Len(t, pubs, len(defaultPlatforms))
	for i, p := range pubs {
		assert.IsType(t, &publish.DryRunPublisher{}, p)
		assert.Equal(t, defaultPlatforms[i], p.Platform())
	}

	t.Setenv("HOOK_TOKEN", "t0k")
	cfg.Publish.DryRun = false
	cfg.Publish.Webhooks = []config.Webhook{{Platform: "x", URL: "https://hooks.example/x", TokenEnv: "HOOK_TOKEN", Kinds: []string{"post"}}}
	pubs = newPublishers()
	require.Len(t, pubs, 1)
	hook, ok := pubs[0].(*publish.WebhookPublisher)
	require.True(t, ok)
	assert.Equal(t, "t0k", hook.Token)
	assert.Equal(t, []string{"post"}, hook.Kinds)

	cfg.Publish.DryRun = true
	pubs = newPublishers()
	require.Len(t, pubs, 1)
	assert.IsType(t, &publish.DryRunPublisher{}, pubs[0])
	assert.Equal(t, "x", pubs[0].Platform())
}

func TestNewCapturerDisabledIsNoop(t *testing.T) {
	useWorkspace(t)
	a := &app{}

	c, err := a.newCapturer(context.Background())
	require.NoError(t, err)
	assert.IsType(t, capture.Noop{}, c)

	cfg.Capture.Enabled = true
	c, err = a.newCapturer(context.Background())
	require.NoError(t, err)
	assert.IsType(t, capture.Noop{}, c, "no page url means nothing to capture")

	cfg.Capture.PageURL = "https://example.com"
	c, err = a.newCapturer(context.Background())
	require.NoError(t, err)
	screens, ok := c.(*capture.Screens)
	require.True(t, ok)
	assert.Equal(t, capture.DefaultBreakpoints(), screens.Breakpoints)
	assert.Equal(t, capture.FileSink{Dir: ws.CapturesDir}, screens.Sink)
	require.Len(t, a.closers, 1)
}

func TestSeedPageAndBudget(t *testing.T) {
	useWorkspace(t)
	ctx := context.Background()
	store, err := runstore.Open(filepath.Join(ws.Root, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	seed := filepath.Join(ws.Root, "page.yml")
	require.NoError(t, os.WriteFile(seed, []byte("hero:\n  headline: From seed\n"), 0o644))
	cfg.Deploy.SeedPath = "page.yml"

	seeded, err := seedPage(ctx, store)
	require.NoError(t, err)
	assert.True(t, seeded)
	doc, err := (&pageconfig.Repository{KV: store}).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "From seed", doc["hero"].(map[string]any)["headline"])

	seeded, err = seedPage(ctx, store)
	require.NoError(t, err)
	assert.False(t, seeded, "an existing page is never reseeded")

	require.NoError(t, store.SetKV(ctx, worldctx.KeyBudgetTotal, "120"))
	require.NoError(t, seedBudget(ctx, store))
	total, err := store.GetFloat(ctx, worldctx.KeyBudgetTotal)
	require.NoError(t, err)
	assert.Equal(t, 120.0, total)
	daily, err := store.GetFloat(ctx, worldctx.KeyBudgetDailyCap)
	require.NoError(t, err)
	assert.Equal(t, cfg.Budget.DailyCap, daily)
}

func TestLoadPersonasRejectsUnknownOverride(t *testing.T) {
	useWorkspace(t)
	require.NoError(t, os.WriteFile(ws.PersonasPath, []byte("personas:\n  oracle:\n    max_tokens: 10\n"), 0o644))

	_, err := loadPersonas()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}
