package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"pagepilot/internal/audit"
	"pagepilot/internal/config"
	"pagepilot/internal/pageconfig"
	"pagepilot/internal/runstore"
	"pagepilot/internal/workspace"
	"pagepilot/internal/worldctx"
)

var initSeedPath string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new workspace",
	Long: `Creates the workspace layout, writes a default pagepilot.yml, seeds the page
configuration and the budget, and adds metric and mention templates. Existing
files and stored values are left alone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd.Context())
	},
}

func init() {
	initCmd.Flags().StringVar(&initSeedPath, "seed", "", "YAML or JSON page config to seed (default: deploy.seed_path)")
}

func runInit(ctx context.Context) (err error) {
	if err := os.MkdirAll(ws.Root, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	resolved, err := workspace.Resolve(ws.Root)
	if err != nil {
		return err
	}
	ws = resolved
	if err := ws.EnsureDirs(); err != nil {
		return err
	}

	auditLog := audit.NewLogger(ws.AuditDBPath)
	_ = auditLog.LogEvent(ctx, "cli", "workspace_init_started", map[string]any{"workspace": ws.Root})
	defer func() {
		payload := map[string]any{"workspace": ws.Root}
		if err != nil {
			payload["error"] = err.Error()
		}
		_ = auditLog.LogEvent(context.WithoutCancel(ctx), "cli", "workspace_init_finished", payload)
	}()

	defaults, err := config.Default().Encode()
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := writeFileIfMissing(ws.ConfigPath, string(defaults)); err != nil {
		return err
	}
	if err := writeFileIfMissing(filepath.Join(ws.MetricsDir, "manual.yml"), manualMetricsTemplate); err != nil {
		return err
	}
	mentions, err := mentionsPath()
	if err != nil {
		return err
	}
	if mentions != "" {
		if err := writeFileIfMissing(mentions, mentionsTemplate); err != nil {
			return err
		}
	}

	store, err := runstore.Open(ws.StateDBPath)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	seeded, err := seedPage(ctx, store)
	if err != nil {
		return err
	}
	if err := seedBudget(ctx, store); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Initialized workspace: %s\n", ws.Root)
	if seeded {
		fmt.Fprintln(os.Stdout, "Seeded page configuration")
	}
	fmt.Fprintln(os.Stdout, "Next steps:")
	fmt.Fprintf(os.Stdout, "  edit %s\n", filepath.Join(ws.MetricsDir, "manual.yml"))
	fmt.Fprintf(os.Stdout, "  %s run --workspace %s\n", appName, ws.Root)
	fmt.Fprintf(os.Stdout, "  %s daemon install --workspace %s\n", appName, ws.Root)
	return nil
}

// seedPage stores the initial page config unless one is already stored.
func seedPage(ctx context.Context, store *runstore.Store) (bool, error) {
	pages := &pageconfig.Repository{KV: store}
	current, err := pages.Load(ctx)
	if err != nil {
		return false, err
	}
	if len(current) > 0 {
		return false, nil
	}

	doc := defaultPage()
	seedPath := initSeedPath
	if seedPath == "" {
		seedPath = cfg.Deploy.SeedPath
	}
	if seedPath != "" {
		resolved, err := ws.ResolvePath(seedPath)
		if err != nil {
			return false, err
		}
		if doc, err = pageconfig.LoadSeed(resolved); err != nil {
			return false, err
		}
	}
	if err := pages.Save(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

// seedBudget writes the configured budget figures unless they are already set.
func seedBudget(ctx context.Context, store *runstore.Store) error {
	for key, value := range map[string]float64{
		worldctx.KeyBudgetTotal:    cfg.Budget.Total,
		worldctx.KeyBudgetDailyCap: cfg.Budget.DailyCap,
	} {
		existing, err := store.GetKV(ctx, key)
		if err != nil {
			return err
		}
		if existing != "" {
			continue
		}
		if err := store.SetKV(ctx, key, strconv.FormatFloat(value, 'f', -1, 64)); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	return nil
}

func defaultPage() pageconfig.Document {
	return pageconfig.Document{
		"hero": map[string]any{
			"headline":    "Your product, explained in one line",
			"subheadline": "Say who it is for and what changes for them.",
			"cta":         map[string]any{"label": "Get started", "href": "#signup"},
		},
		"sections": []any{
			map[string]any{"id": "features", "title": "Features"},
			map[string]any{"id": "pricing", "title": "Pricing"},
		},
	}
}

func writeFileIfMissing(path string, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

const manualMetricsTemplate = `metrics:
  - key: landing.visitors
    value: 0
    unit: count
    evidence:
      - init:seed
  - key: landing.conversion_rate
    value: 0
    unit: ratio
    evidence:
      - init:seed
`

const mentionsTemplate = `[]
`
