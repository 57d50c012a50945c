package integration_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pagepilot/integration/harness"
)

func initWorkspace(t *testing.T, binPath string) string {
	t.Helper()
	workspace := t.TempDir()
	harness.MustRun(t, binPath, t.TempDir(), "init", "--workspace", workspace)
	return workspace
}

func TestCLISmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	runDir := t.TempDir()

	res := harness.MustRun(t, binPath, runDir, "--help")
	for _, want := range []string{"recurring decision pipeline over a landing page", "Usage:", "daemon"} {
		if !strings.Contains(res.Output(), want) {
			t.Fatalf("expected help output to include %q\n%s", want, res.Output())
		}
	}

	workspace := initWorkspace(t, binPath)

	res = harness.MustRun(t, binPath, runDir, "run", "--workspace", workspace, "--no-wait")
	var result struct {
		RunNumber int    `json:"run_number"`
		Status    string `json:"status"`
		Decision  string `json:"decision"`
		Changes   []struct {
			Path  string `json:"path"`
			Value any    `json:"value"`
		} `json:"changes"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &result); err != nil {
		t.Fatalf("decode run result: %v\n%s", err, res.Stdout)
	}
	if result.RunNumber != 1 || result.Status != "completed" || result.Decision != "approved" {
		t.Fatalf("unexpected run result: %+v", result)
	}
	if len(result.Changes) != 1 || result.Changes[0].Path != "hero.headline" {
		t.Fatalf("unexpected changes: %+v", result.Changes)
	}

	diffPath := filepath.Join(workspace, "artifacts", "runs", "run-0001", "changes.diff")
	diff, err := os.ReadFile(diffPath)
	if err != nil {
		t.Fatalf("diff artifact not written at %s: %v", diffPath, err)
	}
	if !strings.Contains(string(diff), "Launch your page in minutes") {
		t.Fatalf("diff does not show the new headline:\n%s", diff)
	}

	requireAuditEvents(t, filepath.Join(workspace, "state", "audit.sqlite"), []string{
		"run_started",
		"stage_completed",
		"deployed",
		"run_finished",
	})

	res = harness.MustRun(t, binPath, runDir, "runs", "list", "--workspace", workspace)
	if !strings.Contains(res.Stdout, "Runs (last 1):") || !strings.Contains(res.Stdout, "#1 ") {
		t.Fatalf("unexpected runs list:\n%s", res.Stdout)
	}

	res = harness.MustRun(t, binPath, runDir, "runs", "show", "1", "--stages", "--workspace", workspace)
	var run struct {
		Status string `json:"status"`
		Stages []struct {
			Stage string `json:"stage"`
		} `json:"stages"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &run); err != nil {
		t.Fatalf("decode run: %v\n%s", err, res.Stdout)
	}
	stages := make([]string, 0, len(run.Stages))
	for _, s := range run.Stages {
		stages = append(stages, s.Stage)
	}
	for _, want := range []string{"analyst", "optimizer.1", "critic.1", "aligned", "decision", "narrator"} {
		if !strings.Contains(strings.Join(stages, ","), want) {
			t.Fatalf("stage %s missing from %v", want, stages)
		}
	}

	res = harness.Run(t, binPath, runDir, "runs", "show", "7", "--workspace", workspace)
	if res.Code == 0 || !strings.Contains(res.Stderr, "run not found") {
		t.Fatalf("expected missing run error, got code %d\n%s", res.Code, res.Stderr)
	}

	res = harness.MustRun(t, binPath, runDir, "config", "show", "--workspace", workspace)
	if !strings.Contains(res.Stdout, "max_iterations: 3") {
		t.Fatalf("unexpected config output:\n%s", res.Stdout)
	}
	res = harness.RunWithEnv(t, binPath, runDir, map[string]string{
		"PAGEPILOT_BACKEND": "anthropic",
		"ANTHROPIC_API_KEY": "sk-secret",
	}, "config", "show", "--workspace", workspace)
	if res.Code != 0 || strings.Contains(res.Stdout, "sk-secret") || !strings.Contains(res.Stdout, "name: anthropic") {
		t.Fatalf("config show should apply env overrides and redact the key:\n%s", res.Output())
	}
}

func TestEngagementSmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	runDir := t.TempDir()
	workspace := initWorkspace(t, binPath)

	mentions := `[{"id":"m-1","platform":"x","author":"ana","text":"Love the new page!"}]`
	if err := os.WriteFile(filepath.Join(workspace, "mentions.json"), []byte(mentions), 0o644); err != nil {
		t.Fatal(err)
	}

	res := harness.MustRun(t, binPath, runDir, "mentions", "--workspace", workspace)
	if !strings.Contains(res.Stdout, "m-1 [x] replied") {
		t.Fatalf("unexpected mentions output:\n%s", res.Stdout)
	}
	res = harness.MustRun(t, binPath, runDir, "mentions", "--workspace", workspace)
	if !strings.Contains(res.Stdout, "m-1 [x] duplicate") {
		t.Fatalf("mention answered twice:\n%s", res.Stdout)
	}
	requireAuditEvents(t, filepath.Join(workspace, "state", "audit.sqlite"), []string{"mention_replied"})

	res = harness.MustRun(t, binPath, runDir, "growth", "--workspace", workspace)
	if !strings.Contains(res.Stdout, "Growth actions: 1") || !strings.Contains(res.Stdout, "post on x: sent") {
		t.Fatalf("unexpected growth output:\n%s", res.Stdout)
	}
}
