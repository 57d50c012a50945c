package integration_test

import (
	"strings"
	"testing"

	"pagepilot/integration/harness"
)

func TestDaemonQueueSmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	runDir := t.TempDir()
	workspace := initWorkspace(t, binPath)

	res := harness.MustRun(t, binPath, runDir, "daemon", "enqueue", "pipeline_run",
		"--at", "2030-01-02T09:00", "--workspace", workspace)
	if !strings.Contains(res.Stdout, "Enqueued job: pipeline_run_2030-01-0") {
		t.Fatalf("unexpected enqueue output:\n%s", res.Stdout)
	}
	res = harness.MustRun(t, binPath, runDir, "daemon", "enqueue", "pipeline_run",
		"--at", "2030-01-02T09:00", "--workspace", workspace)
	if !strings.Contains(res.Stdout, "Job already exists:") {
		t.Fatalf("duplicate slot was enqueued:\n%s", res.Stdout)
	}

	res = harness.MustRun(t, binPath, runDir, "daemon", "enqueue", "mentions_check",
		"--payload-json", `{"trigger":"manual"}`, "--workspace", workspace)
	if !strings.Contains(res.Stdout, "Enqueued job: mentions_check_manual_") {
		t.Fatalf("unexpected manual enqueue output:\n%s", res.Stdout)
	}

	res = harness.Run(t, binPath, runDir, "daemon", "enqueue", "report_export", "--workspace", workspace)
	if res.Code == 0 || !strings.Contains(res.Stderr, "unknown job type") {
		t.Fatalf("expected unknown job type error, got code %d\n%s", res.Code, res.Stderr)
	}

	res = harness.MustRun(t, binPath, runDir, "daemon", "status", "--workspace", workspace)
	for _, want := range []string{"Running jobs: 0", "Queued jobs (next 2):", "[pipeline_run]", "[mentions_check]"} {
		if !strings.Contains(res.Stdout, want) {
			t.Fatalf("status output missing %q:\n%s", want, res.Stdout)
		}
	}
}
