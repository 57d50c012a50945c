package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveAndEnsureDirs(t *testing.T) {
	root := t.TempDir()
	ws, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := ws.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{ws.SnapshotsDir, ws.CapturesDir, ws.StateDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if got := ws.RunDir(7); got != filepath.Join(root, "artifacts", "runs", "run-0007") {
		t.Fatalf("RunDir = %s", got)
	}
}

func TestResolveRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(path); err == nil {
		t.Fatal("expected error for non-directory root")
	}
	if _, err := Resolve("  "); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestResolvePath(t *testing.T) {
	ws := New("/srv/pagepilot")
	got, err := ws.ResolvePath("metrics/manual.yml")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got != "/srv/pagepilot/metrics/manual.yml" {
		t.Fatalf("ResolvePath = %s", got)
	}
	got, _ = ws.ResolvePath("/etc/x")
	if got != "/etc/x" {
		t.Fatalf("absolute path changed: %s", got)
	}
	if got, _ := ws.ResolvePath(""); got != "" {
		t.Fatalf("empty path = %q", got)
	}
	if _, err := ExpandHome("~bob/x"); err == nil {
		t.Fatal("expected unsupported expansion error")
	}
}
