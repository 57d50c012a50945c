package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestLogEventAndRecent(t *testing.T) {
	ctx := context.Background()
	l := NewLogger(filepath.Join(t.TempDir(), "nested", "audit.sqlite"))

	if err := l.LogEvent(ctx, "pipeline", EventRunStarted, map[string]any{"run_number": 1}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := l.LogEvent(ctx, "engagement", EventMentionReplied, map[string]string{"mention_id": "m-1"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := l.LogEvent(ctx, "pipeline", EventRunFinished, map[string]any{"decision": "hold"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	events, err := l.Recent(ctx, "pipeline", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 pipeline events, got %d", len(events))
	}
	if events[0].Type != EventRunFinished {
		t.Fatalf("newest first expected, got %s", events[0].Type)
	}
	var payload map[string]string
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil || payload["decision"] != "hold" {
		t.Fatalf("unexpected payload %s (%v)", events[0].Payload, err)
	}
	if events[0].TS.IsZero() {
		t.Fatal("timestamp not parsed")
	}

	all, err := l.Recent(ctx, "", 1)
	if err != nil || len(all) != 1 {
		t.Fatalf("Recent all: %v %d", err, len(all))
	}
}

func TestLogEventEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.sqlite")
	t.Setenv("PAGEPILOT_AUDIT_DB", path)

	var l *Logger
	if err := l.LogEvent(context.Background(), "cli", EventJobFinished, nil); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	events, err := NewLogger(path).Recent(context.Background(), "cli", 5)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected event via env path: %v %d", err, len(events))
	}
}
