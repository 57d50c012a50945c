package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagepilot/internal/engagement"
	"pagepilot/internal/model"
	"pagepilot/internal/pipeline"
	"pagepilot/internal/workspace"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "daemon.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueUniqueAndClaim(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	id, created, err := store.EnqueueUnique(ctx, JobPipelineRun, at, map[string]any{})
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	again, created, err := store.EnqueueUnique(ctx, JobPipelineRun, at, map[string]any{})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created || again != id {
		t.Fatalf("expected duplicate %s to be ignored, got %s created=%v", id, again, created)
	}

	job, err := store.ClaimNext(ctx, at.Add(-time.Minute), "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim early: %v", err)
	}
	if job != nil {
		t.Fatalf("claimed a job before it was due: %s", job.ID)
	}

	job, err = store.ClaimNext(ctx, at, "w1", time.Minute)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	if job.Status != JobRunning || job.LeaseOwner != "w1" || job.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", job)
	}

	if next, _ := store.ClaimNext(ctx, at.Add(30*time.Second), "w2", time.Minute); next != nil {
		t.Fatalf("leased job claimed twice")
	}
	stolen, err := store.ClaimNext(ctx, at.Add(2*time.Minute), "w2", time.Minute)
	if err != nil || stolen == nil {
		t.Fatalf("expired lease not reclaimed: job=%v err=%v", stolen, err)
	}
	if stolen.LeaseOwner != "w2" || stolen.Attempts != 2 {
		t.Fatalf("unexpected reclaimed job: %+v", stolen)
	}

	if err := store.Succeed(ctx, id, map[string]int{"n": 1}); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	done, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != JobSucceeded || done.FinishedAt == nil || done.ResultJSON != `{"n":1}` {
		t.Fatalf("unexpected finished job: %+v", done)
	}

	if _, err := store.GetJob(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	s, err := NewScheduler(store, "UTC", Schedule{
		PipelineHour:  9,
		MentionsEvery: 30 * time.Minute,
		GrowthEvery:   6 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	start := time.Date(2026, 3, 14, 8, 50, 0, 0, time.UTC)
	if err := s.Tick(ctx, start); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if jobs, _ := store.ListJobs(ctx, 10); len(jobs) != 0 {
		t.Fatalf("first tick should only set the watermark, got %d jobs", len(jobs))
	}

	if err := s.Tick(ctx, start.Add(15*time.Minute)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	jobs, err := store.ListByStatus(ctx, JobQueued, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	types := map[string]time.Time{}
	for _, j := range jobs {
		types[j.Type] = j.ScheduledAt
	}
	if got := types[JobPipelineRun]; !got.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("pipeline_run scheduled at %v", got)
	}
	if got := types[JobMentionsCheck]; !got.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("mentions_check scheduled at %v", got)
	}
	if _, ok := types[JobGrowthEngage]; ok {
		t.Errorf("growth_engage should not fire before 12:00")
	}

	// Three days of downtime coalesce into one pipeline run.
	if err := s.Tick(ctx, start.Add(72*time.Hour)); err != nil {
		t.Fatalf("tick after downtime: %v", err)
	}
	jobs, _ = store.ListByStatus(ctx, JobQueued, 50)
	count := 0
	for _, j := range jobs {
		if j.Type == JobPipelineRun {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected 2 pipeline runs after downtime, got %d", count)
	}
}

func TestWatchFile(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	path := filepath.Join(t.TempDir(), "mentions.json")

	changed, err := watchFile(ctx, store, path, "k")
	if err != nil || changed {
		t.Fatalf("missing file: changed=%v err=%v", changed, err)
	}
	if err := os.WriteFile(path, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if changed, _ := watchFile(ctx, store, path, "k"); !changed {
		t.Error("expected change on first sight")
	}
	if changed, _ := watchFile(ctx, store, path, "k"); changed {
		t.Error("expected no change")
	}
	if err := os.WriteFile(path, []byte(`[{"id":"1"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if changed, _ := watchFile(ctx, store, path, "k"); !changed {
		t.Error("expected change after edit")
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if changed, _ := watchFile(ctx, store, path, "k"); !changed {
		t.Error("expected change after delete")
	}
	if changed, _ := watchFile(ctx, store, path, "k"); changed {
		t.Error("deletion reported twice")
	}
}

type fakePipeline struct {
	calls int
	err   error
}

func (f *fakePipeline) RunOnce(ctx context.Context) (*pipeline.RunResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.RunResult{RunID: "r1", RunNumber: f.calls, Status: model.RunCompleted, Decision: model.DecisionHold}, nil
}

type fakeMentions struct{ calls int }

func (f *fakeMentions) Check(ctx context.Context) ([]engagement.MentionOutcome, error) {
	f.calls++
	return []engagement.MentionOutcome{{MentionID: "m1", Outcome: engagement.OutcomeReplied}}, nil
}

func newTestDaemon(t *testing.T, svc Services) *Daemon {
	t.Helper()
	ws := workspace.New(t.TempDir())
	d, err := New(Config{
		Workspace: ws,
		StorePath: ws.DaemonDBPath,
		TimeZone:  "UTC",
		Services:  svc,
	})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestStepExecutesJobs(t *testing.T) {
	ctx := context.Background()
	pipe := &fakePipeline{}
	d := newTestDaemon(t, Services{Pipeline: pipe})

	if _, err := d.Store.Enqueue(ctx, JobPipelineRun, map[string]any{"trigger": "manual"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := d.Step(ctx, time.Now().Add(time.Second))
	if err != nil || job == nil {
		t.Fatalf("step: job=%v err=%v", job, err)
	}
	if pipe.calls != 1 {
		t.Fatalf("pipeline called %d times", pipe.calls)
	}
	got, _ := d.Store.GetJob(ctx, job.ID)
	if got.Status != JobSucceeded || !strings.Contains(got.ResultJSON, `"decision":"hold"`) {
		t.Fatalf("unexpected job: %+v", got)
	}

	pipe.err = errors.New("locked")
	if _, err := d.Store.Enqueue(ctx, JobPipelineRun, nil); err != nil {
		t.Fatal(err)
	}
	job, err = d.Step(ctx, time.Now().Add(time.Second))
	if err == nil {
		t.Fatal("expected handler error")
	}
	got, _ = d.Store.GetJob(ctx, job.ID)
	if got.Status != JobFailed || !strings.Contains(got.ResultJSON, "locked") {
		t.Fatalf("unexpected job: %+v", got)
	}

	if _, err := d.Store.Enqueue(ctx, JobGrowthEngage, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Step(ctx, time.Now().Add(time.Second)); err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Fatalf("expected missing handler error, got %v", err)
	}
}

func TestWatchTickEnqueuesMentionsCheck(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mentions.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	mentions := &fakeMentions{}
	d := newTestDaemon(t, Services{Mentions: mentions, MentionsPath: path})

	if _, err := d.Handlers[JobWatchTick](ctx, &Job{ID: "w"}); err != nil {
		t.Fatalf("watch tick: %v", err)
	}
	queued, _ := d.Store.ListByStatus(ctx, JobQueued, 10)
	if len(queued) != 1 || queued[0].Type != JobMentionsCheck {
		t.Fatalf("expected one mentions_check, got %+v", queued)
	}
	if _, err := d.Step(ctx, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("step: %v", err)
	}
	if mentions.calls != 1 {
		t.Fatalf("mentions checked %d times", mentions.calls)
	}
}

func TestGeneratePlist(t *testing.T) {
	ws := workspace.New("/tmp/site & co")
	plist, err := GeneratePlist(ws, "/usr/local/bin/pagepilot")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, want := range []string{
		"<string>" + PlistLabel(ws.Root) + "</string>",
		"<string>/usr/local/bin/pagepilot</string>",
		"<string>/tmp/site &amp; co</string>",
		"pagepilot.log",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
	if !strings.HasPrefix(PlistLabel(ws.Root), "dev.pagepilot.") || len(WorkspaceHash(ws.Root)) != 8 {
		t.Errorf("unexpected label %s", PlistLabel(ws.Root))
	}
}
