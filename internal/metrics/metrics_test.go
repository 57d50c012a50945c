package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagepilot/internal/model"
)

var asOf = time.Date(2026, 3, 9, 15, 30, 0, 0, time.UTC)

func TestAnalyticsProviderCollect_MissingFile(t *testing.T) {
	t.Parallel()

	p := &AnalyticsProvider{ReportPath: filepath.Join(t.TempDir(), "missing.json"), AsOf: asOf}
	points, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if points != nil {
		t.Fatalf("expected nil points, got %#v", points)
	}
}

func TestAnalyticsProviderCollect_ParsesPoints(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "analytics.json")
	if err := os.WriteFile(path, []byte(`{
  "period": "2026-03-08",
  "metrics": [
    {"key": "visitors", "value": 1200},
    {"key": "signups", "value": 36, "unit": "count", "dimensions": {"channel": " organic "}}
  ]
}`), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}

	p := &AnalyticsProvider{ReportPath: path, AsOf: asOf}
	points, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	points = CanonicalizePoints(points)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d: %#v", len(points), points)
	}
	signups := points[0]
	if signups.Key != "signups" || signups.Source != "analytics" {
		t.Fatalf("unexpected point: %#v", signups)
	}
	if signups.Timestamp != "2026-03-09T00:00:00Z" {
		t.Fatalf("unexpected timestamp: %q", signups.Timestamp)
	}
	if len(signups.Dimensions) != 1 || signups.Dimensions[0] != (Dimension{Key: "channel", Value: "organic"}) {
		t.Fatalf("unexpected dimensions: %#v", signups.Dimensions)
	}
	if len(signups.Evidence) != 1 || signups.Evidence[0] != "period:2026-03-08" {
		t.Fatalf("unexpected evidence: %#v", signups.Evidence)
	}
}

func TestManualProviderCollect_TopLevelList(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "manual.yml")
	if err := os.WriteFile(path, []byte("- key: waitlist\n  value: 14\n- key: ''\n  value: 3\n"), 0o644); err != nil {
		t.Fatalf("write manual: %v", err)
	}
	p := &ManualProvider{Path: path, AsOf: asOf}
	points, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(points) != 1 || points[0].Key != "waitlist" || points[0].Value != 14 {
		t.Fatalf("unexpected points: %#v", points)
	}
}

func TestCollectWindowDegradesOnProviderFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{ "metrics": [`), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}
	good := filepath.Join(dir, "manual.yml")
	if err := os.WriteFile(good, []byte("metrics:\n  - key: signups\n    value: 10\n"), 0o644); err != nil {
		t.Fatalf("write manual: %v", err)
	}

	w, err := CollectWindow(context.Background(), []Provider{
		&AnalyticsProvider{ReportPath: bad, AsOf: asOf},
		&ManualProvider{Path: good, AsOf: asOf},
	}, asOf)
	if err == nil {
		t.Fatal("expected joined provider error")
	}
	if v, ok := w.Value("signups"); !ok || v != 10 {
		t.Fatalf("healthy provider points should survive, got %v %v", v, ok)
	}
}

func TestWindowSummarySkipsDimensionedPoints(t *testing.T) {
	w := Window{Points: []MetricPoint{
		{Key: "signups", Value: 5, Source: "manual"},
		{Key: "signups", Value: 7, Source: "analytics"},
		{Key: "signups", Value: 2, Source: "analytics", Dimensions: []Dimension{{Key: "channel", Value: "ads"}}},
	}}
	summary := w.Summary()
	if len(summary) != 1 || summary["signups"] != 7 {
		t.Fatalf("unexpected summary: %#v", summary)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := Window{AsOf: AsOfTimestamp(asOf), Points: []MetricPoint{{Key: "visitors", Value: 3, Source: "manual", Timestamp: AsOfTimestamp(asOf)}}}
	path := SnapshotPath(dir, 7, "before")
	if err := WriteSnapshot(path, 7, "before", w); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if err := WriteSnapshot(SnapshotPath(dir, 12, "before"), 12, "before", w); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.RunNumber != 7 || snap.Window().Summary()["visitors"] != 3 {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
	if filepath.Base(path) != "run-0007-before.json" {
		t.Fatalf("snapshot path = %s", path)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected only the two snapshots, found %d entries", len(entries))
	}
}

func TestCanonicalizePointsDeterministic(t *testing.T) {
	c := CanonicalizePoints([]MetricPoint{
		{Key: "b", Value: 2, Source: "x", Evidence: []string{"  e2  ", "e1", "e1"}},
		{Key: "a", Value: 1, Source: "x", Dimensions: []Dimension{{Key: "z", Value: "9"}, {Key: "a", Value: "1"}}},
	})
	if c[0].Key != "a" {
		t.Fatalf("first key = %q", c[0].Key)
	}
	if len(c[1].Evidence) != 2 || c[1].Evidence[0] != "e1" {
		t.Fatalf("evidence not canonicalized: %#v", c[1].Evidence)
	}
	if c[0].Dimensions[0].Key != "a" {
		t.Fatalf("dimensions not sorted: %#v", c[0].Dimensions)
	}
}

func TestComputeTrackRecord(t *testing.T) {
	up := &model.ExpectedMetric{Key: "signups", Direction: "increase"}
	down := &model.ExpectedMetric{Key: "bounce", Direction: "decrease"}
	history := []model.HistoryEntry{
		{RunNumber: 4, Decision: model.DecisionApproved, Expected: up,
			MetricsBefore: map[string]float64{"signups": 10}, MetricsAfter: map[string]float64{"signups": 12}},
		{RunNumber: 3, Decision: model.DecisionApproved, Expected: down,
			MetricsBefore: map[string]float64{"bounce": 0.4}, MetricsAfter: map[string]float64{"bounce": 0.5}},
		{RunNumber: 2, Decision: model.DecisionHold, Expected: up,
			MetricsBefore: map[string]float64{"signups": 1}, MetricsAfter: map[string]float64{"signups": 9}},
		{RunNumber: 1, Decision: model.DecisionApproved, Expected: up,
			MetricsBefore: map[string]float64{"signups": 1}},
	}
	record := ComputeTrackRecord(history)
	if record.Evaluated != 2 || record.Correct != 1 || record.Accuracy != 0.5 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !record.Entries[0].Correct || record.Entries[1].Correct {
		t.Fatalf("unexpected entries: %+v", record.Entries)
	}
}

func TestManualProviderCollect_Shapes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := map[string]struct {
		body    string
		wantErr bool
	}{
		"empty":         {body: ""},
		"scalar":        {body: "metrics: 5\n", wantErr: true},
		"no metrics":    {body: "other: []\n", wantErr: true},
		"empty metrics": {body: "metrics: []\n"},
	}
	for name, tc := range cases {
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yml")
		if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
			t.Fatal(err)
		}
		points, err := (&ManualProvider{Path: path, AsOf: asOf}).Collect(context.Background())
		if tc.wantErr != (err != nil) {
			t.Errorf("%s: err = %v, wantErr %v", name, err, tc.wantErr)
		}
		if len(points) != 0 {
			t.Errorf("%s: unexpected points %#v", name, points)
		}
	}
}
