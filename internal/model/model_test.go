package model

import (
	"encoding/json"
	"testing"
)

func TestProposalSetValidate_Valid(t *testing.T) {
	set := ProposalSet{Proposals: []Proposal{
		{
			ID:          "p1",
			Description: "Sharpen the hero headline",
			Changes: []ChangeOp{
				{Path: "hero.headline", Action: ActionModify, Value: "Ship faster"},
				{Path: "sections", Action: ActionReorder, Value: []any{float64(1), float64(0)}},
				{Path: "footer.banner", Action: ActionRemove},
			},
			Hypothesis:     "Clearer headline lifts signups",
			RequestedSpend: 10,
			Boldness:       4,
			ExpectedMetric: &ExpectedMetric{Key: "signups", Direction: "increase"},
		},
	}}
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestProposalSetValidate_Rejects(t *testing.T) {
	base := func() Proposal {
		return Proposal{ID: "p1", Description: "d", Changes: []ChangeOp{}}
	}
	cases := map[string]ProposalSet{
		"empty":           {},
		"duplicate ids":   {Proposals: []Proposal{base(), base()}},
		"missing changes": {Proposals: []Proposal{{ID: "p1", Description: "d"}}},
		"negative spend": {Proposals: []Proposal{func() Proposal {
			p := base()
			p.RequestedSpend = -1
			return p
		}()}},
		"boldness range": {Proposals: []Proposal{func() Proposal {
			p := base()
			p.Boldness = 11
			return p
		}()}},
		"unknown action": {Proposals: []Proposal{func() Proposal {
			p := base()
			p.Changes = []ChangeOp{{Path: "a", Action: "explode"}}
			return p
		}()}},
		"modify without value": {Proposals: []Proposal{func() Proposal {
			p := base()
			p.Changes = []ChangeOp{{Path: "a", Action: ActionModify}}
			return p
		}()}},
		"reorder with strings": {Proposals: []Proposal{func() Proposal {
			p := base()
			p.Changes = []ChangeOp{{Path: "a", Action: ActionReorder, Value: []any{"x"}}}
			return p
		}()}},
	}
	for name, set := range cases {
		set := set
		t.Run(name, func(t *testing.T) {
			if err := set.Validate(); err == nil {
				t.Errorf("Validate() should fail for %s", name)
			}
		})
	}
}

func TestCritiqueSeverityFor(t *testing.T) {
	c := &Critique{
		Recommendation: RecommendApprove,
		Assessments: []Assessment{
			{ProposalID: "a", Severity: SeverityFatal},
			{ProposalID: "b", Severity: SeverityMinor},
		},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := c.SeverityFor("a"); got != SeverityFatal {
		t.Errorf("SeverityFor(a) = %q", got)
	}
	if got := c.SeverityFor("missing"); got != "" {
		t.Errorf("SeverityFor(missing) = %q, want empty", got)
	}
	var nilCritique *Critique
	if got := nilCritique.SeverityFor("a"); got != "" {
		t.Errorf("nil critique SeverityFor = %q", got)
	}
}

func TestBudgetVerdictReduceRequiresSpend(t *testing.T) {
	v := BudgetVerdict{Verdict: BudgetReduce}
	if err := v.Validate(); err == nil {
		t.Fatal("reduce without approved_spend should fail")
	}
	spend := 25.0
	v.ApprovedSpend = &spend
	if err := v.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestDecisionValid(t *testing.T) {
	for _, d := range Decisions() {
		if !d.Valid() {
			t.Errorf("%q should be valid", d)
		}
	}
	if Decision("maybe").Valid() {
		t.Error("unknown decision should be invalid")
	}
}

func TestRunReduce(t *testing.T) {
	raw := []byte(`{"id":"r","run_number":3,"status":"completed","decision":"approved",
		"started_at":"2026-01-02T00:00:00Z","finished_at":"2026-01-02T00:05:00Z",
		"metrics_before":{"signups":10},"metrics_after":{"signups":12},
		"aligned":{"proposal":{"id":"p","description":"d","changes":[],"hypothesis":"h",
		"requested_spend":0,"boldness":1,"expected_metric":{"key":"signups","direction":"increase"}},
		"iterations":1,"converged":true,"exhausted":false},"spend":0}`)
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	entry := run.Reduce()
	if entry.RunNumber != 3 || entry.Decision != DecisionApproved {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Expected == nil || entry.Expected.Key != "signups" {
		t.Fatalf("expected metric not carried: %+v", entry.Expected)
	}
	if entry.FinishedAt.IsZero() {
		t.Fatal("finished_at not carried")
	}
}
