package persona

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagepilot/internal/adapters"
	"pagepilot/internal/decision"
	"pagepilot/internal/model"
	"pagepilot/internal/worldctx"
)

func TestDefaultsValidate(t *testing.T) {
	r := Default()
	check := func(name string, err error) {
		t.Helper()
		assert.NoError(t, err, "default for %s must satisfy its own schema", name)
	}
	a := r.Analyst.Default()
	check(Analyst, a.Validate())
	o := r.Optimizer.Default()
	check(Optimizer, o.Validate())
	c := r.Critic.Default()
	check(Critic, c.Validate())
	m := r.Mission.Default()
	check(Mission, m.Validate())
	d := r.Decision.Default()
	check(Decision, d.Validate())
	b := r.Budget.Default()
	check(Budget, b.Validate())
	ct := r.Content.Default()
	check(Content, ct.Validate())
	q := r.QA.Default()
	check(QA, q.Validate())
	n := r.Narrator.Default()
	check(Narrator, n.Validate())
	rs := r.Responder.Default()
	check(Responder, rs.Validate())
	g := r.Growth.Default()
	check(Growth, g.Validate())

	assert.Equal(t, model.VerdictHold, d.Verdict)
	assert.Equal(t, model.BudgetBlock, b.Verdict)
	assert.Equal(t, model.ContentNotPostable, ct.Verdict)
	assert.Equal(t, model.QANotDeployable, q.Verdict)
	assert.Zero(t, m.Score)
	require.Len(t, o.Proposals, 1)
	assert.Equal(t, model.HoldSteadyID, o.Proposals[0].ID)
}

func TestExecuteRecordsAndCallsHook(t *testing.T) {
	ctx := context.Background()
	backend := adapters.NewMock(nil)
	wc := worldctx.New("run-1", 1, time.Now())

	var hooked []string
	r := &Runner{
		Backend: backend,
		OnStage: func(_ context.Context, stage string, res StageResult) error {
			hooked = append(hooked, stage)
			assert.False(t, res.Defaulted)
			return nil
		},
	}
	out, err := Execute(ctx, r, Default().Analyst, wc, "", nil)
	require.NoError(t, err)
	assert.True(t, out.Ok)

	got, ok := worldctx.Lookup[model.Analysis](wc, Analyst)
	require.True(t, ok)
	assert.Equal(t, out.Value.Summary, got.Summary)
	assert.Equal(t, []string{Analyst}, hooked)
}

func TestExecuteNonJSONFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	backend := adapters.NewMock(map[string][]string{Decision: {"I think we should ship it!"}})
	wc := worldctx.New("run-1", 1, time.Now())

	out, err := Execute(ctx, &Runner{Backend: backend}, Default().Decision, wc, "", map[string]any{"aligned": model.HoldSteadyProposal()})
	require.NoError(t, err)
	assert.False(t, out.Ok)
	assert.Equal(t, decision.ReasonParseError, out.Reason)
	assert.Equal(t, model.VerdictHold, out.Value.Verdict)

	rec, ok := wc.Output(Decision)
	require.True(t, ok)
	assert.True(t, rec.Defaulted)
	assert.Equal(t, string(decision.ReasonParseError), rec.Reason)
}

func TestExecuteRejectsDuplicateStage(t *testing.T) {
	ctx := context.Background()
	wc := worldctx.New("run-1", 1, time.Now())
	r := &Runner{Backend: adapters.NewMock(nil)}

	_, err := Execute(ctx, r, Default().Critic, wc, "critic.1", nil)
	require.NoError(t, err)
	_, err = Execute(ctx, r, Default().Critic, wc, "critic.1", nil)
	assert.ErrorIs(t, err, worldctx.ErrStageRecorded)
}

func TestExecuteHookErrorIsReturned(t *testing.T) {
	boom := errors.New("disk full")
	r := &Runner{
		Backend: adapters.NewMock(nil),
		OnStage: func(context.Context, string, StageResult) error { return boom },
	}
	_, err := Execute(context.Background(), r, Default().QA, worldctx.New("run-1", 1, time.Now()), "", nil)
	assert.ErrorIs(t, err, boom)
}

func TestRenderIncludesInputsAndShape(t *testing.T) {
	wc := worldctx.New("run-1", 1, time.Now())
	wc.Budget = worldctx.Budget{Total: 500, DailyCap: 40}
	require.NoError(t, wc.Record(Analyst, model.Analysis{Summary: "conversion is flat"}, false, ""))

	d := Default().Optimizer
	prompt := Render(d.Name, d.Role, d.Shape, d.Inputs, wc, map[string]any{"critique": "tighten the copy"})

	assert.Contains(t, prompt, "## Role")
	assert.Contains(t, prompt, "### analyst")
	assert.Contains(t, prompt, "conversion is flat")
	assert.Contains(t, prompt, `"daily_remaining": 40`)
	assert.Contains(t, prompt, "### critique")
	assert.Contains(t, prompt, "## Reply")
	assert.Less(t, strings.Index(prompt, "### analyst"), strings.Index(prompt, "### critique"))
}

func TestApplyOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`personas:
  critic:
    max_tokens: 300
    temperature: 0.9
  narrator:
    role: "Write like a ship captain."
`), 0o644))

	overrides, err := LoadOverrides(path)
	require.NoError(t, err)

	r := Default()
	require.NoError(t, r.Apply(overrides))
	assert.Equal(t, 300, r.Critic.MaxTokens)
	assert.InDelta(t, 0.9, r.Critic.Temperature, 1e-9)
	assert.Equal(t, "Write like a ship captain.", r.Narrator.Role)
	assert.Equal(t, Default().Narrator.MaxTokens, r.Narrator.MaxTokens)

	err = r.Apply(map[string]Settings{"oracle": {MaxTokens: 10}})
	assert.ErrorContains(t, err, "unknown persona")

	hot := 3.0
	err = r.Apply(map[string]Settings{Critic: {Temperature: &hot}})
	assert.Error(t, err)
	assert.InDelta(t, 0.9, r.Critic.Temperature, 1e-9, "a rejected override must not change anything")
}

func TestLoadOverridesMissingFile(t *testing.T) {
	overrides, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, overrides)
}
