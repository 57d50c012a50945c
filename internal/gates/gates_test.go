package gates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagepilot/internal/adapters"
	"pagepilot/internal/model"
	"pagepilot/internal/persona"
	"pagepilot/internal/worldctx"
)

func fixture(t *testing.T, replies map[string][]string) (*Chain, *adapters.MockBackend, *worldctx.Context, *State) {
	t.Helper()
	backend := adapters.NewMock(replies)
	chain := NewChain(&persona.Runner{Backend: backend}, persona.Default(), nil)
	wc := worldctx.New("run-1", 1, time.Now())
	wc.Budget = worldctx.Budget{Total: 500, DailyCap: 100}
	wc.Page = map[string]any{"hero": map[string]any{"headline": "old"}}
	st := NewState(model.Proposal{
		ID:             "headline-v1",
		Description:    "new headline",
		Changes:        []model.ChangeOp{{Path: "hero.headline", Action: model.ActionModify, Value: "new"}},
		RequestedSpend: 40,
	})
	return chain, backend, wc, st
}

func TestChainApproves(t *testing.T) {
	chain, backend, wc, st := fixture(t, map[string][]string{
		persona.Budget: {`{"verdict":"approve","rationale":"fine"}`},
	})
	out, err := chain.Run(context.Background(), wc, st)
	require.NoError(t, err)

	assert.Equal(t, model.DecisionApproved, out.Decision)
	require.Len(t, out.Verdicts, 5)
	assert.True(t, out.Verdicts[0].Advisory)
	assert.Equal(t, 40.0, st.ApprovedSpend)
	for _, name := range []string{persona.Mission, persona.Decision, persona.Budget, persona.Content, persona.QA} {
		assert.Equal(t, 1, backend.CallCount(name), name)
	}
}

func TestBudgetBlockSkipsLaterGates(t *testing.T) {
	chain, backend, wc, st := fixture(t, map[string][]string{
		persona.Budget: {`{"verdict":"block","rationale":"over cap"}`},
	})
	out, err := chain.Run(context.Background(), wc, st)
	require.NoError(t, err)

	assert.Equal(t, model.DecisionBlockedBudget, out.Decision)
	assert.Len(t, out.Verdicts, 3)
	assert.Zero(t, backend.CallCount(persona.Content))
	assert.Zero(t, backend.CallCount(persona.QA))
	_, ok := wc.Output(persona.Content)
	assert.False(t, ok)
}

func TestBudgetReduceExample(t *testing.T) {
	chain, _, wc, st := fixture(t, map[string][]string{
		persona.Budget: {`{"verdict":"reduce","approved_spend":25,"rationale":"trim"}`},
	})
	out, err := chain.Run(context.Background(), wc, st)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, out.Decision)
	assert.Equal(t, 25.0, st.ApprovedSpend)
}

func TestDecisionShortCircuits(t *testing.T) {
	tests := []struct {
		reply string
		want  model.Decision
	}{
		{`{"verdict":"reject","rationale":"no"}`, model.DecisionReject},
		{`{"verdict":"hold","rationale":"wait"}`, model.DecisionHold},
		{`not json at all`, model.DecisionHold},
	}
	for _, tt := range tests {
		t.Run(string(tt.want)+"/"+tt.reply[:4], func(t *testing.T) {
			chain, backend, wc, st := fixture(t, map[string][]string{persona.Decision: {tt.reply}})
			out, err := chain.Run(context.Background(), wc, st)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Decision)
			assert.Zero(t, backend.CallCount(persona.Budget))
		})
	}
}

func TestDecisionRevisedChangesReplacePayload(t *testing.T) {
	chain, _, wc, st := fixture(t, map[string][]string{
		persona.Decision: {`{"verdict":"approve","rationale":"tweak","revised_changes":[{"path":"hero.headline","action":"modify","value":"revised"}]}`},
	})
	_, err := chain.Run(context.Background(), wc, st)
	require.NoError(t, err)
	require.Len(t, st.Changes, 1)
	assert.Equal(t, "revised", st.Changes[0].Value)
	assert.Equal(t, "new", st.Proposal.Changes[0].Value, "the aligned proposal itself is untouched")
}

func TestMissionNeverBlocks(t *testing.T) {
	chain, backend, wc, st := fixture(t, nil)
	backend.Fail(persona.Mission, errors.New("timeout"))
	out, err := chain.Run(context.Background(), wc, st)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, out.Decision)
	assert.Equal(t, "score:0", out.Verdicts[0].Outcome)
	assert.True(t, out.Verdicts[0].Defaulted)
}

func TestUnparseableGatesFailClosed(t *testing.T) {
	for _, gate := range []struct {
		persona string
		want    model.Decision
	}{
		{persona.Budget, model.DecisionBlockedBudget},
		{persona.Content, model.DecisionBlockedContent},
		{persona.QA, model.DecisionBlockedQA},
	} {
		t.Run(gate.persona, func(t *testing.T) {
			chain, _, wc, st := fixture(t, map[string][]string{gate.persona: {"sure, looks fine"}})
			out, err := chain.Run(context.Background(), wc, st)
			require.NoError(t, err)
			assert.Equal(t, gate.want, out.Decision)
		})
	}
}

func TestAllStopsWhenConsumerBreaks(t *testing.T) {
	chain, backend, wc, st := fixture(t, nil)
	for v := range chain.All(context.Background(), wc, st) {
		assert.Equal(t, persona.Mission, v.Gate)
		break
	}
	assert.Zero(t, backend.CallCount(persona.Decision))
}

func TestRecordFailureEndsChain(t *testing.T) {
	chain, _, wc, st := fixture(t, nil)
	require.NoError(t, wc.Record(persona.Decision, "taken", false, ""))
	_, err := chain.Run(context.Background(), wc, st)
	assert.ErrorIs(t, err, worldctx.ErrStageRecorded)
}

func TestClampSpend(t *testing.T) {
	b := worldctx.Budget{Total: 500, DailyCap: 30, Cumulative: 0, Today: 0}
	tests := []struct {
		name              string
		figure, requested float64
		budget            worldctx.Budget
		want              float64
	}{
		{"reduce under everything", 25, 40, worldctx.Budget{Total: 500, DailyCap: 100}, 25},
		{"figure above request", 60, 40, worldctx.Budget{Total: 500, DailyCap: 100}, 40},
		{"daily cap binds", 40, 40, b, 30},
		{"runway exhausted", 40, 40, worldctx.Budget{Total: 100, DailyCap: 100, Cumulative: 120}, 0},
		{"negative figure", -5, 40, worldctx.Budget{Total: 500, DailyCap: 100}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampSpend(tt.figure, tt.requested, tt.budget))
		})
	}
}
