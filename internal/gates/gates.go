// Package gates runs the sequential checks an aligned proposal must pass
// before it is deployed.
package gates

import (
	"context"
	"iter"
	"math"
	"strconv"

	"go.uber.org/zap"

	"pagepilot/internal/model"
	"pagepilot/internal/pageconfig"
	"pagepilot/internal/persona"
	"pagepilot/internal/worldctx"
)

// State is the payload flowing through the chain. Gates may narrow it: the
// decision gate may replace Changes and the budget gate sets ApprovedSpend.
type State struct {
	Proposal      model.Proposal
	Changes       []model.ChangeOp
	ApprovedSpend float64
	Mission       *model.MissionCheck
}

// NewState starts a chain from the aligned proposal.
func NewState(p model.Proposal) *State {
	changes := make([]model.ChangeOp, len(p.Changes))
	copy(changes, p.Changes)
	return &State{Proposal: p, Changes: changes}
}

// Verdict is one gate's outcome. Block is the terminal decision when the gate
// short-circuits the chain.
type Verdict struct {
	Gate      string         `json:"gate"`
	Outcome   string         `json:"outcome"`
	Rationale string         `json:"rationale,omitempty"`
	Defaulted bool           `json:"defaulted"`
	Advisory  bool           `json:"advisory,omitempty"`
	Block     model.Decision `json:"block,omitempty"`
	Err       error          `json:"-"`
}

// Gate is one step of the chain.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, wc *worldctx.Context, st *State) Verdict
}

// Chain runs gates in order.
type Chain struct {
	Gates  []Gate
	Logger *zap.Logger
}

// NewChain builds the standard mission, decision, budget, content, qa chain.
func NewChain(r *persona.Runner, reg *persona.Registry, logger *zap.Logger) *Chain {
	return &Chain{
		Gates: []Gate{
			&MissionGate{Runner: r, Persona: reg.Mission},
			&DecisionGate{Runner: r, Persona: reg.Decision},
			&BudgetGate{Runner: r, Persona: reg.Budget},
			&ContentGate{Runner: r, Persona: reg.Content},
			&QAGate{Runner: r, Persona: reg.QA},
		},
		Logger: logger,
	}
}

// All yields each gate's verdict together with whether it ends the chain.
// A verdict carrying Err always ends the chain.
func (c *Chain) All(ctx context.Context, wc *worldctx.Context, st *State) iter.Seq2[Verdict, bool] {
	return func(yield func(Verdict, bool) bool) {
		for _, g := range c.Gates {
			v := g.Evaluate(ctx, wc, st)
			if v.Gate == "" {
				v.Gate = g.Name()
			}
			stop := v.Err != nil || v.Block != ""
			if !yield(v, stop) || stop {
				return
			}
		}
	}
}

// Outcome is the result of running the full chain.
type Outcome struct {
	Decision model.Decision
	Verdicts []Verdict
}

// Run consumes All. A passing chain ends in DecisionApproved; an error is
// returned only when a stage output could not be recorded.
func (c *Chain) Run(ctx context.Context, wc *worldctx.Context, st *State) (Outcome, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var out Outcome
	for v, stop := range c.All(ctx, wc, st) {
		if v.Err != nil {
			return out, v.Err
		}
		out.Verdicts = append(out.Verdicts, v)
		logger.Info("gate verdict",
			zap.String("gate", v.Gate),
			zap.String("outcome", v.Outcome),
			zap.Bool("defaulted", v.Defaulted),
			zap.Bool("short_circuit", stop),
		)
		if stop {
			out.Decision = v.Block
			return out, nil
		}
	}
	out.Decision = model.DecisionApproved
	return out, nil
}

// MissionGate scores mission fit. It is advisory and never blocks.
type MissionGate struct {
	Runner  *persona.Runner
	Persona persona.Descriptor[model.MissionCheck]
}

func (g *MissionGate) Name() string { return persona.Mission }

func (g *MissionGate) Evaluate(ctx context.Context, wc *worldctx.Context, st *State) Verdict {
	out, err := persona.Execute(ctx, g.Runner, g.Persona, wc, g.Name(), map[string]any{
		"proposal": st.Proposal,
	})
	if err != nil {
		return Verdict{Err: err}
	}
	check := out.Value
	st.Mission = &check
	return Verdict{
		Outcome:   formatScore(check.Score),
		Rationale: check.Notes,
		Defaulted: out.Defaulted(),
		Advisory:  true,
	}
}

// DecisionGate approves, rejects or holds. reject and hold end the chain.
type DecisionGate struct {
	Runner  *persona.Runner
	Persona persona.Descriptor[model.DecisionVerdict]
}

func (g *DecisionGate) Name() string { return persona.Decision }

func (g *DecisionGate) Evaluate(ctx context.Context, wc *worldctx.Context, st *State) Verdict {
	extra := map[string]any{"proposal": st.Proposal}
	if st.Mission != nil {
		extra["mission_check"] = st.Mission
	}
	out, err := persona.Execute(ctx, g.Runner, g.Persona, wc, g.Name(), extra)
	if err != nil {
		return Verdict{Err: err}
	}
	v := Verdict{Outcome: out.Value.Verdict, Rationale: out.Value.Rationale, Defaulted: out.Defaulted()}
	switch out.Value.Verdict {
	case model.VerdictApprove:
		if len(out.Value.RevisedChanges) > 0 {
			st.Changes = out.Value.RevisedChanges
		}
	case model.VerdictReject:
		v.Block = model.DecisionReject
	default:
		v.Block = model.DecisionHold
	}
	return v
}

// BudgetGate checks requested spend against the remaining runway and today's cap.
type BudgetGate struct {
	Runner  *persona.Runner
	Persona persona.Descriptor[model.BudgetVerdict]
}

func (g *BudgetGate) Name() string { return persona.Budget }

func (g *BudgetGate) Evaluate(ctx context.Context, wc *worldctx.Context, st *State) Verdict {
	requested := st.Proposal.RequestedSpend
	out, err := persona.Execute(ctx, g.Runner, g.Persona, wc, g.Name(), map[string]any{
		"proposal":        st.Proposal,
		"requested_spend": requested,
	})
	if err != nil {
		return Verdict{Err: err}
	}
	bv := out.Value
	v := Verdict{Outcome: bv.Verdict, Rationale: bv.Rationale, Defaulted: out.Defaulted()}
	if bv.Verdict == model.BudgetBlock {
		v.Block = model.DecisionBlockedBudget
		return v
	}
	figure := requested
	if bv.ApprovedSpend != nil {
		figure = *bv.ApprovedSpend
	}
	st.ApprovedSpend = ClampSpend(figure, requested, wc.Budget)
	return v
}

// ClampSpend bounds figure to [0, min(requested, remaining, daily remaining)].
func ClampSpend(figure, requested float64, b worldctx.Budget) float64 {
	if math.IsNaN(figure) {
		return 0
	}
	ceiling := math.Min(requested, math.Min(b.Remaining(), b.DailyRemaining()))
	return math.Max(0, math.Min(figure, ceiling))
}

// ContentGate reviews the copy the final change set would publish.
type ContentGate struct {
	Runner  *persona.Runner
	Persona persona.Descriptor[model.ContentVerdict]
}

func (g *ContentGate) Name() string { return persona.Content }

func (g *ContentGate) Evaluate(ctx context.Context, wc *worldctx.Context, st *State) Verdict {
	out, err := persona.Execute(ctx, g.Runner, g.Persona, wc, g.Name(), map[string]any{
		"description": st.Proposal.Description,
		"changes":     st.Changes,
	})
	if err != nil {
		return Verdict{Err: err}
	}
	v := Verdict{Outcome: out.Value.Verdict, Rationale: out.Value.Rationale, Defaulted: out.Defaulted()}
	if out.Value.Verdict != model.ContentPostable {
		v.Block = model.DecisionBlockedContent
	}
	return v
}

// QAGate checks the change set against a dry-run apply of the current page.
type QAGate struct {
	Runner  *persona.Runner
	Persona persona.Descriptor[model.QAVerdict]
}

func (g *QAGate) Name() string { return persona.QA }

func (g *QAGate) Evaluate(ctx context.Context, wc *worldctx.Context, st *State) Verdict {
	preview, results := pageconfig.Apply(wc.Page, st.Changes)
	out, err := persona.Execute(ctx, g.Runner, g.Persona, wc, g.Name(), map[string]any{
		"changes":    st.Changes,
		"dry_run":    results,
		"page_after": preview,
	})
	if err != nil {
		return Verdict{Err: err}
	}
	v := Verdict{Outcome: out.Value.Verdict, Rationale: out.Value.Rationale, Defaulted: out.Defaulted()}
	if out.Value.Verdict != model.QADeployable {
		v.Block = model.DecisionBlockedQA
	}
	return v
}

func formatScore(score float64) string {
	return "score:" + strconv.FormatFloat(score, 'f', -1, 64)
}
