// Package convergence negotiates a single aligned proposal between the
// optimizer and the critic.
package convergence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pagepilot/internal/model"
	"pagepilot/internal/persona"
	"pagepilot/internal/worldctx"
)

// DefaultMaxIterations is the hard cap used when Loop.MaxIterations is unset.
const DefaultMaxIterations = 3

// Iteration is one optimizer/critic exchange.
type Iteration struct {
	N         int               `json:"n"`
	Proposals model.ProposalSet `json:"proposals"`
	Critique  model.Critique    `json:"critique"`
}

// Result is the outcome of a loop. Aligned is always set.
type Result struct {
	Aligned    model.AlignedProposal `json:"aligned"`
	Iterations []Iteration           `json:"iterations"`
}

// Loop runs optimizer then critic until the critic approves or the cap is hit.
type Loop struct {
	Runner        *persona.Runner
	Optimizer     persona.Descriptor[model.ProposalSet]
	Critic        persona.Descriptor[model.Critique]
	MaxIterations int
	Logger        *zap.Logger
}

// OptimizerStage and CriticStage are the stage keys for iteration n.
func OptimizerStage(n int) string { return fmt.Sprintf("%s.%d", persona.Optimizer, n) }
func CriticStage(n int) string    { return fmt.Sprintf("%s.%d", persona.Critic, n) }

// Run drives the loop. It returns an error only when a stage output could not
// be recorded; persona failures degrade to their defaults and the loop goes on.
func (l *Loop) Run(ctx context.Context, wc *worldctx.Context) (Result, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := l.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}

	var (
		res   Result
		prior *model.Critique
	)
	for n := 1; n <= limit; n++ {
		extra := map[string]any{"iteration": n, "max_iterations": limit}
		if prior != nil {
			extra["critique"] = prior
			extra["previous_proposals"] = res.Iterations[len(res.Iterations)-1].Proposals
		}
		opt, err := persona.Execute(ctx, l.Runner, l.Optimizer, wc, OptimizerStage(n), extra)
		if err != nil {
			return res, err
		}
		set := opt.Value
		if len(set.Proposals) == 0 {
			set = l.Optimizer.Default()
		}

		crit, err := persona.Execute(ctx, l.Runner, l.Critic, wc, CriticStage(n), map[string]any{
			"iteration": n,
			"proposals": set,
		})
		if err != nil {
			return res, err
		}
		critique := crit.Value
		res.Iterations = append(res.Iterations, Iteration{N: n, Proposals: set, Critique: critique})

		logger.Info("convergence iteration",
			zap.Int("iteration", n),
			zap.Int("proposals", len(set.Proposals)),
			zap.String("recommendation", string(critique.Recommendation)),
		)

		if critique.Recommendation == model.RecommendApprove {
			res.Aligned = model.AlignedProposal{
				Proposal:   Select(set, &critique),
				Iterations: n,
				Converged:  true,
			}
			return res, nil
		}
		prior = &critique
	}

	last := res.Iterations[len(res.Iterations)-1].Proposals
	res.Aligned = model.AlignedProposal{
		Proposal:   last.Proposals[0],
		Iterations: limit,
		Exhausted:  true,
		Note:       "iteration budget exhausted",
	}
	logger.Warn("convergence exhausted", zap.Int("iterations", limit), zap.String("proposal_id", res.Aligned.Proposal.ID))
	return res, nil
}

// Select returns the first proposal the critique did not grade fatal, or the
// first proposal when every one is fatal.
func Select(set model.ProposalSet, critique *model.Critique) model.Proposal {
	for _, p := range set.Proposals {
		if critique.SeverityFor(p.ID) != model.SeverityFatal {
			return p
		}
	}
	return set.Proposals[0]
}
