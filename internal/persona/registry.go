package persona

import (
	"pagepilot/internal/model"
	"pagepilot/internal/worldctx"
)

// Persona names. Gate and report stages are recorded under these names;
// convergence stages carry an iteration suffix.
const (
	Analyst   = "analyst"
	Optimizer = "optimizer"
	Critic    = "critic"
	Mission   = "mission"
	Decision  = "decision"
	Budget    = "budget"
	Content   = "content"
	QA        = "qa"
	Narrator  = "narrator"
	Responder = "responder"
	Growth    = "growth"
)

// Registry holds one descriptor per persona.
type Registry struct {
	Analyst   Descriptor[model.Analysis]
	Optimizer Descriptor[model.ProposalSet]
	Critic    Descriptor[model.Critique]
	Mission   Descriptor[model.MissionCheck]
	Decision  Descriptor[model.DecisionVerdict]
	Budget    Descriptor[model.BudgetVerdict]
	Content   Descriptor[model.ContentVerdict]
	QA        Descriptor[model.QAVerdict]
	Narrator  Descriptor[model.Narrative]
	Responder Descriptor[model.MentionReply]
	Growth    Descriptor[model.GrowthPlan]
}

// Names lists every persona in pipeline order.
func Names() []string {
	return []string{Analyst, Optimizer, Critic, Mission, Decision, Budget, Content, QA, Narrator, Responder, Growth}
}

const baseInstruction = "You are one member of a small team that runs a product landing page. " +
	"Reply with a single JSON object and nothing else."

// Default returns the built-in persona set.
func Default() *Registry {
	return &Registry{
		Analyst: Descriptor[model.Analysis]{
			Name:        Analyst,
			Role:        "Read the latest metrics and run history and explain what is happening on the page.",
			Instruction: baseInstruction,
			Inputs:      []string{worldctx.InputMetrics, worldctx.InputHistory, worldctx.InputTrackRecord, worldctx.InputMemory},
			Shape:       `{"summary": "...", "insights": ["..."], "opportunities": ["..."], "primary_metric": "signups"}`,
			MaxTokens:   1200,
			Temperature: 0.3,
			Required:    []string{"summary"},
			Default: func() model.Analysis {
				return model.Analysis{Summary: "analysis unavailable", Insights: []string{}, Opportunities: []string{}}
			},
			Validate: (*model.Analysis).Validate,
		},
		Optimizer: Descriptor[model.ProposalSet]{
			Name:        Optimizer,
			Role:        "Propose concrete page changes expressed as path edits against the current page config. Address any critique you are given.",
			Instruction: baseInstruction,
			Inputs:      []string{Analyst, worldctx.InputPage, worldctx.InputBudget, worldctx.InputHistory, worldctx.InputMemory, worldctx.InputCollective},
			Shape: `{"proposals": [{"id": "headline-v2", "description": "...", "hypothesis": "...",
  "changes": [{"path": "hero.headline", "action": "modify", "value": "..."}],
  "requested_spend": 0, "boldness": 3, "expected_metric": {"key": "signups", "direction": "increase"}}],
 "rationale": "..."}`,
			MaxTokens:   2400,
			Temperature: 0.7,
			Required:    []string{"proposals"},
			Default: func() model.ProposalSet {
				return model.ProposalSet{Proposals: []model.Proposal{model.HoldSteadyProposal()}, Rationale: "optimizer output unavailable"}
			},
			Validate: (*model.ProposalSet).Validate,
		},
		Critic: Descriptor[model.Critique]{
			Name:        Critic,
			Role:        "Stress-test each proposal. Grade issues as minor, major or fatal and recommend approve, revise or reject.",
			Instruction: baseInstruction,
			Inputs:      []string{worldctx.InputPage, worldctx.InputHistory, worldctx.InputTrackRecord, worldctx.InputMemory},
			Shape:       `{"assessments": [{"proposal_id": "headline-v2", "issues": ["..."], "severity": "minor"}], "recommendation": "approve", "summary": "..."}`,
			MaxTokens:   1600,
			Temperature: 0.2,
			Required:    []string{"recommendation"},
			Default: func() model.Critique {
				return model.Critique{Assessments: []model.Assessment{}, Recommendation: model.RecommendRevise, Summary: "critic output unavailable"}
			},
			Validate: (*model.Critique).Validate,
		},
		Mission: Descriptor[model.MissionCheck]{
			Name:        Mission,
			Role:        "Score from 0 to 10 how well the aligned proposal serves the product mission. Your score is advisory.",
			Instruction: baseInstruction,
			Inputs:      []string{worldctx.InputPage, worldctx.InputCollective},
			Shape:       `{"score": 7, "aligned": true, "notes": "..."}`,
			MaxTokens:   600,
			Temperature: 0.2,
			Required:    []string{"score"},
			Default: func() model.MissionCheck {
				return model.MissionCheck{Score: 0, Notes: "mission check unavailable"}
			},
			Validate: (*model.MissionCheck).Validate,
		},
		Decision: Descriptor[model.DecisionVerdict]{
			Name:        Decision,
			Role:        "Decide whether the aligned proposal ships: approve, reject or hold. You may revise its changes.",
			Instruction: baseInstruction,
			Inputs:      []string{Analyst, Mission, worldctx.InputHistory, worldctx.InputTrackRecord, worldctx.InputMemory},
			Shape:       `{"verdict": "approve", "rationale": "...", "revised_changes": []}`,
			MaxTokens:   1000,
			Temperature: 0.1,
			Required:    []string{"verdict"},
			Default: func() model.DecisionVerdict {
				return model.DecisionVerdict{Verdict: model.VerdictHold, Rationale: "decision output unavailable"}
			},
			Validate: (*model.DecisionVerdict).Validate,
		},
		Budget: Descriptor[model.BudgetVerdict]{
			Name:        Budget,
			Role:        "Check the requested spend against the remaining budget. Approve, reduce to an approved_spend, or block.",
			Instruction: baseInstruction,
			Inputs:      []string{worldctx.InputBudget, worldctx.InputHistory},
			Shape:       `{"verdict": "approve", "approved_spend": 0, "rationale": "..."}`,
			MaxTokens:   600,
			Temperature: 0,
			Required:    []string{"verdict"},
			Default: func() model.BudgetVerdict {
				return model.BudgetVerdict{Verdict: model.BudgetBlock, Rationale: "budget output unavailable"}
			},
			Validate: (*model.BudgetVerdict).Validate,
		},
		Content: Descriptor[model.ContentVerdict]{
			Name:        Content,
			Role:        "Review the copy this change would publish for accuracy, tone and policy problems.",
			Instruction: baseInstruction,
			Shape:       `{"verdict": "postable", "issues": [], "rationale": "..."}`,
			MaxTokens:   600,
			Temperature: 0,
			Required:    []string{"verdict"},
			Default: func() model.ContentVerdict {
				return model.ContentVerdict{Verdict: model.ContentNotPostable, Issues: []string{}, Rationale: "content output unavailable"}
			},
			Validate: (*model.ContentVerdict).Validate,
		},
		QA: Descriptor[model.QAVerdict]{
			Name:        QA,
			Role:        "Check that the change set applies cleanly to the page config and will not break the page.",
			Instruction: baseInstruction,
			Inputs:      []string{worldctx.InputPage},
			Shape:       `{"verdict": "deployable", "issues": [], "rationale": "..."}`,
			MaxTokens:   600,
			Temperature: 0,
			Required:    []string{"verdict"},
			Default: func() model.QAVerdict {
				return model.QAVerdict{Verdict: model.QANotDeployable, Issues: []string{}, Rationale: "qa output unavailable"}
			},
			Validate: (*model.QAVerdict).Validate,
		},
		Narrator: Descriptor[model.Narrative]{
			Name:        Narrator,
			Role:        "Write the public build log entry for this run, a short social post and an email subject.",
			Instruction: baseInstruction,
			Inputs:      []string{worldctx.InputStages},
			Shape:       `{"title": "...", "body": "...", "social_post": "...", "email_subject": "..."}`,
			MaxTokens:   1200,
			Temperature: 0.6,
			Required:    []string{"title", "body"},
			Default: func() model.Narrative {
				return model.Narrative{Title: "Run report", Body: "The narrator was unavailable for this run."}
			},
			Validate: (*model.Narrative).Validate,
		},
		Responder: Descriptor[model.MentionReply]{
			Name:        Responder,
			Role:        "Decide whether to answer this public mention of the product, and draft the reply.",
			Instruction: baseInstruction,
			Inputs:      []string{worldctx.InputPage, worldctx.InputCollective},
			Shape:       `{"reply": true, "text": "...", "rationale": "..."}`,
			MaxTokens:   500,
			Temperature: 0.5,
			Required:    []string{"reply"},
			Default: func() model.MentionReply {
				return model.MentionReply{Reply: false, Rationale: "responder output unavailable"}
			},
			Validate: (*model.MentionReply).Validate,
		},
		Growth: Descriptor[model.GrowthPlan]{
			Name:        Growth,
			Role:        "Plan a few low-key engagement actions that help the right people find the product.",
			Instruction: baseInstruction,
			Inputs:      []string{worldctx.InputMetrics, worldctx.InputPage, worldctx.InputCollective},
			Shape:       `{"actions": [{"platform": "x", "kind": "post", "content": "...", "rationale": "..."}]}`,
			MaxTokens:   900,
			Temperature: 0.6,
			Required:    []string{"actions"},
			Default: func() model.GrowthPlan {
				return model.GrowthPlan{Actions: []model.GrowthAction{}}
			},
			Validate: (*model.GrowthPlan).Validate,
		},
	}
}
