package model

import (
	"fmt"
	"strings"
)

// Analysis is the analyst persona output.
type Analysis struct {
	Summary       string   `json:"summary"`
	Insights      []string `json:"insights"`
	Opportunities []string `json:"opportunities"`
	PrimaryMetric string   `json:"primary_metric,omitempty"`
}

func (a *Analysis) Validate() error {
	if strings.TrimSpace(a.Summary) == "" {
		return fmt.Errorf("summary must be a non-empty string")
	}
	return nil
}

// MissionCheck is the advisory mission-alignment output.
type MissionCheck struct {
	Score   float64 `json:"score"`
	Aligned bool    `json:"aligned"`
	Notes   string  `json:"notes"`
}

func (m *MissionCheck) Validate() error {
	if m.Score < 0 || m.Score > 10 {
		return fmt.Errorf("score must be between 0 and 10")
	}
	return nil
}

// Decision stage outcomes.
const (
	VerdictApprove = "approve"
	VerdictReject  = "reject"
	VerdictHold    = "hold"
)

// DecisionVerdict is the decision-maker output. RevisedChanges, when present,
// replaces the aligned proposal's changes for the rest of the chain.
type DecisionVerdict struct {
	Verdict        string     `json:"verdict"`
	Rationale      string     `json:"rationale"`
	RevisedChanges []ChangeOp `json:"revised_changes,omitempty"`
}

func (d *DecisionVerdict) Validate() error {
	switch d.Verdict {
	case VerdictApprove, VerdictReject, VerdictHold:
	default:
		return fmt.Errorf("verdict must be approve, reject or hold, got %q", d.Verdict)
	}
	for idx, op := range d.RevisedChanges {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("revised change %d: %w", idx, err)
		}
	}
	return nil
}

// Budget gate outcomes.
const (
	BudgetApprove = "approve"
	BudgetReduce  = "reduce"
	BudgetBlock   = "block"
)

// BudgetVerdict is the budget gate output.
type BudgetVerdict struct {
	Verdict       string   `json:"verdict"`
	ApprovedSpend *float64 `json:"approved_spend,omitempty"`
	Rationale     string   `json:"rationale"`
}

func (b *BudgetVerdict) Validate() error {
	switch b.Verdict {
	case BudgetApprove, BudgetBlock:
	case BudgetReduce:
		if b.ApprovedSpend == nil {
			return fmt.Errorf("reduce requires approved_spend")
		}
	default:
		return fmt.Errorf("verdict must be approve, reduce or block, got %q", b.Verdict)
	}
	if b.ApprovedSpend != nil && *b.ApprovedSpend < 0 {
		return fmt.Errorf("approved_spend must be non-negative")
	}
	return nil
}

// Content gate outcomes.
const (
	ContentPostable    = "postable"
	ContentNotPostable = "not_postable"
)

// ContentVerdict is the content-safety gate output.
type ContentVerdict struct {
	Verdict   string   `json:"verdict"`
	Issues    []string `json:"issues"`
	Rationale string   `json:"rationale"`
}

func (c *ContentVerdict) Validate() error {
	if c.Verdict != ContentPostable && c.Verdict != ContentNotPostable {
		return fmt.Errorf("verdict must be postable or not_postable, got %q", c.Verdict)
	}
	return nil
}

// QA gate outcomes.
const (
	QADeployable    = "deployable"
	QANotDeployable = "not_deployable"
)

// QAVerdict is the technical QA gate output.
type QAVerdict struct {
	Verdict   string   `json:"verdict"`
	Issues    []string `json:"issues"`
	Rationale string   `json:"rationale"`
}

func (q *QAVerdict) Validate() error {
	if q.Verdict != QADeployable && q.Verdict != QANotDeployable {
		return fmt.Errorf("verdict must be deployable or not_deployable, got %q", q.Verdict)
	}
	return nil
}

// Narrative is the narrator output describing a finished run.
type Narrative struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	SocialPost   string `json:"social_post"`
	EmailSubject string `json:"email_subject"`
}

func (n *Narrative) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("title must be a non-empty string")
	}
	if strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("body must be a non-empty string")
	}
	return nil
}

// MentionReply is the responder persona output for one mention.
type MentionReply struct {
	Reply     bool   `json:"reply"`
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

func (m *MentionReply) Validate() error {
	if m.Reply && strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("text is required when reply is true")
	}
	return nil
}

// GrowthAction is one engagement action proposed by the growth persona.
type GrowthAction struct {
	Platform  string `json:"platform"`
	Kind      string `json:"kind"`
	Target    string `json:"target,omitempty"`
	Content   string `json:"content,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Growth action kinds.
const (
	GrowthPost    = "post"
	GrowthComment = "comment"
	GrowthLike    = "like"
	GrowthFollow  = "follow"
)

// HasContent reports whether the action publishes text and must pass the content gate.
func (g GrowthAction) HasContent() bool {
	return g.Kind == GrowthPost || g.Kind == GrowthComment
}

// GrowthPlan is the growth persona output.
type GrowthPlan struct {
	Actions []GrowthAction `json:"actions"`
}

func (g *GrowthPlan) Validate() error {
	if g.Actions == nil {
		return fmt.Errorf("actions must be an array (can be empty)")
	}
	for idx, a := range g.Actions {
		if strings.TrimSpace(a.Platform) == "" {
			return fmt.Errorf("action %d: platform is required", idx)
		}
		switch a.Kind {
		case GrowthPost, GrowthComment, GrowthLike, GrowthFollow:
		default:
			return fmt.Errorf("action %d: unknown kind %q", idx, a.Kind)
		}
		if a.HasContent() && strings.TrimSpace(a.Content) == "" {
			return fmt.Errorf("action %d: %s requires content", idx, a.Kind)
		}
	}
	return nil
}
