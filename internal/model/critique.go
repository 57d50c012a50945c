package model

import (
	"fmt"
	"strings"
)

// Severity grades a critic issue.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
	SeverityFatal Severity = "fatal"
)

// Recommendation is the critic's overall call on a proposal set.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendRevise  Recommendation = "revise"
	RecommendReject  Recommendation = "reject"
)

// Assessment is the critic's view of one proposal.
type Assessment struct {
	ProposalID string   `json:"proposal_id"`
	Issues     []string `json:"issues"`
	Severity   Severity `json:"severity"`
	Precedents []string `json:"precedents,omitempty"`
}

// Critique is one critic pass over a proposal set.
type Critique struct {
	Assessments    []Assessment   `json:"assessments"`
	Recommendation Recommendation `json:"recommendation"`
	Summary        string         `json:"summary,omitempty"`
}

// Validate checks a critique against the critic output schema.
func (c *Critique) Validate() error {
	switch c.Recommendation {
	case RecommendApprove, RecommendRevise, RecommendReject:
	default:
		return fmt.Errorf("recommendation must be approve, revise or reject, got %q", c.Recommendation)
	}
	for idx, a := range c.Assessments {
		if strings.TrimSpace(a.ProposalID) == "" {
			return fmt.Errorf("assessment %d: proposal_id is required", idx)
		}
		switch a.Severity {
		case SeverityMinor, SeverityMajor, SeverityFatal:
		default:
			return fmt.Errorf("assessment %d: severity must be minor, major or fatal, got %q", idx, a.Severity)
		}
	}
	return nil
}

// SeverityFor returns the severity recorded for a proposal, or "" when the
// critic did not assess it.
func (c *Critique) SeverityFor(proposalID string) Severity {
	if c == nil {
		return ""
	}
	for _, a := range c.Assessments {
		if a.ProposalID == proposalID {
			return a.Severity
		}
	}
	return ""
}
