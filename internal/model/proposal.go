package model

import (
	"fmt"
	"math"
	"strings"
)

// Action is the kind of atomic edit a ChangeOp performs on the page config.
type Action string

const (
	ActionModify  Action = "modify"
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionReorder Action = "reorder"
	ActionReplace Action = "replace"
)

// Valid reports whether a is one of the supported actions.
func (a Action) Valid() bool {
	switch a {
	case ActionModify, ActionAdd, ActionRemove, ActionReorder, ActionReplace:
		return true
	}
	return false
}

// ChangeOp is one atomic edit against a dotted path in the page config.
type ChangeOp struct {
	Path   string `json:"path"`
	Action Action `json:"action"`
	Value  any    `json:"value,omitempty"`
}

// ExpectedMetric is the optimizer's claim about which metric a proposal moves.
type ExpectedMetric struct {
	Key       string `json:"key"`
	Direction string `json:"direction"`
}

// Proposal is one candidate change unit produced by the optimizer.
type Proposal struct {
	ID             string          `json:"id"`
	Description    string          `json:"description"`
	Changes        []ChangeOp      `json:"changes"`
	Hypothesis     string          `json:"hypothesis"`
	RequestedSpend float64         `json:"requested_spend"`
	Boldness       float64         `json:"boldness"`
	ExpectedMetric *ExpectedMetric `json:"expected_metric,omitempty"`
}

// ProposalSet is the full optimizer output for one convergence iteration.
type ProposalSet struct {
	Proposals []Proposal `json:"proposals"`
	Rationale string     `json:"rationale,omitempty"`
}

// HoldSteadyID identifies the no-op proposal used when the optimizer output is unusable.
const HoldSteadyID = "hold-steady"

// HoldSteadyProposal returns a proposal with no changes and no spend.
func HoldSteadyProposal() Proposal {
	return Proposal{
		ID:          HoldSteadyID,
		Description: "Keep the current page configuration unchanged",
		Changes:     []ChangeOp{},
		Hypothesis:  "No usable optimizer output; holding steady avoids unreviewed changes.",
		Boldness:    0,
	}
}

// Validate checks a proposal set against the optimizer output schema.
func (s *ProposalSet) Validate() error {
	if len(s.Proposals) == 0 {
		return fmt.Errorf("proposals must include at least one proposal")
	}
	seen := make(map[string]struct{}, len(s.Proposals))
	for idx := range s.Proposals {
		p := &s.Proposals[idx]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("proposal %d: %w", idx, err)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("proposal %d: duplicate id %q", idx, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Validate checks a single proposal.
func (p *Proposal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if p.Changes == nil {
		return fmt.Errorf("changes must be an array (can be empty)")
	}
	for idx, op := range p.Changes {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("change %d: %w", idx, err)
		}
	}
	if p.RequestedSpend < 0 || math.IsNaN(p.RequestedSpend) || math.IsInf(p.RequestedSpend, 0) {
		return fmt.Errorf("requested_spend must be a non-negative number")
	}
	if p.Boldness < 0 || p.Boldness > 10 {
		return fmt.Errorf("boldness must be between 0 and 10")
	}
	if p.ExpectedMetric != nil {
		if strings.TrimSpace(p.ExpectedMetric.Key) == "" {
			return fmt.Errorf("expected_metric.key is required")
		}
		if p.ExpectedMetric.Direction != "increase" && p.ExpectedMetric.Direction != "decrease" {
			return fmt.Errorf("expected_metric.direction must be \"increase\" or \"decrease\"")
		}
	}
	return nil
}

// Validate checks the shape of a change operation. Whether the path exists is
// decided when the op is applied.
func (op ChangeOp) Validate() error {
	if strings.TrimSpace(op.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if !op.Action.Valid() {
		return fmt.Errorf("unknown action %q", op.Action)
	}
	switch op.Action {
	case ActionModify, ActionAdd, ActionReplace:
		if op.Value == nil {
			return fmt.Errorf("%s requires a value", op.Action)
		}
	case ActionReorder:
		if _, err := ReorderIndices(op.Value); err != nil {
			return err
		}
	}
	return nil
}

// ReorderIndices converts a decoded reorder payload into integer indices.
func ReorderIndices(value any) ([]int, error) {
	raw, ok := value.([]any)
	if !ok {
		if ints, ok := value.([]int); ok {
			return ints, nil
		}
		return nil, fmt.Errorf("reorder requires an array of indices")
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) || f < 0 {
			return nil, fmt.Errorf("reorder indices must be non-negative integers")
		}
		out = append(out, int(f))
	}
	return out, nil
}
