// Package persona runs role-specific decision stages. Each persona is a
// declarative Descriptor executed by one generic function.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"pagepilot/internal/adapters"
	"pagepilot/internal/decision"
	"pagepilot/internal/worldctx"
)

// Descriptor declares one persona: its role, the world inputs it reads, its
// generation limits, its output shape and its safe default.
type Descriptor[T any] struct {
	Name        string
	Role        string
	Instruction string
	Inputs      []string
	// Shape is an example of the expected JSON reply.
	Shape       string
	MaxTokens   int
	Temperature float64
	Required    []string
	Default     func() T
	Validate    func(*T) error
}

// StageResult is what a stage hook receives after each persona call.
type StageResult struct {
	Value     any
	Defaulted bool
	Reason    string
	Detail    string
	Source    string
	Usage     decision.Usage
}

// StageHook is called after every stage output is recorded in the context.
type StageHook func(ctx context.Context, stage string, res StageResult) error

// Runner carries what every persona call shares.
type Runner struct {
	Backend adapters.Backend
	// Timeout bounds each backend call. Zero means no bound.
	Timeout time.Duration
	Logger  *zap.Logger
	OnStage StageHook
}

// Execute renders the descriptor's prompt from wc and extra, decides, then
// appends the result to wc under stage (the persona name when empty). The
// returned error is non-nil only when recording the output failed.
func Execute[T any](ctx context.Context, r *Runner, d Descriptor[T], wc *worldctx.Context, stage string, extra map[string]any) (decision.Outcome[T], error) {
	if stage == "" {
		stage = d.Name
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	prompt := Render(d.Name, d.Role, d.Shape, d.Inputs, wc, extra)
	out := decision.Decide(ctx, r.Backend, decision.Call[T]{
		Persona:     d.Name,
		System:      d.Instruction,
		MaxTokens:   d.MaxTokens,
		Temperature: d.Temperature,
		Timeout:     r.Timeout,
		Required:    d.Required,
		Default:     d.Default,
		Validate:    d.Validate,
	}, prompt)

	fields := []zap.Field{
		zap.String("stage", stage),
		zap.Bool("defaulted", out.Defaulted()),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens),
	}
	if out.Defaulted() {
		logger.Warn("persona fell back to default", append(fields, zap.String("reason", string(out.Reason)), zap.String("detail", out.Detail))...)
	} else {
		logger.Info("persona decided", append(fields, zap.String("source", string(out.Source)))...)
	}

	if wc != nil {
		if err := wc.Record(stage, out.Value, out.Defaulted(), string(out.Reason)); err != nil {
			return out, err
		}
	}
	if r.OnStage != nil {
		res := StageResult{
			Value:     out.Value,
			Defaulted: out.Defaulted(),
			Reason:    string(out.Reason),
			Detail:    out.Detail,
			Source:    string(out.Source),
			Usage:     out.Usage,
		}
		if err := r.OnStage(ctx, stage, res); err != nil {
			return out, fmt.Errorf("record stage %s: %w", stage, err)
		}
	}
	return out, nil
}

// Render builds the user prompt: the role, each declared input as a JSON
// block, any extra inputs, then the expected reply shape.
func Render(name, role, shape string, inputs []string, wc *worldctx.Context, extra map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Role\n%s\n", strings.TrimSpace(role))

	section := func(title string, v any) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			data = []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
		}
		fmt.Fprintf(&b, "\n### %s\n```json\n%s\n```\n", title, data)
	}

	if len(inputs) > 0 || len(extra) > 0 {
		b.WriteString("\n## Inputs\n")
	}
	for _, in := range inputs {
		if wc == nil {
			break
		}
		if v, ok := wc.Resolve(name, in); ok {
			section(in, v)
		}
	}
	for _, key := range slices.Sorted(maps.Keys(extra)) {
		section(key, extra[key])
	}

	if shape != "" {
		fmt.Fprintf(&b, "\n## Reply\nRespond with one JSON object shaped like:\n```json\n%s\n```\n", strings.TrimSpace(shape))
	}
	return b.String()
}
