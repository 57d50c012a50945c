// Package decision wraps one reasoning-backend call with JSON extraction and
// a per-persona fallback value.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pagepilot/internal/adapters"
	"pagepilot/internal/guardrails"
)

// Reason explains why an outcome fell back to its default.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonBackendError Reason = "backend_error"
	ReasonParseError   Reason = "parse_error"
	ReasonSchemaError  Reason = "schema_error"
)

// Usage is the token usage of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Call describes a single typed decision.
type Call[T any] struct {
	Persona     string
	System      string
	MaxTokens   int
	Temperature float64
	// Timeout bounds the backend call. Zero means no extra bound.
	Timeout time.Duration
	// Required lists top-level fields that must be present.
	Required []string
	Default  func() T
	Validate func(*T) error
}

// Outcome is either Ok with a decoded value, or Default with the fallback
// value and a Reason.
type Outcome[T any] struct {
	Value  T
	Ok     bool
	Reason Reason
	Detail string
	Source Source
	Raw    string
	Usage  Usage
}

// Defaulted reports whether the outcome carries the fallback value.
func (o Outcome[T]) Defaulted() bool {
	return !o.Ok
}

// Decide calls backend once and decodes its reply into T. It never returns an
// error: every failure yields the call's default.
func Decide[T any](ctx context.Context, backend adapters.Backend, call Call[T], prompt string) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = fallback(call, ReasonBackendError, fmt.Sprintf("panic: %v", r))
		}
	}()

	callCtx := ctx
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	resp, err := backend.Generate(callCtx, adapters.Request{
		Persona:     call.Persona,
		System:      call.System,
		Prompt:      prompt,
		MaxTokens:   call.MaxTokens,
		Temperature: call.Temperature,
	})
	if err != nil {
		return fallback(call, ReasonBackendError, guardrails.SanitizeErrorForJSON(err))
	}
	if resp == nil {
		return fallback(call, ReasonBackendError, adapters.ErrEmptyResponse.Error())
	}
	usage := Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}

	cands := candidates(resp.Text)
	if len(cands) == 0 {
		out = fallback(call, ReasonBackendError, adapters.ErrEmptyResponse.Error())
		out.Usage = usage
		return out
	}

	reason := ReasonParseError
	var lastErr error
	for _, c := range cands {
		var value T
		err := guardrails.DecodeObject([]byte(c.text), &value, call.Required...)
		if err == nil && call.Validate != nil {
			err = call.Validate(&value)
			if err != nil {
				err = &guardrails.SchemaError{Cause: err}
			}
		}
		if err == nil {
			return Outcome[T]{Value: value, Ok: true, Source: c.source, Raw: resp.Text, Usage: usage}
		}
		var schemaErr *guardrails.SchemaError
		if errors.As(err, &schemaErr) {
			reason = ReasonSchemaError
		}
		lastErr = err
	}

	out = fallback(call, reason, guardrails.SanitizeErrorForJSON(lastErr))
	out.Raw = resp.Text
	out.Usage = usage
	return out
}

func fallback[T any](call Call[T], reason Reason, detail string) Outcome[T] {
	var value T
	if call.Default != nil {
		value = call.Default()
	}
	return Outcome[T]{Value: value, Reason: reason, Detail: detail}
}
