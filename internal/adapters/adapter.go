package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("backend returned no text")

// Backend generates text for one persona call.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is a single generation call.
type Request struct {
	Persona     string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response carries the raw text and token usage of a call.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Options configures backend construction.
type Options struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	WorkDir string
	Logger  *zap.Logger
}

// New returns the backend registered under name.
func New(ctx context.Context, name string, opts Options) (Backend, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch name {
	case "anthropic":
		return NewAnthropic(opts)
	case "gemini":
		return NewGemini(ctx, opts)
	case "codex", "cli":
		return &CodexBackend{WorkDir: opts.WorkDir, Model: opts.Model, Timeout: opts.Timeout}, nil
	case "mock", "":
		return NewMock(nil), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
