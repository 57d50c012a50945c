package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CodexBackend shells out to the codex CLI in non-interactive exec mode.
type CodexBackend struct {
	// Binary defaults to "codex".
	Binary  string
	WorkDir string
	Model   string
	Timeout time.Duration
	Env     map[string]string
}

func (b *CodexBackend) Name() string {
	return "codex"
}

// Generate pipes the system instruction and prompt to codex on stdin and
// returns its last message.
func (b *CodexBackend) Generate(ctx context.Context, req Request) (*Response, error) {
	scratch, err := os.MkdirTemp("", "pagepilot-codex-*")
	if err != nil {
		return nil, fmt.Errorf("codex: create scratch dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	workDir := b.WorkDir
	if workDir == "" {
		workDir = scratch
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("codex: resolve workdir: %w", err)
	}

	env := map[string]string{}
	for k, v := range b.Env {
		env[k] = v
	}
	if env["CODEX_HOME"] == "" && os.Getenv("CODEX_HOME") == "" {
		codexHome := filepath.Join(scratch, "codex_home")
		if err := os.MkdirAll(codexHome, 0o755); err != nil {
			return nil, fmt.Errorf("codex: create CODEX_HOME: %w", err)
		}
		env["CODEX_HOME"] = codexHome
	}

	runCtx := ctx
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	lastMessage := filepath.Join(scratch, "last_message.txt")
	args := []string{
		"-a", "never",
		"-s", "read-only",
		"exec",
		"-C", workDir,
		"--skip-git-repo-check",
		"--output-last-message", lastMessage,
	}
	if b.Model != "" {
		args = append(args, "-m", b.Model)
	}
	args = append(args, "-")

	binary := b.Binary
	if binary == "" {
		binary = "codex"
	}
	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = workDir
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdin = strings.NewReader(composePrompt(req))
	var transcript bytes.Buffer
	cmd.Stdout = &transcript
	cmd.Stderr = &transcript

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("codex: exit %d: %w: %s", exitCodeFromError(err), err, truncate(transcript.String(), 512))
	}

	data, err := os.ReadFile(lastMessage)
	if err != nil {
		return nil, fmt.Errorf("codex: read last message: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, ErrEmptyResponse
	}
	// The CLI does not report token usage; approximate at four bytes per token.
	return &Response{
		Text:         text,
		InputTokens:  (len(req.System) + len(req.Prompt)) / 4,
		OutputTokens: len(text) / 4,
	}, nil
}

func composePrompt(req Request) string {
	if strings.TrimSpace(req.System) == "" {
		return req.Prompt
	}
	return req.System + "\n\n" + req.Prompt
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		merged = append(merged, entry)
	}
	for key, value := range overrides {
		merged = append(merged, key+"="+value)
	}
	return merged
}

func exitCodeFromError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	return 1
}
