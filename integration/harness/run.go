package harness

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"testing"
)

// Result is the outcome of one CLI invocation.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// Output joins stdout and stderr for assertions that do not care which stream was used.
func (r Result) Output() string {
	return r.Stdout + r.Stderr
}

// Run executes the CLI in workDir with the test environment.
func Run(t *testing.T, binPath, workDir string, args ...string) Result {
	t.Helper()
	return run(t, binPath, workDir, args, nil)
}

// RunWithEnv executes the CLI with environment overrides.
func RunWithEnv(t *testing.T, binPath, workDir string, env map[string]string, args ...string) Result {
	t.Helper()
	return run(t, binPath, workDir, args, env)
}

// MustRun executes the CLI and fails the test on a non-zero exit code.
func MustRun(t *testing.T, binPath, workDir string, args ...string) Result {
	t.Helper()
	res := run(t, binPath, workDir, args, nil)
	if res.Code != 0 {
		t.Fatalf("pagepilot %s exit code %d\nstdout:\n%s\nstderr:\n%s",
			strings.Join(args, " "), res.Code, res.Stdout, res.Stderr)
	}
	return res
}

func run(t *testing.T, binPath, workDir string, args []string, env map[string]string) Result {
	t.Helper()

	cmd := exec.Command(binPath, args...)
	cmd.Dir = workDir
	// Keep real credentials and backend selection out of smoke runs.
	cmd.Env = mergeEnv(map[string]string{
		"PAGEPILOT_BACKEND":   "mock",
		"PAGEPILOT_S3_BUCKET": "",
		"ANTHROPIC_API_KEY":   "",
		"GEMINI_API_KEY":      "",
	}, env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{}
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			t.Fatalf("run %s: %v", binPath, err)
		}
		res.Code = ee.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

func mergeEnv(layers ...map[string]string) []string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		key, val, _ := strings.Cut(entry, "=")
		env[key] = val
	}
	for _, layer := range layers {
		for k, v := range layer {
			env[k] = v
		}
	}

	merged := make([]string, 0, len(env))
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	sort.Strings(merged)
	return merged
}
