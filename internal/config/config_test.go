package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PAGEPILOT_BACKEND", "")
	t.Setenv("PAGEPILOT_S3_BUCKET", "")
	t.Setenv("PAGEPILOT_MODEL", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "pagepilot.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	t.Setenv("PAGEPILOT_BACKEND", "")
	t.Setenv("PAGEPILOT_S3_BUCKET", "")
	t.Setenv("PAGEPILOT_MODEL", "")
	path := filepath.Join(t.TempDir(), "pagepilot.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  name: anthropic
  model: claude-sonnet
convergence:
  max_iterations: 5
deploy:
  propagation_wait: 2s
personas:
  critic:
    temperature: 0.1
publish:
  dry_run: false
  webhooks:
    - platform: x
      url: http://localhost:9000/x
`), 0o644))
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Backend.Name)
	assert.Equal(t, "sk-test", cfg.Backend.APIKey)
	assert.Equal(t, 5, cfg.Convergence.MaxIterations)
	assert.Equal(t, 2*time.Second, cfg.Deploy.PropagationWait)
	assert.Equal(t, 10, cfg.History.Limit, "unset sections keep defaults")
	require.NotNil(t, cfg.Personas["critic"].Temperature)
	assert.InDelta(t, 0.1, *cfg.Personas["critic"].Temperature, 1e-9)
	require.Len(t, cfg.Publish.Webhooks, 1)

	out, err := cfg.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-test")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"PAGEPILOT_BACKEND":   "gemini",
		"PAGEPILOT_MODEL":     "gemini-2.5-flash",
		"GEMINI_API_KEY":      "g-key",
		"PAGEPILOT_S3_BUCKET": "shots",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "gemini", cfg.Backend.Name)
	assert.Equal(t, "gemini-2.5-flash", cfg.Backend.Model)
	assert.Equal(t, "g-key", cfg.Backend.APIKey)
	assert.Equal(t, "s3", cfg.Capture.Sink)
	assert.Equal(t, "shots", cfg.Capture.Bucket)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Convergence.MaxIterations = 0
	cfg.Capture.Sink = "s3"
	cfg.Schedule.PipelineHour = 24
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "max_iterations")
	assert.ErrorContains(t, err, "capture.bucket")
	assert.ErrorContains(t, err, "pipeline_hour")
}
