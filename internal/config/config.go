// Package config loads pagepilot.yml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pagepilot/internal/capture"
	"pagepilot/internal/persona"
)

// Config is the whole pagepilot.yml file.
type Config struct {
	Backend     Backend                     `yaml:"backend"`
	Personas    map[string]persona.Settings `yaml:"personas,omitempty"`
	Convergence Convergence                 `yaml:"convergence"`
	Budget      Budget                      `yaml:"budget"`
	History     History                     `yaml:"history"`
	Metrics     Metrics                     `yaml:"metrics"`
	Deploy      Deploy                      `yaml:"deploy"`
	Capture     Capture                     `yaml:"capture"`
	Publish     Publish                     `yaml:"publish"`
	Engagement  Engagement                  `yaml:"engagement"`
	Schedule    Schedule                    `yaml:"schedule"`
	Log         Log                         `yaml:"log"`
}

type Backend struct {
	Name    string        `yaml:"name"`
	Model   string        `yaml:"model,omitempty"`
	APIKey  string        `yaml:"api_key,omitempty"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

type Convergence struct {
	MaxIterations int `yaml:"max_iterations"`
}

// Budget seeds the budget keys of the store on init.
type Budget struct {
	Total    float64 `yaml:"total"`
	DailyCap float64 `yaml:"daily_cap"`
}

type History struct {
	Limit           int `yaml:"limit"`
	PersonaLogLimit int `yaml:"persona_log_limit"`
	CollectiveLimit int `yaml:"collective_limit"`
}

type Metrics struct {
	ManualPath    string `yaml:"manual_path"`
	AnalyticsPath string `yaml:"analytics_path"`
}

type Deploy struct {
	PropagationWait time.Duration `yaml:"propagation_wait"`
	SeedPath        string        `yaml:"seed_path,omitempty"`
}

type Capture struct {
	Enabled     bool                 `yaml:"enabled"`
	PageURL     string               `yaml:"page_url,omitempty"`
	Sink        string               `yaml:"sink"`
	Bucket      string               `yaml:"bucket,omitempty"`
	Region      string               `yaml:"region,omitempty"`
	Prefix      string               `yaml:"prefix,omitempty"`
	BaseURL     string               `yaml:"base_url,omitempty"`
	ControlURL  string               `yaml:"control_url,omitempty"`
	ChromeBin   string               `yaml:"chrome_bin,omitempty"`
	Timeout     time.Duration        `yaml:"timeout"`
	Breakpoints []capture.Breakpoint `yaml:"breakpoints,omitempty"`
}

type Webhook struct {
	Platform string   `yaml:"platform"`
	URL      string   `yaml:"url"`
	TokenEnv string   `yaml:"token_env,omitempty"`
	Kinds    []string `yaml:"kinds,omitempty"`
}

type Publish struct {
	DryRun   bool      `yaml:"dry_run"`
	Webhooks []Webhook `yaml:"webhooks,omitempty"`
	EmailTo  string    `yaml:"email_to,omitempty"`
}

type Engagement struct {
	MentionsPath     string `yaml:"mentions_path"`
	MaxGrowthActions int    `yaml:"max_growth_actions"`
	GrowthDailyLimit int    `yaml:"growth_daily_limit"`
}

type Schedule struct {
	TimeZone             string `yaml:"time_zone,omitempty"`
	PipelineHour         int    `yaml:"pipeline_hour"`
	MentionsEveryMinutes int    `yaml:"mentions_every_minutes"`
	GrowthEveryHours     int    `yaml:"growth_every_hours"`
	Notify               bool   `yaml:"notify"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings used when pagepilot.yml is absent.
func Default() Config {
	return Config{
		Backend:     Backend{Name: "mock", Timeout: 2 * time.Minute},
		Convergence: Convergence{MaxIterations: 3},
		Budget:      Budget{Total: 500, DailyCap: 50},
		History:     History{Limit: 10, PersonaLogLimit: 5, CollectiveLimit: 20},
		Metrics:     Metrics{ManualPath: "metrics/manual.yml", AnalyticsPath: "metrics/analytics.json"},
		Deploy:      Deploy{PropagationWait: 30 * time.Second},
		Capture:     Capture{Sink: "file", Timeout: 90 * time.Second},
		Publish:     Publish{DryRun: true},
		Engagement:  Engagement{MentionsPath: "mentions.json", MaxGrowthActions: 3, GrowthDailyLimit: 10},
		Schedule:    Schedule{PipelineHour: 9, MentionsEveryMinutes: 30, GrowthEveryHours: 6},
		Log:         Log{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides backend and capture settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("PAGEPILOT_BACKEND")); v != "" {
		c.Backend.Name = v
	}
	if v := strings.TrimSpace(getenv("PAGEPILOT_MODEL")); v != "" {
		c.Backend.Model = v
	}
	if c.Backend.APIKey == "" {
		switch strings.ToLower(c.Backend.Name) {
		case "anthropic":
			c.Backend.APIKey = getenv("ANTHROPIC_API_KEY")
		case "gemini":
			c.Backend.APIKey = getenv("GEMINI_API_KEY")
		}
	}
	if v := strings.TrimSpace(getenv("PAGEPILOT_S3_BUCKET")); v != "" {
		c.Capture.Sink = "s3"
		c.Capture.Bucket = v
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Convergence.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("convergence.max_iterations must be at least 1"))
	}
	if c.Budget.Total < 0 || c.Budget.DailyCap < 0 {
		errs = append(errs, fmt.Errorf("budget figures must be non-negative"))
	}
	if c.Deploy.PropagationWait < 0 {
		errs = append(errs, fmt.Errorf("deploy.propagation_wait must be non-negative"))
	}
	switch c.Capture.Sink {
	case "file", "":
	case "s3":
		if c.Capture.Bucket == "" {
			errs = append(errs, fmt.Errorf("capture.bucket is required for the s3 sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("capture.sink must be file or s3, got %q", c.Capture.Sink))
	}
	if c.Schedule.PipelineHour < 0 || c.Schedule.PipelineHour > 23 {
		errs = append(errs, fmt.Errorf("schedule.pipeline_hour must be 0-23"))
	}
	for i, w := range c.Publish.Webhooks {
		if strings.TrimSpace(w.Platform) == "" || strings.TrimSpace(w.URL) == "" {
			errs = append(errs, fmt.Errorf("publish.webhooks[%d]: platform and url are required", i))
		}
	}
	return errors.Join(errs...)
}

// Encode renders the config as YAML with the API key redacted.
func (c Config) Encode() ([]byte, error) {
	if c.Backend.APIKey != "" {
		c.Backend.APIKey = "***"
	}
	return yaml.Marshal(c)
}
