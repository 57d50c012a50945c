package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings overrides the tunable parts of one persona.
type Settings struct {
	Instruction string   `yaml:"instruction,omitempty"`
	Role        string   `yaml:"role,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// LoadOverrides reads a YAML map of persona name to Settings. A missing file
// yields no overrides.
func LoadOverrides(path string) (map[string]Settings, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read persona overrides: %w", err)
	}
	var doc struct {
		Personas map[string]Settings `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse persona overrides %s: %w", path, err)
	}
	return doc.Personas, nil
}

// Apply merges overrides into the registry. Unknown persona names and
// out-of-range values are rejected before anything is changed.
func (r *Registry) Apply(overrides map[string]Settings) error {
	for name, s := range overrides {
		if !known(name) {
			return fmt.Errorf("unknown persona %q", name)
		}
		if s.MaxTokens < 0 {
			return fmt.Errorf("persona %s: max_tokens must be non-negative", name)
		}
		if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
			return fmt.Errorf("persona %s: temperature must be between 0 and 2", name)
		}
	}
	for name, s := range overrides {
		switch name {
		case Analyst:
			override(&r.Analyst, s)
		case Optimizer:
			override(&r.Optimizer, s)
		case Critic:
			override(&r.Critic, s)
		case Mission:
			override(&r.Mission, s)
		case Decision:
			override(&r.Decision, s)
		case Budget:
			override(&r.Budget, s)
		case Content:
			override(&r.Content, s)
		case QA:
			override(&r.QA, s)
		case Narrator:
			override(&r.Narrator, s)
		case Responder:
			override(&r.Responder, s)
		case Growth:
			override(&r.Growth, s)
		}
	}
	return nil
}

func override[T any](d *Descriptor[T], s Settings) {
	if strings.TrimSpace(s.Instruction) != "" {
		d.Instruction = s.Instruction
	}
	if strings.TrimSpace(s.Role) != "" {
		d.Role = s.Role
	}
	if s.MaxTokens > 0 {
		d.MaxTokens = s.MaxTokens
	}
	if s.Temperature != nil {
		d.Temperature = *s.Temperature
	}
}

func known(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}
