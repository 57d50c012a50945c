package guardrails

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Fingerprint hashes the canonical JSON encoding of v. Map keys are sorted by
// encoding/json, so equal documents hash equally.
func Fingerprint(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// IntegrityCheck captures the page state before the gate chain and verifies
// it afterwards. A run that does not deploy must leave the state untouched.
type IntegrityCheck struct {
	BeforeHash string
	AfterHash  string
}

// NewIntegrityCheck fingerprints the state before the run mutates anything.
func NewIntegrityCheck(state any) (*IntegrityCheck, error) {
	before, err := Fingerprint(state)
	if err != nil {
		return nil, fmt.Errorf("capture before fingerprint: %w", err)
	}
	return &IntegrityCheck{BeforeHash: before}, nil
}

// CaptureAfter fingerprints the post-run state.
func (c *IntegrityCheck) CaptureAfter(state any) error {
	after, err := Fingerprint(state)
	if err != nil {
		return fmt.Errorf("capture after fingerprint: %w", err)
	}
	c.AfterHash = after
	return nil
}

// HasChanges reports whether the state changed between the two captures.
func (c *IntegrityCheck) HasChanges() bool {
	return c.AfterHash != "" && c.BeforeHash != c.AfterHash
}

// BuildViolation creates a violation record map.
func BuildViolation(violationType string, details map[string]any) map[string]any {
	return map[string]any{
		"violation_type": violationType,
		"details":        details,
	}
}

// WriteViolation writes a violation record to dir/violation.json.
func WriteViolation(dir string, violation map[string]any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure violation dir: %w", err)
	}
	path := filepath.Join(dir, "violation.json")
	data, err := json.MarshalIndent(violation, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal violation: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write violation.json: %w", err)
	}
	return path, nil
}

// SanitizeErrorForJSON strips newlines and truncates error messages for JSON safety.
func SanitizeErrorForJSON(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	if len(msg) > 500 {
		msg = msg[:497] + "..."
	}
	return msg
}
