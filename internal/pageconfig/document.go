package pageconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"
)

// KVKey is the key the live page config is stored under.
const KVKey = "page_config"

// KV is the subset of the run store the repository needs.
type KV interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
}

// Repository loads and saves the live page configuration.
type Repository struct {
	KV KV
}

// Load returns the stored document, or an empty one if nothing is stored yet.
func (r *Repository) Load(ctx context.Context) (Document, error) {
	raw, err := r.KV.GetKV(ctx, KVKey)
	if err != nil {
		return nil, fmt.Errorf("load page config: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return Document{}, nil
	}
	return Decode([]byte(raw))
}

// Save persists doc as canonical JSON.
func (r *Repository) Save(ctx context.Context, doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := r.KV.SetKV(ctx, KVKey, string(data)); err != nil {
		return fmt.Errorf("save page config: %w", err)
	}
	return nil
}

// Decode parses a JSON page config.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode page config: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Encode renders doc as compact JSON with sorted keys.
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode page config: %w", err)
	}
	return data, nil
}

// LoadSeed reads a page config from a YAML or JSON file.
func LoadSeed(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page seed: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return Decode(data)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse page seed yaml: %w", err)
	}
	normalized, ok := normalize(raw).(map[string]any)
	if !ok {
		return Document{}, nil
	}
	return Document(normalized), nil
}

// Clone returns a deep copy of doc.
func Clone(doc Document) Document {
	if doc == nil {
		return Document{}
	}
	return Document(cloneValue(map[string]any(doc)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// normalize converts arbitrary Go values (ints, typed maps, yaml nodes) into
// the encoding/json shapes the document uses.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, float64, bool:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// Diff renders a unified diff between two documents using indented JSON.
func Diff(before, after Document) (string, error) {
	a, err := indent(before)
	if err != nil {
		return "", err
	}
	b, err := indent(after)
	if err != nil {
		return "", err
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "page_config.before.json",
		ToFile:   "page_config.after.json",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diff page config: %w", err)
	}
	return text, nil
}

// WriteDiff writes the unified diff to dir/changes.diff and returns the path,
// or "" when the documents are identical.
func WriteDiff(dir string, before, after Document) (string, error) {
	text, err := Diff(before, after)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure diff dir: %w", err)
	}
	path := filepath.Join(dir, "changes.diff")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write diff: %w", err)
	}
	return path, nil
}

func indent(doc Document) (string, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", fmt.Errorf("indent page config: %w", err)
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}
