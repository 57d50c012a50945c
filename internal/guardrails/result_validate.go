package guardrails

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DecodeObject parses data as a JSON object, checks that every required
// top-level field is present, then decodes it into out. Unknown fields are
// tolerated.
func DecodeObject(data []byte, out any, required ...string) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return fmt.Errorf("parse object: %w", err)
	}
	if rawMap == nil {
		return fmt.Errorf("expected a JSON object")
	}

	var missing []string
	for _, field := range required {
		raw, ok := rawMap[field]
		if !ok || strings.TrimSpace(string(raw)) == "null" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &SchemaError{Missing: missing}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &SchemaError{Cause: err}
	}
	return nil
}

// SchemaError reports a JSON object that parsed but did not match the
// expected shape.
type SchemaError struct {
	Missing []string
	Cause   error
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("field types do not match: %v", e.Cause)
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}
