package pageconfig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pagepilot/internal/model"
)

var (
	// ErrPathNotFound is returned when an op targets a path that does not exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrInvalidOp is returned when an op cannot be applied to the value at its path.
	ErrInvalidOp = errors.New("invalid change op")
)

// Document is a decoded page configuration. Values use the encoding/json
// shapes: map[string]any, []any, string, float64, bool and nil.
type Document map[string]any

// OpResult reports how a single change op fared during Apply.
type OpResult struct {
	Index   int            `json:"index"`
	Op      model.ChangeOp `json:"op"`
	Applied bool           `json:"applied"`
	Error   string         `json:"error,omitempty"`
}

// Apply applies ops in order to a copy of doc. Ops that fail are skipped and
// reported; the input document is never mutated.
func Apply(doc Document, ops []model.ChangeOp) (Document, []OpResult) {
	out := Clone(doc)
	results := make([]OpResult, 0, len(ops))
	for idx, op := range ops {
		res := OpResult{Index: idx, Op: op}
		if err := applyOne(out, op); err != nil {
			res.Error = err.Error()
		} else {
			res.Applied = true
		}
		results = append(results, res)
	}
	return out, results
}

// ApplyStrict applies ops to a copy of doc and stops at the first failure.
func ApplyStrict(doc Document, ops []model.ChangeOp) (Document, error) {
	out := Clone(doc)
	for idx, op := range ops {
		if err := applyOne(out, op); err != nil {
			return nil, fmt.Errorf("change %d (%s %s): %w", idx, op.Action, op.Path, err)
		}
	}
	return out, nil
}

// Applied returns the ops that were applied successfully.
func Applied(results []OpResult) []model.ChangeOp {
	var ops []model.ChangeOp
	for _, r := range results {
		if r.Applied {
			ops = append(ops, r.Op)
		}
	}
	return ops
}

func applyOne(doc Document, op model.ChangeOp) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOp, err)
	}
	segments := splitPath(op.Path)
	parent, err := lookup(doc, segments[:len(segments)-1])
	if err != nil {
		return err
	}
	last := segments[len(segments)-1]
	value := normalize(op.Value)

	switch container := parent.(type) {
	case map[string]any:
		return applyToObject(container, last, op.Action, value)
	case []any:
		updated, err := applyToArray(container, last, op.Action, value)
		if err != nil {
			return err
		}
		return replaceChild(doc, segments[:len(segments)-1], updated)
	default:
		return fmt.Errorf("%w: parent of %q is not an object or array", ErrInvalidOp, op.Path)
	}
}

func applyToObject(obj map[string]any, key string, action model.Action, value any) error {
	current, exists := obj[key]
	switch action {
	case model.ActionAdd:
		if exists {
			return fmt.Errorf("%w: key %q already exists", ErrInvalidOp, key)
		}
		obj[key] = value
	case model.ActionModify:
		if !exists {
			return fmt.Errorf("%w: %q", ErrPathNotFound, key)
		}
		obj[key] = merge(current, value)
	case model.ActionReplace:
		if !exists {
			return fmt.Errorf("%w: %q", ErrPathNotFound, key)
		}
		obj[key] = value
	case model.ActionRemove:
		if !exists {
			return fmt.Errorf("%w: %q", ErrPathNotFound, key)
		}
		delete(obj, key)
	case model.ActionReorder:
		if !exists {
			return fmt.Errorf("%w: %q", ErrPathNotFound, key)
		}
		arr, ok := current.([]any)
		if !ok {
			return fmt.Errorf("%w: reorder target %q is not an array", ErrInvalidOp, key)
		}
		reordered, err := reorder(arr, value)
		if err != nil {
			return err
		}
		obj[key] = reordered
	}
	return nil
}

func applyToArray(arr []any, segment string, action model.Action, value any) ([]any, error) {
	if action == model.ActionAdd && segment == "-" {
		return append(arr, value), nil
	}
	idx, err := strconv.Atoi(segment)
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q is not an array index", ErrInvalidOp, segment)
	}
	switch action {
	case model.ActionAdd:
		if idx > len(arr) {
			return nil, fmt.Errorf("%w: index %d beyond length %d", ErrPathNotFound, idx, len(arr))
		}
		out := make([]any, 0, len(arr)+1)
		out = append(out, arr[:idx]...)
		out = append(out, value)
		return append(out, arr[idx:]...), nil
	}
	if idx >= len(arr) {
		return nil, fmt.Errorf("%w: index %d beyond length %d", ErrPathNotFound, idx, len(arr))
	}
	switch action {
	case model.ActionModify:
		arr[idx] = merge(arr[idx], value)
	case model.ActionReplace:
		arr[idx] = value
	case model.ActionRemove:
		out := make([]any, 0, len(arr)-1)
		out = append(out, arr[:idx]...)
		return append(out, arr[idx+1:]...), nil
	case model.ActionReorder:
		inner, ok := arr[idx].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: reorder target is not an array", ErrInvalidOp)
		}
		reordered, err := reorder(inner, value)
		if err != nil {
			return nil, err
		}
		arr[idx] = reordered
	}
	return arr, nil
}

func reorder(arr []any, value any) ([]any, error) {
	perm, err := model.ReorderIndices(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOp, err)
	}
	if len(perm) != len(arr) {
		return nil, fmt.Errorf("%w: reorder needs %d indices, got %d", ErrInvalidOp, len(arr), len(perm))
	}
	seen := make([]bool, len(arr))
	out := make([]any, len(arr))
	for i, p := range perm {
		if p >= len(arr) || seen[p] {
			return nil, fmt.Errorf("%w: reorder indices must be a permutation", ErrInvalidOp)
		}
		seen[p] = true
		out[i] = arr[p]
	}
	return out, nil
}

// merge shallow-merges objects; any other combination replaces.
func merge(current, value any) any {
	cur, ok := current.(map[string]any)
	if !ok {
		return value
	}
	next, ok := value.(map[string]any)
	if !ok {
		return value
	}
	for k, v := range next {
		cur[k] = v
	}
	return cur
}

func lookup(doc Document, segments []string) (any, error) {
	var node any = map[string]any(doc)
	for i, seg := range segments {
		switch container := node.(type) {
		case map[string]any:
			next, ok := container[seg]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, strings.Join(segments[:i+1], "."))
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(container) {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, strings.Join(segments[:i+1], "."))
			}
			node = container[idx]
		default:
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, strings.Join(segments[:i+1], "."))
		}
	}
	return node, nil
}

// replaceChild stores a rebuilt array back at path; slices that grow or shrink
// cannot be updated in place.
func replaceChild(doc Document, segments []string, value []any) error {
	if len(segments) == 0 {
		return fmt.Errorf("%w: document root must be an object", ErrInvalidOp)
	}
	parent, err := lookup(doc, segments[:len(segments)-1])
	if err != nil {
		return err
	}
	last := segments[len(segments)-1]
	switch container := parent.(type) {
	case map[string]any:
		container[last] = value
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(container) {
			return fmt.Errorf("%w: %q", ErrPathNotFound, last)
		}
		container[idx] = value
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOp, last)
	}
	return nil
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(strings.TrimSpace(path), ".")
	return strings.Split(path, ".")
}
