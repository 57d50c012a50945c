package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManualProvider reads hand-entered landing page metrics from YAML. The file
// holds either a `metrics:` list or a bare list of entries. A missing or empty
// file yields no points.
type ManualProvider struct {
	Path string
	AsOf time.Time
}

func (p *ManualProvider) Name() string { return "manual" }

func (p *ManualProvider) Collect(ctx context.Context) ([]MetricPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manual metrics: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manual metrics: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	entries, err := manualEntries(doc.Content[0])
	if err != nil {
		return nil, fmt.Errorf("manual metrics %s: %w", p.Path, err)
	}
	return pointsFrom(p.Name(), p.AsOf, entries), nil
}

func manualEntries(root *yaml.Node) ([]rawMetric, error) {
	list := root
	if root.Kind == yaml.MappingNode {
		list = nil
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "metrics" {
				list = root.Content[i+1]
				break
			}
		}
		if list == nil {
			return nil, errors.New("missing `metrics:` list")
		}
	}
	if list.Kind != yaml.SequenceNode {
		return nil, errors.New("metrics must be a list")
	}
	var entries []rawMetric
	if err := list.Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}
