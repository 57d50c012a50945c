package metrics

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"time"
)

// Provider collects metric points from a single source.
type Provider interface {
	Name() string
	Collect(ctx context.Context) ([]MetricPoint, error)
}

// Dimension is one attribute of a metric point, such as a traffic channel or
// a page variant. Dimensions are kept as a sorted slice so JSON output is stable.
type Dimension struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// MetricPoint is a single observed value.
type MetricPoint struct {
	Key        string      `json:"key" yaml:"key"`
	Value      float64     `json:"value" yaml:"value"`
	Unit       string      `json:"unit,omitempty" yaml:"unit,omitempty"`
	Timestamp  string      `json:"timestamp" yaml:"timestamp"`
	Source     string      `json:"source" yaml:"source"`
	Evidence   []string    `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Dimensions []Dimension `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// rawMetric is the entry shape shared by the manual and analytics files.
type rawMetric struct {
	Key        string            `json:"key" yaml:"key"`
	Value      float64           `json:"value" yaml:"value"`
	Unit       string            `json:"unit,omitempty" yaml:"unit"`
	Evidence   []string          `json:"evidence,omitempty" yaml:"evidence"`
	Dimensions map[string]string `json:"dimensions,omitempty" yaml:"dimensions"`
}

func (m rawMetric) point(source, ts string) (MetricPoint, bool) {
	key := strings.TrimSpace(m.Key)
	if key == "" {
		return MetricPoint{}, false
	}
	var dims []Dimension
	for _, k := range slices.Sorted(maps.Keys(m.Dimensions)) {
		dims = append(dims, Dimension{Key: k, Value: m.Dimensions[k]})
	}
	return MetricPoint{
		Key:        key,
		Value:      m.Value,
		Unit:       m.Unit,
		Timestamp:  ts,
		Source:     source,
		Evidence:   m.Evidence,
		Dimensions: CanonicalizeDimensions(dims),
	}, true
}

func pointsFrom(source string, asOf time.Time, metrics []rawMetric) []MetricPoint {
	ts := AsOfTimestamp(asOf)
	points := make([]MetricPoint, 0, len(metrics))
	for _, m := range metrics {
		if p, ok := m.point(source, ts); ok {
			points = append(points, p)
		}
	}
	return points
}

// CanonicalizePoints returns points with evidence and dimensions normalized,
// ordered by key, dimensions, source, timestamp and value.
func CanonicalizePoints(points []MetricPoint) []MetricPoint {
	out := make([]MetricPoint, len(points))
	for i, p := range points {
		p.Evidence = canonicalizeStrings(p.Evidence)
		p.Dimensions = CanonicalizeDimensions(p.Dimensions)
		out[i] = p
	}
	slices.SortStableFunc(out, func(a, b MetricPoint) int {
		return cmp.Or(
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(dimensionsKey(a.Dimensions), dimensionsKey(b.Dimensions)),
			cmp.Compare(a.Source, b.Source),
			cmp.Compare(a.Timestamp, b.Timestamp),
			cmp.Compare(a.Value, b.Value),
		)
	})
	return out
}

func canonicalizeStrings(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// CanonicalizeDimensions trims, sorts and de-duplicates dimensions, dropping
// any with an empty key or value.
func CanonicalizeDimensions(dimensions []Dimension) []Dimension {
	var out []Dimension
	for _, d := range dimensions {
		d = Dimension{Key: strings.TrimSpace(d.Key), Value: strings.TrimSpace(d.Value)}
		if d.Key != "" && d.Value != "" {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b Dimension) int {
		return cmp.Or(cmp.Compare(a.Key, b.Key), cmp.Compare(a.Value, b.Value))
	})
	return slices.Compact(out)
}

func dimensionsKey(dimensions []Dimension) string {
	var b strings.Builder
	for i, d := range dimensions {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(d.Key)
		b.WriteByte('=')
		b.WriteString(d.Value)
	}
	return b.String()
}

// AsOfTimestamp is the UTC day, in RFC3339, that collected points are stamped with.
func AsOfTimestamp(asOf time.Time) string {
	return asOf.UTC().Truncate(24 * time.Hour).Format(time.RFC3339)
}
