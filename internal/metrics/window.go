package metrics

// Window is the set of metric points the personas see for one run.
type Window struct {
	AsOf   string        `json:"as_of"`
	Points []MetricPoint `json:"points"`
}

// Empty reports whether the window holds no points.
func (w Window) Empty() bool {
	return len(w.Points) == 0
}

// Summary flattens undimensioned points into key/value pairs. When several
// sources report a key, the first in canonical order wins.
func (w Window) Summary() map[string]float64 {
	out := make(map[string]float64)
	for _, point := range CanonicalizePoints(w.Points) {
		if len(point.Dimensions) > 0 {
			continue
		}
		if _, ok := out[point.Key]; ok {
			continue
		}
		out[point.Key] = point.Value
	}
	return out
}

// Value returns the summary value for key.
func (w Window) Value(key string) (float64, bool) {
	v, ok := w.Summary()[key]
	return v, ok
}
