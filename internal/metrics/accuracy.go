package metrics

import (
	"math"

	"pagepilot/internal/model"
)

// AccuracyEntry scores one deployed run against the metric it predicted.
type AccuracyEntry struct {
	RunNumber int     `json:"run_number"`
	MetricKey string  `json:"metric_key"`
	Direction string  `json:"direction"`
	Before    float64 `json:"before"`
	After     float64 `json:"after"`
	Correct   bool    `json:"correct"`
}

// TrackRecord summarizes how often deployed changes moved their expected
// metric in the predicted direction.
type TrackRecord struct {
	Evaluated int             `json:"evaluated"`
	Correct   int             `json:"correct"`
	Accuracy  float64         `json:"accuracy"`
	Entries   []AccuracyEntry `json:"entries,omitempty"`
}

// ComputeTrackRecord scores every approved run that declared an expected
// metric and has that metric both before and after deployment.
func ComputeTrackRecord(history []model.HistoryEntry) TrackRecord {
	var record TrackRecord
	for _, entry := range history {
		if entry.Decision != model.DecisionApproved || entry.Expected == nil {
			continue
		}
		before, okBefore := entry.MetricsBefore[entry.Expected.Key]
		after, okAfter := entry.MetricsAfter[entry.Expected.Key]
		if !okBefore || !okAfter {
			continue
		}
		correct := movedAsPredicted(entry.Expected.Direction, before, after)
		record.Entries = append(record.Entries, AccuracyEntry{
			RunNumber: entry.RunNumber,
			MetricKey: entry.Expected.Key,
			Direction: entry.Expected.Direction,
			Before:    before,
			After:     after,
			Correct:   correct,
		})
		record.Evaluated++
		if correct {
			record.Correct++
		}
	}
	if record.Evaluated > 0 {
		record.Accuracy = math.Round(float64(record.Correct)/float64(record.Evaluated)*1000) / 1000
	}
	return record
}

func movedAsPredicted(direction string, before, after float64) bool {
	switch direction {
	case "increase":
		return after > before
	case "decrease":
		return after < before
	default:
		return false
	}
}
