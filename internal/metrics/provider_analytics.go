package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// AnalyticsProvider loads metric points from a JSON export produced by the
// site's analytics tool (visitors, signups, bounce rate and so on).
type AnalyticsProvider struct {
	ReportPath string
	AsOf       time.Time
}

func (p *AnalyticsProvider) Name() string { return "analytics" }

type analyticsReport struct {
	Period  string      `json:"period,omitempty"`
	Metrics []rawMetric `json:"metrics"`
}

func (p *AnalyticsProvider) Collect(ctx context.Context) ([]MetricPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.ReportPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read analytics export: %w", err)
	}

	var report analyticsReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse analytics export: %w", err)
	}
	points := pointsFrom(p.Name(), p.AsOf, report.Metrics)
	if report.Period != "" {
		for i := range points {
			points[i].Evidence = append(points[i].Evidence, "period:"+report.Period)
		}
	}
	return points, nil
}
