package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CollectAll runs every provider and merges their points. A failing provider
// contributes no points; its error is joined into the returned error so the
// caller can log it and carry on with what was collected.
func CollectAll(ctx context.Context, providers []Provider) ([]MetricPoint, error) {
	var all []MetricPoint
	var errs []error
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		points, err := provider.Collect(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s provider: %w", provider.Name(), err))
			continue
		}
		all = append(all, points...)
	}
	return CanonicalizePoints(all), errors.Join(errs...)
}

// CollectWindow collects a Window as of asOf.
func CollectWindow(ctx context.Context, providers []Provider, asOf time.Time) (Window, error) {
	points, err := CollectAll(ctx, providers)
	return Window{AsOf: AsOfTimestamp(asOf), Points: points}, err
}
