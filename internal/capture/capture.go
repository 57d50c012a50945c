// Package capture records the visual state of the live page before and after
// a deployment, one screenshot per breakpoint.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Capturer returns artifact URLs keyed by breakpoint name.
type Capturer interface {
	CaptureState(ctx context.Context, runID, phase string) (map[string]string, error)
}

// Breakpoint is one viewport size.
type Breakpoint struct {
	Name   string `yaml:"name" json:"name"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	Mobile bool   `yaml:"mobile" json:"mobile"`
}

// DefaultBreakpoints covers a phone, a tablet and a laptop.
func DefaultBreakpoints() []Breakpoint {
	return []Breakpoint{
		{Name: "mobile", Width: 390, Height: 844, Mobile: true},
		{Name: "tablet", Width: 768, Height: 1024, Mobile: true},
		{Name: "desktop", Width: 1440, Height: 900},
	}
}

// Shooter renders url at a breakpoint and returns PNG bytes.
type Shooter interface {
	Shoot(ctx context.Context, url string, bp Breakpoint) ([]byte, error)
}

// Sink stores an artifact and returns where it can be viewed.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Screens captures every breakpoint of PageURL through Shooter into Sink.
type Screens struct {
	PageURL     string
	Breakpoints []Breakpoint
	Shooter     Shooter
	Sink        Sink
	// Timeout bounds the whole capture. Zero means no bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// CaptureState shoots each breakpoint in order. Breakpoints that fail are
// left out of the map and reported in the joined error.
func (s *Screens) CaptureState(ctx context.Context, runID, phase string) (map[string]string, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	bps := s.Breakpoints
	if len(bps) == 0 {
		bps = DefaultBreakpoints()
	}

	urls := make(map[string]string, len(bps))
	var errs []error
	for _, bp := range bps {
		data, err := s.Shooter.Shoot(ctx, s.PageURL, bp)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", bp.Name, err))
			continue
		}
		key := fmt.Sprintf("%s/%s-%s.png", runID, phase, bp.Name)
		url, err := s.Sink.Put(ctx, key, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: store: %w", bp.Name, err))
			continue
		}
		urls[bp.Name] = url
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("capture incomplete", zap.String("run_id", runID), zap.String("phase", phase), zap.Error(err))
		return urls, err
	}
	logger.Info("captured page state", zap.String("run_id", runID), zap.String("phase", phase), zap.Int("breakpoints", len(urls)))
	return urls, nil
}

// Noop captures nothing.
type Noop struct{}

func (Noop) CaptureState(context.Context, string, string) (map[string]string, error) {
	return map[string]string{}, nil
}
