package publish

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DryRunPublisher accepts everything and publishes nothing. It keeps what it
// was given so a dry run can be inspected.
type DryRunPublisher struct {
	Name   string
	Logger *zap.Logger

	mu   sync.Mutex
	sent []Content
}

func (d *DryRunPublisher) Platform() string {
	if d.Name == "" {
		return "dry-run"
	}
	return d.Name
}

func (d *DryRunPublisher) Publish(ctx context.Context, c Content, target string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	d.mu.Lock()
	d.sent = append(d.sent, c)
	d.mu.Unlock()
	if d.Logger != nil {
		d.Logger.Info("dry-run publish", zap.String("platform", d.Platform()), zap.String("kind", c.Kind), zap.String("target", target))
	}
	return Receipt{ID: "dry-" + uuid.NewString()}, nil
}

// Sent returns a copy of everything published so far.
func (d *DryRunPublisher) Sent() []Content {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Content, len(d.sent))
	copy(out, d.sent)
	return out
}
