// Package publish sends narrated content to social platforms. Publishing is
// always best-effort: callers record failures and move on.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnsupported is returned by publishers that cannot perform an action kind.
var ErrUnsupported = errors.New("action not supported by publisher")

// Content kinds.
const (
	KindPost    = "post"
	KindReply   = "reply"
	KindComment = "comment"
	KindLike    = "like"
	KindFollow  = "follow"
)

// Content is what gets published.
type Content struct {
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	Title     string `json:"title,omitempty"`
	InReplyTo string `json:"in_reply_to,omitempty"`
	RunNumber int    `json:"run_number,omitempty"`
}

// Receipt identifies a published item.
type Receipt struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Publisher publishes to one platform. target is platform-specific and may be empty.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, c Content, target string) (Receipt, error)
}

// Result is one publisher's outcome in a fan-out.
type Result struct {
	Platform string
	Receipt  Receipt
	Err      error
}

// Fanout publishes c to every publisher concurrently and waits for all of
// them. Failures are reported per result; Fanout itself never fails.
func Fanout(ctx context.Context, pubs []Publisher, c Content, target string, logger *zap.Logger) []Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]Result, len(pubs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(pubs), 1))
	for i, p := range pubs {
		g.Go(func() error {
			receipt, err := p.Publish(gctx, c, target)
			results[i] = Result{Platform: p.Platform(), Receipt: receipt, Err: err}
			if err != nil {
				logger.Warn("publish failed", zap.String("platform", p.Platform()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ByPlatform indexes publishers by platform name.
func ByPlatform(pubs []Publisher) map[string]Publisher {
	out := make(map[string]Publisher, len(pubs))
	for _, p := range pubs {
		out[strings.ToLower(p.Platform())] = p
	}
	return out
}

// Lookup returns the publisher for platform or an error naming it.
func Lookup(pubs map[string]Publisher, platform string) (Publisher, error) {
	p, ok := pubs[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return nil, fmt.Errorf("no publisher configured for platform %q", platform)
	}
	return p, nil
}
