package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pagepilot/internal/audit"
	"pagepilot/internal/model"
	"pagepilot/internal/pageconfig"
	"pagepilot/internal/publish"
	"pagepilot/internal/runstore"
	"pagepilot/internal/worldctx"
)

// DeployReport is recorded as the deploy stage output.
type DeployReport struct {
	Results      []pageconfig.OpResult `json:"results"`
	Applied      []model.ChangeOp      `json:"applied"`
	DiffPath     string                `json:"diff_path,omitempty"`
	Spend        float64               `json:"spend"`
	CaptureAfter map[string]string     `json:"capture_after,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// deploy applies the gated change set, persists it, books the spend, waits
// for propagation and captures the live page. A persistence failure stops
// the deployment; the decision stays approved and the run is closed as error.
func (r *runState) deploy(ctx context.Context) DeployReport {
	c := r.c
	st := r.state
	after, results := pageconfig.Apply(r.wc.Page, st.Changes)
	report := DeployReport{Results: results, Applied: pageconfig.Applied(results)}
	if report.Applied == nil {
		report.Applied = []model.ChangeOp{}
	}
	for _, res := range results {
		if !res.Applied {
			r.logger.Warn("change skipped", zap.Int("index", res.Index), zap.String("path", res.Op.Path), zap.String("error", res.Error))
		}
	}

	if err := c.Pages.Save(ctx, after); err != nil {
		r.deployErr = fmt.Errorf("persist page config: %w", err)
		report.Error = r.deployErr.Error()
		return report
	}
	r.res.Changes = report.Applied

	if c.Workspace != nil {
		path, err := pageconfig.WriteDiff(c.Workspace.RunDir(r.run.Number), r.wc.Page, after)
		if err != nil {
			r.logger.Warn("write change diff", zap.Error(err))
		}
		report.DiffPath = path
	}

	if spend := st.ApprovedSpend; spend > 0 {
		if _, err := c.Store.AddFloat(ctx, worldctx.KeySpendCumulative, spend); err != nil {
			r.deployErr = fmt.Errorf("record cumulative spend: %w", err)
			report.Error = r.deployErr.Error()
			return report
		}
		if _, err := c.Store.AddFloat(ctx, worldctx.DailySpendKey(r.wc.Now), spend); err != nil {
			r.logger.Warn("record daily spend", zap.Error(err))
		}
	}
	r.res.Spend = st.ApprovedSpend
	report.Spend = st.ApprovedSpend

	c.audit(ctx, audit.EventDeployed, map[string]any{
		"run_id":  r.run.ID,
		"applied": len(report.Applied),
		"skipped": len(results) - len(report.Applied),
		"spend":   report.Spend,
	})

	if err := c.sleep(ctx, c.PropagationWait); err != nil {
		r.logger.Warn("propagation wait interrupted", zap.Error(err))
	}
	report.CaptureAfter = r.capture(ctx, "after")
	if len(report.CaptureAfter) > 0 {
		if err := c.Store.UpdateSnapshots(ctx, r.run.ID, runstore.Snapshots{CaptureAfter: report.CaptureAfter}); err != nil {
			r.logger.Warn("record after capture", zap.Error(err))
		}
	}
	return report
}

// capture is best-effort: a failed or slow capture yields what it managed.
func (r *runState) capture(ctx context.Context, phase string) map[string]string {
	if r.c.Capturer == nil {
		return nil
	}
	urls, err := r.c.Capturer.CaptureState(ctx, r.run.ID, phase)
	if err != nil {
		r.logger.Warn("capture degraded", zap.String("phase", phase), zap.Error(err))
	}
	return urls
}

// distribute sends the narrative to the email log, the publishers and the
// collective memory. Every failure here is logged and ignored.
func (r *runState) distribute(ctx context.Context, n model.Narrative) {
	c := r.c
	subject := strings.TrimSpace(n.EmailSubject)
	if subject == "" {
		subject = n.Title
	}
	body := n.Body
	if c.EmailTo != "" {
		body = "To: " + c.EmailTo + "\n\n" + body
	}
	if _, err := c.Store.AppendEmail(ctx, runstore.Email{RunID: r.run.ID, Subject: subject, Body: body}); err != nil {
		r.ancillaryFailure(ctx, "emails", err)
	}

	if text := strings.TrimSpace(n.SocialPost); text != "" && len(c.Publishers) > 0 {
		results := publish.Fanout(ctx, c.Publishers, publish.Content{
			Kind:      publish.KindPost,
			Text:      text,
			Title:     n.Title,
			RunNumber: r.run.Number,
		}, "", r.logger)
		for _, pr := range results {
			post := runstore.SocialPost{
				RunID:      r.run.ID,
				Platform:   pr.Platform,
				Content:    text,
				ExternalID: pr.Receipt.ID,
				URL:        pr.Receipt.URL,
				Status:     runstore.StatusSent,
			}
			if pr.Err != nil {
				post.Status = runstore.StatusFailed
				post.Error = pr.Err.Error()
				c.audit(ctx, audit.EventPublishFailed, map[string]any{"run_id": r.run.ID, "platform": pr.Platform, "error": post.Error})
			}
			if _, err := c.Store.AppendSocialPost(ctx, post); err != nil {
				r.ancillaryFailure(ctx, "social_posts", err)
			}
		}
	}

	entry := fmt.Sprintf("run %d: %s: %s", r.run.Number, r.res.Decision, n.Title)
	limit := c.CollectiveLimit
	if limit <= 0 {
		limit = 20
	}
	if err := c.Store.AppendCapped(ctx, worldctx.KeyCollective, entry, limit); err != nil {
		r.ancillaryFailure(ctx, "collective", err)
	}
}

func (r *runState) ancillaryFailure(ctx context.Context, log string, err error) {
	r.logger.Warn("ancillary log write failed", zap.String("log", log), zap.Error(err))
	r.c.audit(ctx, audit.EventLogFailed, map[string]any{"run_id": r.run.ID, "log": log, "error": err.Error()})
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
