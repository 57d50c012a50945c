// Package engagement runs the pipelines that talk to the audience between
// optimization runs: replying to mentions and proactive growth actions.
package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagepilot/internal/adapters"
	"pagepilot/internal/audit"
	"pagepilot/internal/model"
	"pagepilot/internal/persona"
	"pagepilot/internal/publish"
	"pagepilot/internal/runstore"
	"pagepilot/internal/worldctx"
)

const auditActor = "engagement"

// Mention is a public message about the product that may deserve a reply.
type Mention struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// key identifies a mention across platforms; IDs are only unique per platform.
func (m Mention) key() string { return m.Platform + "." + m.ID }

// MentionSource fetches the mentions to consider.
type MentionSource interface {
	Mentions(ctx context.Context) ([]Mention, error)
}

// FileSource reads mentions from a JSON file holding either a list or an
// object with a "mentions" list. A missing file yields no mentions.
type FileSource struct {
	Path string
}

func (f *FileSource) Mentions(ctx context.Context) ([]Mention, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mentions: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	var list []Mention
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &list)
	} else {
		var wrapped struct {
			Mentions []Mention `json:"mentions"`
		}
		err = json.Unmarshal(data, &wrapped)
		list = wrapped.Mentions
	}
	if err != nil {
		return nil, fmt.Errorf("decode mentions %s: %w", f.Path, err)
	}
	out := list[:0]
	for _, m := range list {
		if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.Platform) == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// StaticSource serves a fixed list of mentions.
type StaticSource []Mention

func (s StaticSource) Mentions(ctx context.Context) ([]Mention, error) {
	return s, nil
}

// Mention handling outcomes.
const (
	OutcomeReplied   = "replied"
	OutcomeDeclined  = "declined"
	OutcomeBlocked   = "blocked"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// MentionOutcome reports what happened to one mention.
type MentionOutcome struct {
	MentionID string `json:"mention_id"`
	Platform  string `json:"platform"`
	Outcome   string `json:"outcome"`
	Text      string `json:"text,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Responder answers new mentions. A mention whose reply was sent or
// deliberately skipped is never considered again.
type Responder struct {
	Store      *runstore.Store
	Builder    *worldctx.Builder
	Source     MentionSource
	Publishers map[string]publish.Publisher
	Backend    adapters.Backend
	Personas   *persona.Registry
	// CallTimeout bounds each persona call.
	CallTimeout time.Duration
	Audit       *audit.Logger
	Logger      *zap.Logger
}

// Check handles every unanswered mention once. Per-mention failures are
// reported in the outcomes; an error means the check could not run at all.
func (r *Responder) Check(ctx context.Context) ([]MentionOutcome, error) {
	logger := orNop(r.Logger)
	mentions, err := r.Source.Mentions(ctx)
	if err != nil {
		return nil, err
	}
	if len(mentions) == 0 {
		return nil, nil
	}
	wc, err := r.Builder.Build(ctx, "mentions-"+uuid.NewString(), 0)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	runner := &persona.Runner{Backend: r.Backend, Timeout: r.CallTimeout, Logger: logger}
	reg := registryOrDefault(r.Personas)

	var outcomes []MentionOutcome
	seen := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		if seen[m.key()] {
			outcomes = append(outcomes, MentionOutcome{MentionID: m.ID, Platform: m.Platform, Outcome: OutcomeDuplicate})
			continue
		}
		seen[m.key()] = true
		replied, err := r.Store.HasReplied(ctx, m.Platform, m.ID)
		if err != nil {
			return outcomes, err
		}
		if replied {
			outcomes = append(outcomes, MentionOutcome{MentionID: m.ID, Platform: m.Platform, Outcome: OutcomeDuplicate})
			continue
		}
		out, err := r.handle(ctx, runner, reg, wc, m)
		if err != nil {
			return outcomes, err
		}
		logger.Info("mention handled",
			zap.String("mention_id", m.ID),
			zap.String("platform", m.Platform),
			zap.String("outcome", out.Outcome),
		)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (r *Responder) handle(ctx context.Context, runner *persona.Runner, reg *persona.Registry, wc *worldctx.Context, m Mention) (MentionOutcome, error) {
	res := MentionOutcome{MentionID: m.ID, Platform: m.Platform}
	reply, err := persona.Execute(ctx, runner, reg.Responder, wc, persona.Responder+"."+m.key(), map[string]any{"mention": m})
	if err != nil {
		return res, err
	}
	post := runstore.SocialPost{Platform: m.Platform, InReplyTo: m.ID}

	switch {
	case reply.Defaulted():
		// The responder was unavailable; leave the mention for the next check.
		res.Outcome = OutcomeFailed
		res.Detail = string(reply.Reason)
		return res, nil
	case !reply.Value.Reply:
		res.Outcome = OutcomeDeclined
		res.Detail = reply.Value.Rationale
		post.Status = runstore.StatusSkipped
		post.Error = "declined: " + reply.Value.Rationale
		return res, r.log(ctx, post)
	}

	text := strings.TrimSpace(reply.Value.Text)
	res.Text = text
	post.Content = text
	verdict, err := persona.Execute(ctx, runner, reg.Content, wc, persona.Content+"."+m.key(), map[string]any{
		"description": "reply to a public mention",
		"mention":     m,
		"text":        text,
	})
	if err != nil {
		return res, err
	}
	if verdict.Value.Verdict != model.ContentPostable {
		res.Outcome = OutcomeBlocked
		res.Detail = verdict.Value.Rationale
		post.Status = runstore.StatusSkipped
		post.Error = "content gate: " + verdict.Value.Rationale
		return res, r.log(ctx, post)
	}

	pub, err := publish.Lookup(r.Publishers, m.Platform)
	if err == nil {
		var receipt publish.Receipt
		receipt, err = pub.Publish(ctx, publish.Content{Kind: publish.KindReply, Text: text, InReplyTo: m.ID}, m.ID)
		post.ExternalID = receipt.ID
		post.URL = receipt.URL
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Detail = err.Error()
		post.Status = runstore.StatusFailed
		post.Error = err.Error()
		return res, r.log(ctx, post)
	}
	res.Outcome = OutcomeReplied
	post.Status = runstore.StatusSent
	if err := r.log(ctx, post); err != nil {
		return res, err
	}
	r.audit(ctx, audit.EventMentionReplied, map[string]any{"mention_id": m.ID, "platform": m.Platform, "external_id": post.ExternalID})
	return res, nil
}

func (r *Responder) log(ctx context.Context, post runstore.SocialPost) error {
	if _, err := r.Store.AppendSocialPost(ctx, post); err != nil {
		return fmt.Errorf("log reply to %s: %w", post.InReplyTo, err)
	}
	return nil
}

func (r *Responder) audit(ctx context.Context, event string, payload any) {
	if r.Audit == nil {
		return
	}
	if err := r.Audit.LogEvent(ctx, auditActor, event, payload); err != nil {
		orNop(r.Logger).Warn("audit log failed", zap.String("event", event), zap.Error(err))
	}
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func registryOrDefault(reg *persona.Registry) *persona.Registry {
	if reg == nil {
		return persona.Default()
	}
	return reg
}
