package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Publishing log statuses.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Email is one entry in the append-only email log.
type Email struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// SocialPost is one entry in the append-only social log.
type SocialPost struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Platform   string    `json:"platform"`
	Content    string    `json:"content"`
	InReplyTo  string    `json:"in_reply_to,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// GrowthActionRecord is one entry in the append-only growth log.
type GrowthActionRecord struct {
	ID         int64     `json:"id"`
	Platform   string    `json:"platform"`
	Kind       string    `json:"kind"`
	Target     string    `json:"target,omitempty"`
	Content    string    `json:"content,omitempty"`
	Status     string    `json:"status"`
	ExternalID string    `json:"external_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AppendEmail adds an email digest to the log.
func (s *Store) AppendEmail(ctx context.Context, e Email) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (run_id, subject, body, created_at)
		VALUES (?, ?, ?, ?)
	`, nullString(e.RunID), e.Subject, e.Body, s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("append email: %w", err)
	}
	return res.LastInsertId()
}

// AppendSocialPost adds a publishing attempt to the social log.
func (s *Store) AppendSocialPost(ctx context.Context, p SocialPost) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO social_posts (run_id, platform, content, in_reply_to, external_id, url, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(p.RunID), p.Platform, p.Content, nullString(p.InReplyTo), nullString(p.ExternalID),
		nullString(p.URL), p.Status, nullString(p.Error), s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("append social post: %w", err)
	}
	return res.LastInsertId()
}

// AppendGrowthAction adds an executed growth action to the log.
func (s *Store) AppendGrowthAction(ctx context.Context, a GrowthActionRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO growth_actions (platform, kind, target, content, status, external_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Platform, a.Kind, nullString(a.Target), nullString(a.Content), a.Status,
		nullString(a.ExternalID), nullString(a.Error), s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("append growth action: %w", err)
	}
	return res.LastInsertId()
}

// HasReplied reports whether a reply to mentionID on platform was already
// sent or deliberately skipped.
func (s *Store) HasReplied(ctx context.Context, platform, mentionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM social_posts
		WHERE platform = ? AND in_reply_to = ? AND status IN ('sent', 'skipped')
		LIMIT 1
	`, platform, mentionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check reply: %w", err)
	}
	return true, nil
}

// CountGrowthActionsSince counts executed growth actions since t.
func (s *Store) CountGrowthActionsSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM growth_actions
		WHERE status = 'sent' AND created_at >= ?
	`, t.UTC().Format(time.RFC3339)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count growth actions: %w", err)
	}
	return n, nil
}

// ListSocialPosts returns up to limit social posts, newest first.
func (s *Store) ListSocialPosts(ctx context.Context, limit int) ([]SocialPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, platform, content, in_reply_to, external_id, url, status, error, created_at
		FROM social_posts
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query social posts: %w", err)
	}
	defer rows.Close()

	var posts []SocialPost
	for rows.Next() {
		var p SocialPost
		var runID, inReplyTo, externalID, url, postErr, created sql.NullString
		if err := rows.Scan(&p.ID, &runID, &p.Platform, &p.Content, &inReplyTo, &externalID, &url, &p.Status, &postErr, &created); err != nil {
			return nil, fmt.Errorf("scan social post: %w", err)
		}
		p.RunID = runID.String
		p.InReplyTo = inReplyTo.String
		p.ExternalID = externalID.String
		p.URL = url.String
		p.Error = postErr.String
		if t := parseTime(created); t != nil {
			p.CreatedAt = *t
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate social posts: %w", err)
	}
	return posts, nil
}

// ListEmails returns up to limit emails, newest first.
func (s *Store) ListEmails(ctx context.Context, limit int) ([]Email, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, subject, body, created_at
		FROM emails
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	var emails []Email
	for rows.Next() {
		var e Email
		var runID, created sql.NullString
		if err := rows.Scan(&e.ID, &runID, &e.Subject, &e.Body, &created); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		e.RunID = runID.String
		if t := parseTime(created); t != nil {
			e.CreatedAt = *t
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emails: %w", err)
	}
	return emails, nil
}
