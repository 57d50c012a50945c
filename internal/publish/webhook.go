package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookPublisher posts content as JSON to an HTTP endpoint that performs
// the actual platform call and answers with {"id": ..., "url": ...}.
type WebhookPublisher struct {
	Name    string
	URL     string
	Token   string
	Kinds   []string
	Timeout time.Duration
	Client  *http.Client
}

type webhookPayload struct {
	Platform string `json:"platform"`
	Target   string `json:"target,omitempty"`
	Content
}

func (w *WebhookPublisher) Platform() string { return w.Name }

func (w *WebhookPublisher) Publish(ctx context.Context, c Content, target string) (Receipt, error) {
	if !w.supports(c.Kind) {
		return Receipt{}, fmt.Errorf("%s %s: %w", w.Name, c.Kind, ErrUnsupported)
	}
	body, err := json.Marshal(webhookPayload{Platform: w.Name, Target: target, Content: c})
	if err != nil {
		return Receipt{}, fmt.Errorf("encode payload: %w", err)
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s webhook: %w", w.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("%s webhook: read response: %w", w.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("%s webhook: status %d: %s", w.Name, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var receipt Receipt
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &receipt); err != nil {
			return Receipt{}, fmt.Errorf("%s webhook: decode response: %w", w.Name, err)
		}
	}
	return receipt, nil
}

func (w *WebhookPublisher) supports(kind string) bool {
	if len(w.Kinds) == 0 {
		return kind == KindPost || kind == KindReply || kind == KindComment
	}
	for _, k := range w.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
