package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type failingPublisher struct{ name string }

func (f failingPublisher) Platform() string { return f.name }

func (f failingPublisher) Publish(ctx context.Context, c Content, target string) (Receipt, error) {
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	return Receipt{}, errors.New("rate limited")
}

func TestFanoutCollectsEveryResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	dry := &DryRunPublisher{Name: "x"}
	pubs := []Publisher{dry, failingPublisher{name: "linkedin"}, &DryRunPublisher{Name: "bluesky"}}
	results := Fanout(context.Background(), pubs, Content{Kind: KindPost, Text: "hello"}, "", nil)

	require.Len(t, results, 3)
	assert.Equal(t, "x", results[0].Platform)
	assert.NoError(t, results[0].Err)
	assert.NotEmpty(t, results[0].Receipt.ID)
	assert.Equal(t, "linkedin", results[1].Platform)
	assert.EqualError(t, results[1].Err, "rate limited")
	assert.NoError(t, results[2].Err, "one failure must not cancel the others")
	assert.Len(t, dry.Sent(), 1)
}

func TestFanoutWithNoPublishers(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert.Empty(t, Fanout(context.Background(), nil, Content{Kind: KindPost}, "", nil))
}

func TestWebhookPublisher(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"123","url":"https://example.com/p/123"}`))
	}))
	defer srv.Close()

	p := &WebhookPublisher{Name: "x", URL: srv.URL, Token: "secret", Client: srv.Client()}
	receipt, err := p.Publish(context.Background(), Content{Kind: KindReply, Text: "thanks", InReplyTo: "m-1"}, "@someone")
	require.NoError(t, err)
	assert.Equal(t, Receipt{ID: "123", URL: "https://example.com/p/123"}, receipt)
	assert.Equal(t, "x", got.Platform)
	assert.Equal(t, "@someone", got.Target)
	assert.Equal(t, "m-1", got.InReplyTo)
}

func TestWebhookPublisherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p := &WebhookPublisher{Name: "x", URL: srv.URL, Client: srv.Client()}
	_, err := p.Publish(context.Background(), Content{Kind: KindPost, Text: "hi"}, "")
	assert.ErrorContains(t, err, "status 403")

	_, err = p.Publish(context.Background(), Content{Kind: KindFollow}, "@a")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLookup(t *testing.T) {
	pubs := ByPlatform([]Publisher{&DryRunPublisher{Name: "X"}})
	p, err := Lookup(pubs, " x ")
	require.NoError(t, err)
	assert.Equal(t, "X", p.Platform())

	_, err = Lookup(pubs, "mastodon")
	assert.Error(t, err)
}
