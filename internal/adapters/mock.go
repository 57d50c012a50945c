package adapters

import (
	"context"
	"sync"
)

// MockBackend is a deterministic, offline backend. Each persona has a
// sequence of canned replies; the last one repeats once the sequence is used up.
type MockBackend struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	seen    map[string]int
	calls   []Request
}

// NewMock returns a mock seeded with the default canned replies. Entries in
// overrides replace the defaults for that persona.
func NewMock(overrides map[string][]string) *MockBackend {
	m := &MockBackend{
		replies: make(map[string][]string, len(defaultMockReplies)),
		errs:    map[string]error{},
		seen:    map[string]int{},
	}
	for persona, reply := range defaultMockReplies {
		m.replies[persona] = []string{reply}
	}
	for persona, replies := range overrides {
		m.replies[persona] = replies
	}
	return m
}

func (m *MockBackend) Name() string {
	return "mock"
}

// SetReplies replaces the reply sequence for persona.
func (m *MockBackend) SetReplies(persona string, replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[persona] = replies
	m.seen[persona] = 0
}

// Fail makes every call for persona return err.
func (m *MockBackend) Fail(persona string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[persona] = err
}

func (m *MockBackend) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if err := m.errs[req.Persona]; err != nil {
		return nil, err
	}
	seq := m.replies[req.Persona]
	if len(seq) == 0 {
		return nil, ErrEmptyResponse
	}
	idx := m.seen[req.Persona]
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	m.seen[req.Persona]++
	text := seq[idx]
	return &Response{
		Text:         text,
		InputTokens:  (len(req.System) + len(req.Prompt)) / 4,
		OutputTokens: len(text) / 4,
	}, nil
}

// Calls returns a copy of every request received so far.
func (m *MockBackend) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount reports how many times persona was called.
func (m *MockBackend) CallCount(persona string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Persona == persona {
			n++
		}
	}
	return n
}

var defaultMockReplies = map[string]string{
	"analyst": "```json\n" + `{"summary":"Traffic is steady; signup conversion is flat.",
"insights":["Most visitors leave above the fold"],
"opportunities":["Sharpen the hero headline"],
"primary_metric":"signups"}` + "\n```",
	"optimizer": `{"proposals":[{"id":"headline-v1","description":"Lead with the outcome in the hero headline",
"changes":[{"path":"hero.headline","action":"modify","value":"Launch your page in minutes"}],
"hypothesis":"An outcome-led headline lifts signups","requested_spend":0,"boldness":3,
"expected_metric":{"key":"signups","direction":"increase"}}],"rationale":"Smallest change with a measurable effect."}`,
	"critic": `{"assessments":[{"proposal_id":"headline-v1","issues":[],"severity":"minor","precedents":[]}],
"recommendation":"approve","summary":"Low risk copy change."}`,
	"mission":   `{"score":7,"aligned":true,"notes":"Keeps the promise concrete."}`,
	"decision":  `{"verdict":"approve","rationale":"Low risk and reversible."}`,
	"budget":    `{"verdict":"approve","approved_spend":0,"rationale":"No spend requested."}`,
	"content":   `{"verdict":"postable","issues":[],"rationale":"Plain, accurate copy."}`,
	"qa":        `{"verdict":"deployable","issues":[],"rationale":"Text-only change."}`,
	"narrator":  `{"title":"Run report","body":"The pipeline evaluated one headline change.","social_post":"We tried a sharper headline today.","email_subject":"pagepilot run report"}`,
	"responder": `{"reply":true,"text":"Thanks for the note! We are on it.","rationale":"Friendly acknowledgement."}`,
	"growth":    `{"actions":[{"platform":"x","kind":"post","target":"","content":"Shipping small improvements every day.","rationale":"Keep a steady cadence."}]}`,
}
