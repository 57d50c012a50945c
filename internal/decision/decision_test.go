package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagepilot/internal/adapters"
)

type qaVerdict struct {
	Verdict string `json:"verdict"`
	Note    string `json:"note"`
}

func qaCall() Call[qaVerdict] {
	return Call[qaVerdict]{
		Persona:  "qa",
		Required: []string{"verdict"},
		Default:  func() qaVerdict { return qaVerdict{Verdict: "not_deployable"} },
		Validate: func(v *qaVerdict) error {
			if v.Verdict != "deployable" && v.Verdict != "not_deployable" {
				return errors.New("unknown verdict")
			}
			return nil
		},
	}
}

func decideText(t *testing.T, text string) Outcome[qaVerdict] {
	t.Helper()
	mock := adapters.NewMock(map[string][]string{"qa": {text}})
	return Decide(context.Background(), mock, qaCall(), "check it")
}

func TestDecideSources(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		source Source
		note   string
	}{
		{"fenced json", "Here you go:\n```json\n{\"verdict\":\"deployable\",\"note\":\"a\"}\n```", SourceFenced, "a"},
		{"bare fence", "```\n{\"verdict\":\"deployable\",\"note\":\"b\"}\n```", SourceFenced, "b"},
		{"second fence wins when first is invalid", "```\nnot json\n```\nand\n```json\n{\"verdict\":\"deployable\",\"note\":\"c\"}\n```", SourceFenced, "c"},
		{"embedded object", "Verdict follows {\"verdict\":\"deployable\",\"note\":\"brace } in string\"} done", SourceObject, "brace } in string"},
		{"padded object", "  {\"verdict\":\"deployable\",\"note\":\"d\"}  ", SourceObject, "d"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := decideText(t, tc.text)
			require.True(t, out.Ok, "detail: %s", out.Detail)
			assert.Equal(t, tc.source, out.Source)
			assert.Equal(t, "deployable", out.Value.Verdict)
			assert.Equal(t, tc.note, out.Value.Note)
		})
	}
}

func TestDecideNonJSONYieldsDefault(t *testing.T) {
	out := decideText(t, "Looks fine to me, ship it.")
	assert.False(t, out.Ok)
	assert.True(t, out.Defaulted())
	assert.Equal(t, ReasonParseError, out.Reason)
	assert.Equal(t, "not_deployable", out.Value.Verdict)
	assert.NotZero(t, out.Usage.OutputTokens)
}

func TestDecideSchemaErrorYieldsDefault(t *testing.T) {
	out := decideText(t, `{"verdict":"probably"}`)
	assert.False(t, out.Ok)
	assert.Equal(t, ReasonSchemaError, out.Reason)
	assert.Equal(t, "not_deployable", out.Value.Verdict)

	out = decideText(t, `{"note":"no verdict"}`)
	assert.Equal(t, ReasonSchemaError, out.Reason)
}

func TestDecideBackendErrorYieldsDefault(t *testing.T) {
	mock := adapters.NewMock(nil)
	mock.Fail("qa", errors.New("connection reset"))
	out := Decide(context.Background(), mock, qaCall(), "check it")
	assert.False(t, out.Ok)
	assert.Equal(t, ReasonBackendError, out.Reason)
	assert.Contains(t, out.Detail, "connection reset")
	assert.Equal(t, "not_deployable", out.Value.Verdict)
}

type slowBackend struct{}

func (slowBackend) Name() string { return "slow" }

func (slowBackend) Generate(ctx context.Context, _ adapters.Request) (*adapters.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDecideTimeoutYieldsDefault(t *testing.T) {
	call := qaCall()
	call.Timeout = 10 * time.Millisecond
	out := Decide(context.Background(), slowBackend{}, call, "check it")
	assert.Equal(t, ReasonBackendError, out.Reason)
	assert.Equal(t, "not_deployable", out.Value.Verdict)
}

type panicBackend struct{}

func (panicBackend) Name() string { return "panic" }

func (panicBackend) Generate(context.Context, adapters.Request) (*adapters.Response, error) {
	panic("boom")
}

func TestDecideRecoversFromPanics(t *testing.T) {
	out := Decide(context.Background(), panicBackend{}, qaCall(), "check it")
	assert.Equal(t, ReasonBackendError, out.Reason)
	assert.Equal(t, "not_deployable", out.Value.Verdict)
}

func TestFirstObjectHandlesEscapes(t *testing.T) {
	got := firstObject(`prefix {"a":"quote \" and brace {","b":{"c":1}} suffix {"z":2}`)
	assert.Equal(t, `{"a":"quote \" and brace {","b":{"c":1}}`, got)
	assert.Empty(t, firstObject("no braces here"))
	assert.Equal(t, `{"ok":1}`, firstObject(`{ unbalanced {"ok":1}`))
}
