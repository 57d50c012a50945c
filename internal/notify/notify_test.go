package notify

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatRunFinished(t *testing.T) {
	tests := []struct {
		name      string
		decision  string
		status    string
		wantTitle string
		wantMsg   string
	}{
		{"deployed", "approved", "completed", "✅ pagepilot deployed a change", "run 4 approved, spend 25.00"},
		{"vetoed", "blocked_budget", "completed", "📊 pagepilot run finished", "run 4: blocked_budget"},
		{"errored", "", "error", "⚠️ pagepilot run failed", "run 4 ended with status error (decision -)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, msg := FormatRunFinished(4, tt.decision, tt.status, 25)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

func TestSendDisabledIsNoop(t *testing.T) {
	called := false
	n := &Notifier{run: func(context.Context, string, ...string) error {
		called = true
		return nil
	}}
	assert.NoError(t, n.Send(context.Background(), "t", "m"))
	assert.False(t, called)

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Send(context.Background(), "t", "m"))
}

func TestSendEscapesAndReportsErrors(t *testing.T) {
	if runtime.GOOS != "darwin" {
		t.Skip("notifications are only sent on macOS")
	}
	var script string
	n := &Notifier{Enabled: true, run: func(_ context.Context, name string, args ...string) error {
		script = args[len(args)-1]
		return errors.New("no display")
	}}
	err := n.Send(context.Background(), `say "hi"`, "ok")
	assert.ErrorContains(t, err, "no display")
	assert.Contains(t, script, `\"hi\"`)
}
