// Package notify shows desktop notifications for daemon outcomes.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier sends system notifications. The zero value is disabled.
type Notifier struct {
	Enabled bool
	// run executes the notification command; nil uses os/exec.
	run func(ctx context.Context, name string, args ...string) error
}

// Send displays a notification. On platforms other than macOS it is a no-op.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	if n == nil || !n.Enabled || runtime.GOOS != "darwin" {
		return nil
	}
	script := fmt.Sprintf(`display notification "%s" with title "%s"`, escape(message), escape(title))
	run := n.run
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		}
	}
	if err := run(ctx, "osascript", "-e", script); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// FormatRunFinished formats the notification for a finished pipeline run.
func FormatRunFinished(runNumber int, decision, status string, spend float64) (title, message string) {
	switch {
	case status != "completed":
		title = "⚠️ pagepilot run failed"
		message = fmt.Sprintf("run %d ended with status %s (decision %s)", runNumber, status, orDash(decision))
	case decision == "approved":
		title = "✅ pagepilot deployed a change"
		message = fmt.Sprintf("run %d approved, spend %.2f", runNumber, spend)
	default:
		title = "📊 pagepilot run finished"
		message = fmt.Sprintf("run %d: %s", runNumber, decision)
	}
	return title, message
}

// FormatJobFailed formats the notification for a daemon job that errored.
func FormatJobFailed(jobType string, err error) (title, message string) {
	return "⚠️ pagepilot job failed", fmt.Sprintf("%s: %v", jobType, err)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
