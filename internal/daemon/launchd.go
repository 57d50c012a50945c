package daemon

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"pagepilot/internal/workspace"
)

// WorkspaceHash is a short stable hash of the workspace root.
func WorkspaceHash(wsRoot string) string {
	h := sha256.Sum256([]byte(wsRoot))
	return fmt.Sprintf("%x", h[:4])
}

// PlistLabel is the LaunchAgent label for a workspace.
func PlistLabel(wsRoot string) string {
	return "dev.pagepilot." + WorkspaceHash(wsRoot)
}

// PlistPath is where the workspace's LaunchAgent plist lives.
func PlistPath(wsRoot string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(homeDir, "Library", "LaunchAgents", PlistLabel(wsRoot)+".plist"), nil
}

// LogPath is the file the LaunchAgent redirects daemon output to.
func LogPath(ws *workspace.Workspace) string {
	return filepath.Join(ws.LogDir, "pagepilot.log")
}

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Binary}}</string>
		<string>daemon</string>
		<string>run</string>
		<string>--workspace</string>
		<string>{{.Root}}</string>
	</array>
	<key>WorkingDirectory</key>
	<string>{{.Root}}</string>
	<key>StandardOutPath</key>
	<string>{{.Log}}</string>
	<key>StandardErrorPath</key>
	<string>{{.Log}}</string>
	<key>KeepAlive</key>
	<true/>
	<key>RunAtLoad</key>
	<true/>
</dict>
</plist>
`))

// GeneratePlist renders the LaunchAgent plist running `daemon run` for ws.
func GeneratePlist(ws *workspace.Workspace, binaryPath string) (string, error) {
	if ws == nil {
		return "", errors.New("workspace is nil")
	}
	absBinary, err := filepath.Abs(binaryPath)
	if err != nil {
		return "", fmt.Errorf("resolve binary path: %w", err)
	}
	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, map[string]string{
		"Label":  xmlEscape(PlistLabel(ws.Root)),
		"Binary": xmlEscape(absBinary),
		"Root":   xmlEscape(ws.Root),
		"Log":    xmlEscape(LogPath(ws)),
	}); err != nil {
		return "", fmt.Errorf("render plist: %w", err)
	}
	return buf.String(), nil
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// Install writes the LaunchAgent plist for ws and returns its path.
func Install(ws *workspace.Workspace, binaryPath string) (string, error) {
	if ws == nil {
		return "", errors.New("workspace is nil")
	}
	if err := os.MkdirAll(ws.LogDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure log dir: %w", err)
	}
	content, err := GeneratePlist(ws, binaryPath)
	if err != nil {
		return "", err
	}
	path, err := PlistPath(ws.Root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ensure LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write plist: %w", err)
	}
	return path, nil
}

// Uninstall removes the LaunchAgent plist for ws.
func Uninstall(ws *workspace.Workspace) error {
	if ws == nil {
		return errors.New("workspace is nil")
	}
	path, err := PlistPath(ws.Root)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("plist not found: %s", path)
		}
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

// Start loads the LaunchAgent with launchctl.
func Start(ctx context.Context, ws *workspace.Workspace) error {
	path, err := PlistPath(ws.Root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("plist not found: %s (run 'pagepilot daemon install' first)", path)
	}
	out, err := exec.CommandContext(ctx, "launchctl", "load", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("launchctl load: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Stop unloads the LaunchAgent. Unloading an agent that is not loaded is not an error.
func Stop(ctx context.Context, ws *workspace.Workspace) error {
	path, err := PlistPath(ws.Root)
	if err != nil {
		return err
	}
	out, err := exec.CommandContext(ctx, "launchctl", "unload", path).CombinedOutput()
	if err != nil {
		text := strings.TrimSpace(string(out))
		if !strings.Contains(text, "Could not find specified service") {
			return fmt.Errorf("launchctl unload: %w: %s", err, text)
		}
	}
	return nil
}

// IsRunning reports whether launchd lists the workspace's agent.
func IsRunning(ctx context.Context, ws *workspace.Workspace) (bool, error) {
	out, err := exec.CommandContext(ctx, "launchctl", "list").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("launchctl list: %w", err)
	}
	return strings.Contains(string(out), PlistLabel(ws.Root)), nil
}
