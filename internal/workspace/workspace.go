// Package workspace lays out the directories and files of a pagepilot
// installation.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	configFile   = "pagepilot.yml"
	personasFile = "personas.yml"
	stateDir     = "state"
)

// Workspace holds the paths of one pagepilot installation.
type Workspace struct {
	Root         string
	ConfigPath   string
	PersonasPath string
	MetricsDir   string
	SnapshotsDir string
	ArtifactsDir string
	CapturesDir  string
	StateDir     string
	LogDir       string
	StateDBPath  string
	AuditDBPath  string
	DaemonDBPath string
	LockPath     string
}

// New lays out a workspace at root without touching the filesystem.
func New(root string) *Workspace {
	join := func(parts ...string) string { return filepath.Join(append([]string{root}, parts...)...) }
	return &Workspace{
		Root:         root,
		ConfigPath:   join(configFile),
		PersonasPath: join(personasFile),
		MetricsDir:   join("metrics"),
		SnapshotsDir: join("metrics", "snapshots"),
		ArtifactsDir: join("artifacts"),
		CapturesDir:  join("artifacts", "captures"),
		StateDir:     join(stateDir),
		LogDir:       join(stateDir, "logs"),
		StateDBPath:  join(stateDir, "pagepilot.db"),
		AuditDBPath:  join(stateDir, "audit.sqlite"),
		DaemonDBPath: join(stateDir, "daemon.sqlite"),
		LockPath:     join(stateDir, "run.lock"),
	}
}

// Resolve is New on an absolute root that must already be a directory.
func Resolve(root string) (*Workspace, error) {
	abs, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	switch info, err := os.Stat(abs); {
	case err != nil:
		return nil, fmt.Errorf("workspace root: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return New(abs), nil
}

// ResolveRoot makes root absolute, expanding ~, without requiring it to exist.
func ResolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", errors.New("workspace root is required")
	}
	expanded, err := ExpandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func (w *Workspace) dirs() []string {
	return []string{w.MetricsDir, w.SnapshotsDir, w.ArtifactsDir, w.CapturesDir, w.StateDir, w.LogDir}
}

// EnsureDirs creates the standard directories.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return errors.New("workspace is nil")
	}
	for _, dir := range w.dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// RunDir holds the artifacts of one run, such as its change diff.
func (w *Workspace) RunDir(runNumber int) string {
	return filepath.Join(w.ArtifactsDir, "runs", fmt.Sprintf("run-%04d", runNumber))
}

// ResolvePath resolves a config-supplied path against the root. Empty stays empty.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", errors.New("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(w.Root, expanded)
	}
	return filepath.Abs(expanded)
}

// ExpandHome replaces a leading ~ or ~/ with the user's home directory.
// Other users' homes (~name) are not supported.
func ExpandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path, nil
	}
	if rest != "" && !strings.HasPrefix(rest, "/") {
		return "", fmt.Errorf("unsupported home expansion: %s", path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, rest), nil
}
