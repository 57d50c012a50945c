package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestFileLock_TryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "run.lock")

	first := New(path)
	if err := first.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if got := Owner(path); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("Owner = %q", got)
	}

	second := New(path)
	err := second.TryLock()
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed, stat err=%v", err)
	}

	if err := second.TryLock(); err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	if err := second.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	if err := New(filepath.Join(t.TempDir(), "x.lock")).Unlock(); err != nil {
		t.Fatalf("Unlock on unheld lock: %v", err)
	}
}

func TestOwnerUnknown(t *testing.T) {
	if got := Owner(filepath.Join(t.TempDir(), "missing")); got != "unknown" {
		t.Fatalf("Owner = %q", got)
	}
}
