package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const SnapshotSchemaVersion = 1

// Snapshot is the metrics window a run saw in one phase ("before" or "after").
type Snapshot struct {
	SchemaVersion int           `json:"schema_version"`
	RunNumber     int           `json:"run_number"`
	Phase         string        `json:"phase"`
	AsOf          string        `json:"as_of"`
	Points        []MetricPoint `json:"points"`
}

// SnapshotPath returns dir/run-NNNN-<phase>.json.
func SnapshotPath(dir string, runNumber int, phase string) string {
	return filepath.Join(dir, fmt.Sprintf("run-%04d-%s.json", runNumber, phase))
}

// WriteSnapshot stores w as the snapshot of one run phase. Readers never see a
// partially written file.
func WriteSnapshot(path string, runNumber int, phase string, w Window) error {
	if path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	data, err := json.MarshalIndent(Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		RunNumber:     runNumber,
		Phase:         phase,
		AsOf:          w.AsOf,
		Points:        CanonicalizePoints(w.Points),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by WriteSnapshot. Unknown fields and
// other schema versions are rejected.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", filepath.Base(path), err)
	}
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("snapshot %s: unsupported schema_version %d", filepath.Base(path), snap.SchemaVersion)
	}
	snap.Points = CanonicalizePoints(snap.Points)
	return &snap, nil
}

func (s *Snapshot) Window() Window {
	return Window{AsOf: s.AsOf, Points: s.Points}
}
