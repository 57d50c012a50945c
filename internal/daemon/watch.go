package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// fileFingerprint is what the daemon remembers about a watched file between ticks.
type fileFingerprint struct {
	Path    string `json:"path,omitempty"`
	Size    int64  `json:"size,omitempty"`
	ModTime string `json:"mod_time,omitempty"`
	SHA256  string `json:"sha256,omitempty"`
	Checked string `json:"checked,omitempty"`
}

func (f fileFingerprint) present() bool { return f.SHA256 != "" }

// watchFile compares the file at path with the fingerprint stored under kvKey
// and records the new one. The first sighting and a deletion each count as a
// change exactly once.
func watchFile(ctx context.Context, store *Store, path, kvKey string) (bool, error) {
	prev, err := loadFingerprint(ctx, store, kvKey)
	if err != nil {
		return false, err
	}
	cur, err := fingerprint(path)
	if err != nil {
		return false, err
	}
	if !prev.present() && !cur.present() {
		return false, nil
	}
	if err := saveFingerprint(ctx, store, kvKey, cur); err != nil {
		return false, err
	}
	return prev.SHA256 != cur.SHA256, nil
}

func fingerprint(path string) (fileFingerprint, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fileFingerprint{}, nil
	}
	if err != nil {
		return fileFingerprint{}, fmt.Errorf("open watched file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fileFingerprint{}, fmt.Errorf("stat watched file: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fileFingerprint{}, fmt.Errorf("hash watched file: %w", err)
	}
	return fileFingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC().Format(time.RFC3339),
		SHA256:  hex.EncodeToString(h.Sum(nil)),
		Checked: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func loadFingerprint(ctx context.Context, store *Store, kvKey string) (fileFingerprint, error) {
	var fp fileFingerprint
	raw, err := store.GetKV(ctx, kvKey)
	if err != nil || raw == "" {
		return fp, err
	}
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		return fp, fmt.Errorf("decode fingerprint %s: %w", kvKey, err)
	}
	return fp, nil
}

func saveFingerprint(ctx context.Context, store *Store, kvKey string, fp fileFingerprint) error {
	raw, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}
	return store.SetKV(ctx, kvKey, string(raw))
}
