package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// GetKV retrieves a value from the key-value store. Missing keys yield "".
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv %s: %w", key, err)
	}
	return value.String, nil
}

// SetKV sets a value in the key-value store.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO kv (key, value)
		VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the JSON value stored under key into out. It reports
// whether the key was present.
func (s *Store) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.GetKV(ctx, key)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode kv %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON under key.
func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode kv %s: %w", key, err)
	}
	return s.SetKV(ctx, key, string(data))
}

// GetFloat reads a numeric value. Missing keys yield 0.
func (s *Store) GetFloat(ctx context.Context, key string) (float64, error) {
	raw, err := s.GetKV(ctx, key)
	if err != nil {
		return 0, err
	}
	return parseFloat(key, raw)
}

// AddFloat atomically adds delta to the numeric value under key and returns
// the new total.
func (s *Store) AddFloat(ctx context.Context, key string, delta float64) (float64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("get kv %s: %w", key, err)
	}
	current, err := parseFloat(key, raw.String)
	if err != nil {
		return 0, err
	}
	total := current + delta
	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)",
		key, strconv.FormatFloat(total, 'f', -1, 64)); err != nil {
		return 0, fmt.Errorf("set kv %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return total, nil
}

// AppendCapped appends entry to the JSON list under key, keeping only the
// newest limit entries.
func (s *Store) AppendCapped(ctx context.Context, key string, entry any, limit int) error {
	var list []json.RawMessage
	if _, err := s.GetJSON(ctx, key, &list); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode kv %s entry: %w", key, err)
	}
	list = append(list, data)
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return s.SetJSON(ctx, key, list)
}

func parseFloat(key, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("kv %s is not numeric: %w", key, err)
	}
	return v, nil
}
