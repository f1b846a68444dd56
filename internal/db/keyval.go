package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetValue decodes the scalar stored under key into dst.
// Returns false when the key is absent; dst is left untouched.
func (db *DB) GetValue(ctx context.Context, key string, dst any) (bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM keyval WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetValue stores v under key as JSON.
func (db *DB) SetValue(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	query := `
	INSERT INTO keyval (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := db.conn.ExecContext(ctx, query, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// DeleteValue removes key. Missing keys are not an error.
func (db *DB) DeleteValue(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM keyval WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Int64Value reads an integer scalar, returning 0 when absent.
func (db *DB) Int64Value(ctx context.Context, key string) (int64, error) {
	var v int64
	if _, err := db.GetValue(ctx, key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// BoolValue reads a boolean scalar, returning false when absent.
func (db *DB) BoolValue(ctx context.Context, key string) (bool, error) {
	var v bool
	if _, err := db.GetValue(ctx, key, &v); err != nil {
		return false, err
	}
	return v, nil
}

// tempIDKey holds the last synthetic id handed out for offline creates.
const tempIDKey = "tempId"

// NextTempID allocates a negative id for a record created offline. Ids are
// unique across collections and never reused, even after a restart.
func (db *DB) NextTempID(ctx context.Context) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
	INSERT INTO keyval (key, value) VALUES (?, '-1')
	ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) - 1 AS TEXT)
	RETURNING CAST(value AS INTEGER)`, tempIDKey).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate temporary id: %w", err)
	}
	return id, nil
}
