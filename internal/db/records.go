package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/studyportal/studysync/internal/schema"
)

// cursorPageSize bounds how many rows a cursor reads per query.
const cursorPageSize = 500

// Get returns the raw JSON record stored under id.
// The boolean is false when no record exists.
func (db *DB) Get(ctx context.Context, collection string, id int64) (json.RawMessage, bool, error) {
	table, err := db.table(collection)
	if err != nil {
		return nil, false, err
	}

	var data string
	err = db.conn.QueryRowContext(ctx, "SELECT data FROM "+table+" WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%d: %w", collection, id, err)
	}
	return json.RawMessage(data), true, nil
}

// GetAs decodes the record stored under id into a T.
func GetAs[T any](ctx context.Context, db *DB, collection string, id int64) (T, bool, error) {
	var v T
	raw, ok, err := db.Get(ctx, collection, id)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("failed to decode %s/%d: %w", collection, id, err)
	}
	return v, true, nil
}

// Put upserts record keyed by its own id. Re-putting an identical record is
// a no-op in effect.
func (db *DB) Put(ctx context.Context, collection string, record schema.Entity) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%d: %w", collection, record.RecordID(), err)
	}
	return db.PutRaw(ctx, collection, record.RecordID(), record.UpdatedAt(), data)
}

// PutRaw upserts an already-encoded record.
func (db *DB) PutRaw(ctx context.Context, collection string, id, updated int64, data json.RawMessage) error {
	table, err := db.table(collection)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO ` + table + ` (id, updated, data) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		updated = excluded.updated,
		data = excluded.data
	`
	if _, err := db.conn.ExecContext(ctx, query, id, updated, string(data)); err != nil {
		return fmt.Errorf("failed to put %s/%d: %w", collection, id, err)
	}
	return nil
}

// Delete removes the record stored under id.
// Returns nil if the record doesn't exist (idempotent).
func (db *DB) Delete(ctx context.Context, collection string, id int64) error {
	table, err := db.table(collection)
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete %s/%d: %w", collection, id, err)
	}
	return nil
}

// Cursor iterates over every record of collection in primary key order.
//
// The sequence is lazy and reads the table page by page, so no read
// transaction is held between iterations. Each call starts from the
// beginning. Iteration stops at the first error, which is yielded.
func (db *DB) Cursor(ctx context.Context, collection string) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		table, err := db.table(collection)
		if err != nil {
			yield(nil, err)
			return
		}

		after := int64(math.MinInt64)
		for {
			page, last, err := db.page(ctx, table, after)
			if err != nil {
				yield(nil, fmt.Errorf("failed to read %s: %w", collection, err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < cursorPageSize {
				return
			}
			after = last
		}
	}
}

func (db *DB) page(ctx context.Context, table string, after int64) ([]json.RawMessage, int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, data FROM "+table+" WHERE id > ? ORDER BY id ASC LIMIT ?", after, cursorPageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var page []json.RawMessage
	last := after
	for rows.Next() {
		var data string
		if err := rows.Scan(&last, &data); err != nil {
			return nil, 0, err
		}
		page = append(page, json.RawMessage(data))
	}
	return page, last, rows.Err()
}

// All decodes every record of collection, in primary key order.
func All[T any](ctx context.Context, db *DB, collection string) ([]T, error) {
	var out []T
	for raw, err := range db.Cursor(ctx, collection) {
		if err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetAllKeys returns every id stored in collection, ascending.
func (db *DB) GetAllKeys(ctx context.Context, collection string) ([]int64, error) {
	table, err := db.table(collection)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, "SELECT id FROM "+table+" ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", collection, err)
	}
	defer rows.Close()

	var keys []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s key: %w", collection, err)
		}
		keys = append(keys, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s keys: %w", collection, err)
	}
	return keys, nil
}

// Count returns the number of records in collection.
func (db *DB) Count(ctx context.Context, collection string) (int, error) {
	table, err := db.table(collection)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// Clear removes every record of collection.
func (db *DB) Clear(ctx context.Context, collection string) error {
	table, err := db.table(collection)
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	return nil
}
