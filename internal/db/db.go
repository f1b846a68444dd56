// Package db provides the local persistent store backing the study cache.
//
// The store runs on embedded SQLite (ncruces/go-sqlite3, WAL mode) and
// exposes a keyed object store per logical collection, a key-value
// sub-store for small scalars (sync markers, cached aggregates), and the
// autoincrement-keyed offline task queue.
//
// Layout:
//   - keyval:            key TEXT -> JSON value
//   - offlineTasksQueue: key INTEGER AUTOINCREMENT, pending mutations
//   - one table per entity collection: id INTEGER PK, updated, JSON data
//
// Single-record operations are atomic. Multi-record sweeps (diff apply,
// pruning) are not transactional as a whole; every operation is an
// idempotent upsert or delete, so a crash mid-sweep is repaired by the
// next sync.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/studyportal/studysync/internal/schema"
)

// SchemaVersion is stored in PRAGMA user_version. Bumping it recreates every
// collection table and clears the sync markers on the next InitSchema.
const SchemaVersion = 3

// ErrUnknownCollection is returned for collection names the store does not manage.
var ErrUnknownCollection = errors.New("unknown collection")

// DB wraps the SQLite connection.
type DB struct {
	conn        *sql.DB
	path        string
	collections map[string]bool
	recreated   bool
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode so readers never block the writer.
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(filepath.Join(dataDir, "study.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	path = strings.TrimPrefix(path, "file:")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:        conn,
		path:        path,
		collections: make(map[string]bool, len(schema.Collections)),
	}
	for _, c := range schema.Collections {
		db.collections[c] = true
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Recreated reports whether the last InitSchema dropped existing data
// because of a schema version change. Callers must then treat the cache as
// empty and run a full sync.
func (db *DB) Recreated() bool {
	return db.recreated
}

// InitSchema creates the tables if they don't exist.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables, running the destructive migration
// when the stored schema version differs from SchemaVersion.
//
// The offline task queue survives a migration, and so do the keyval rows
// it depends on (the temp id counter and the id remap table). Only the
// per-collection checkpoints and cached flags are cleared.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	db.recreated = false
	if version != 0 && version != SchemaVersion {
		if err := db.dropAll(ctx); err != nil {
			return err
		}
		db.recreated = true
	}

	ddl := []string{`
	CREATE TABLE IF NOT EXISTS keyval (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS offlineTasksQueue (
		key INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		action TEXT NOT NULL,
		target_id INTEGER NOT NULL DEFAULT 0,
		payload TEXT,
		created_at TEXT NOT NULL
	)`}
	for _, c := range schema.Collections {
		ddl = append(ddl,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY,
		updated INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL
	)`, quote(c)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(updated)`, quote("idx_"+c+"_updated"), quote(c)),
		)
	}

	for _, stmt := range ddl {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}

func (db *DB) dropAll(ctx context.Context) error {
	for _, t := range schema.Collections {
		if _, err := db.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(t)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", t, err)
		}
	}

	var exists int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'keyval'").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to inspect keyval: %w", err)
	}
	if exists == 0 {
		return nil
	}
	_, err = db.conn.ExecContext(ctx,
		`DELETE FROM keyval WHERE key LIKE 'lastUpdate:%' OR key = 'cached' OR key LIKE 'cached:%'`)
	if err != nil {
		return fmt.Errorf("failed to clear sync markers: %w", err)
	}
	return nil
}

func (db *DB) table(collection string) (string, error) {
	if !db.collections[collection] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return quote(collection), nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
