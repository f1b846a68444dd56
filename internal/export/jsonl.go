// Package export dumps the local cache to JSONL and restores it.
//
// Each line holds one record:
//
//	{"collection":"subjects","id":7,"updated":1700000000,"data":{...}}
//
// Only entity collections are exported. Sync markers and the offline queue
// are device state and stay behind.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/schema"
)

// Line is one exported record.
type Line struct {
	Collection string          `json:"collection"`
	ID         int64           `json:"id"`
	Updated    int64           `json:"updated"`
	Data       json.RawMessage `json:"data"`
}

// Options selects what to export or import.
type Options struct {
	// Collections limits the collections handled. Empty means all.
	Collections []string

	// DryRun parses and counts without writing (import only).
	DryRun bool

	// Replace clears each imported collection first (import only).
	Replace bool
}

// Result counts records per collection.
type Result struct {
	Records map[string]int
	Skipped int
	Errors  []string
}

// Total returns the number of records handled.
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Records {
		n += c
	}
	return n
}

func newResult() *Result {
	return &Result{Records: make(map[string]int)}
}

func (o Options) collections() []string {
	if len(o.Collections) == 0 {
		return schema.Collections
	}
	return o.Collections
}

func (o Options) wants(collection string) bool {
	return len(o.Collections) == 0 || slices.Contains(o.Collections, collection)
}

// Export writes every record of the selected collections to w.
func Export(ctx context.Context, store *db.DB, w io.Writer, opts Options) (*Result, error) {
	result := newResult()
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, collection := range opts.collections() {
		for raw, err := range store.Cursor(ctx, collection) {
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", collection, err)
			}
			var head struct {
				ID      int64 `json:"id"`
				Updated int64 `json:"updated"`
			}
			if err := json.Unmarshal(raw, &head); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", collection, err))
				result.Skipped++
				continue
			}
			line := Line{Collection: collection, ID: head.ID, Updated: head.Updated, Data: raw}
			if err := enc.Encode(line); err != nil {
				return nil, fmt.Errorf("failed to write %s %d: %w", collection, head.ID, err)
			}
			result.Records[collection]++
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	return result, nil
}

// ExportFile writes the export to path atomically via a temp file.
func ExportFile(ctx context.Context, store *db.DB, path string, opts Options) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	result, err := Export(ctx, store, f, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// Import reads JSONL from r into the store. Malformed lines abort the
// import; records for unknown or unselected collections are skipped.
func Import(ctx context.Context, store *db.DB, r io.Reader, opts Options) (*Result, error) {
	result := newResult()
	dec := json.NewDecoder(bufio.NewReader(r))
	cleared := make(map[string]bool)

	for lineNum := 1; ; lineNum++ {
		var line Line
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		if !slices.Contains(schema.Collections, line.Collection) || !opts.wants(line.Collection) {
			result.Skipped++
			continue
		}
		if line.ID == 0 || len(line.Data) == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: missing id or data", lineNum))
			result.Skipped++
			continue
		}

		if !opts.DryRun {
			if opts.Replace && !cleared[line.Collection] {
				if err := store.Clear(ctx, line.Collection); err != nil {
					return nil, fmt.Errorf("failed to clear %s: %w", line.Collection, err)
				}
				cleared[line.Collection] = true
			}
			if err := store.PutRaw(ctx, line.Collection, line.ID, line.Updated, line.Data); err != nil {
				return nil, fmt.Errorf("failed to import %s %d: %w", line.Collection, line.ID, err)
			}
		}
		result.Records[line.Collection]++
	}

	return result, nil
}

// ImportFile imports from the JSONL file at path.
func ImportFile(ctx context.Context, store *db.DB, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Import(ctx, store, f, opts)
}
