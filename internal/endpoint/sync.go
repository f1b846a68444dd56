package endpoint

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
)

// CheckpointEvery is how many applied records pass between marker writes.
const CheckpointEvery = 1000

// SyncCollection fetches the records updated since the last-sync marker and
// applies them in ascending update order.
//
// The marker is checkpointed every CheckpointEvery records and at the end,
// so an interrupted sync resumes close to where it stopped. onProgress
// receives the applied fraction. isCurrent is checked before each record;
// returning false stops the sync with ErrSuperseded. Both may be nil.
func (e *Endpoint[T]) SyncCollection(ctx context.Context, onProgress func(float64), isCurrent func() bool) error {
	markerKey := MarkerKey(e.cfg.Collection)
	marker, err := e.store.Int64Value(ctx, markerKey)
	if err != nil {
		return err
	}

	records, err := remote.JSON[[]T](ctx, e.client, e.cfg.Path, remote.Options{
		Filter: fmt.Sprintf("updated>%d", marker),
	})
	e.conn.Observe(err)
	if err != nil {
		return fmt.Errorf("failed to fetch %s since %d: %w", e.cfg.Collection, marker, err)
	}

	records = slices.DeleteFunc(records, isZero[T])
	slices.SortStableFunc(records, func(a, b T) int {
		return cmpInt64(a.UpdatedAt(), b.UpdatedAt())
	})

	e.log.Debug("applying changes", "since", marker, "records", len(records))

	for i, rec := range records {
		if isCurrent != nil && !isCurrent() {
			return ErrSuperseded
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.store.Put(ctx, e.cfg.Collection, rec); err != nil {
			return err
		}

		if (i+1)%CheckpointEvery == 0 {
			if err := e.store.SetValue(ctx, markerKey, checkpoint(records, i)); err != nil {
				return err
			}
		}
		if onProgress != nil {
			onProgress(float64(i+1) / float64(len(records)))
		}
	}

	if isCurrent != nil && !isCurrent() {
		return ErrSuperseded
	}
	if len(records) > 0 {
		last := records[len(records)-1].UpdatedAt()
		if last > marker {
			if err := e.store.SetValue(ctx, markerKey, last); err != nil {
				return err
			}
		}
	}
	if err := e.store.SetValue(ctx, CachedKey(e.cfg.Collection), true); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

// checkpoint returns the highest update time t such that every record with
// updated <= t is among records[:i+1]. Records sharing the timestamp of the
// next unapplied one are held back so the "updated>" filter refetches them.
func checkpoint[T schema.Entity](records []T, i int) int64 {
	at := records[i].UpdatedAt()
	if i+1 < len(records) && records[i+1].UpdatedAt() == at {
		return at - 1
	}
	return at
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// IDStamp is one entry of the compact id listing.
type IDStamp struct {
	ID      int64
	Updated int64
}

// RemoteIDs lists the ids of server records updated after since, from the
// compact "{path}/ids" endpoint which answers with "id,timestamp" lines.
func (e *Endpoint[T]) RemoteIDs(ctx context.Context, since int64) ([]IDStamp, error) {
	body, err := e.client.Request(ctx, e.cfg.Path+"/ids", remote.Options{
		Filter: fmt.Sprintf("updated>%d", since),
		Raw:    true,
	})
	e.conn.Observe(err)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", e.cfg.Collection, err)
	}
	return ParseIDStamps(body)
}

// ParseIDStamps parses "id,timestamp" lines. Blank lines are skipped.
func ParseIDStamps(body []byte) ([]IDStamp, error) {
	var out []IDStamp
	sc := bufio.NewScanner(bytes.NewReader(body))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		idStr, tsStr, ok := strings.Cut(text, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: expected id,timestamp: %q", line, text)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid id: %w", line, err)
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(tsStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp: %w", line, err)
		}
		out = append(out, IDStamp{ID: id, Updated: ts})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read id list: %w", err)
	}
	return out, nil
}

// Prune deletes local records the server no longer has. Records with
// temporary ids are kept. It returns the number of records removed.
func (e *Endpoint[T]) Prune(ctx context.Context, isCurrent func() bool) (int, error) {
	stamps, err := e.RemoteIDs(ctx, 0)
	if err != nil {
		return 0, err
	}
	live := make(map[int64]bool, len(stamps))
	for _, s := range stamps {
		live[s.ID] = true
	}

	keys, err := e.store.GetAllKeys(ctx, e.cfg.Collection)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range keys {
		if isCurrent != nil && !isCurrent() {
			return removed, ErrSuperseded
		}
		if schema.IsTemporaryID(id) || live[id] {
			continue
		}
		if err := e.store.Delete(ctx, e.cfg.Collection, id); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		e.log.Info("pruned records deleted on the server", "removed", removed)
	}
	return removed, nil
}
