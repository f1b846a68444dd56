// Package endpoint adapts one REST collection of the study API to the local
// store: read-through caching, write-through with offline fallback, and
// incremental "changed since" synchronization.
//
// Reads prefer the local copy when the caller asks for it, when the
// collection has completed a full sync, or when the API is known to be
// unreachable. Writes go to the API first; if it cannot be reached, the
// write is applied locally and queued for replay.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/logging"
	"github.com/studyportal/studysync/internal/queue"
	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
)

// ErrNotFound is returned when a record exists neither locally nor remotely.
var ErrNotFound = errors.New("record not found")

// ErrSuperseded is returned by SyncCollection when a newer sync run took over.
var ErrSuperseded = queue.ErrSuperseded

// Connectivity tracks whether the API is reachable.
type Connectivity interface {
	Online() bool
	// Observe reports the outcome of an API call; nil means success.
	Observe(err error)
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool  { return true }
func (alwaysOnline) Observe(error) {}

// Config describes one API collection.
type Config struct {
	// Collection is the local store collection, e.g. "subjects".
	Collection string

	// Path is the REST path for reads, e.g. "/api/study/subjects".
	Path string

	// WritePath overrides Path for creates and updates of per-user
	// fields, e.g. "/api/study/user-subjects".
	WritePath string

	Logger *logging.Logger
}

// GetOptions tune reads.
type GetOptions struct {
	// LocalOnly never touches the network.
	LocalOnly bool
}

// Endpoint is the adapter for entities of type T, which must be a pointer
// type such as *schema.Subject.
type Endpoint[T schema.Entity] struct {
	cfg    Config
	store  *db.DB
	client *remote.Client
	queue  *queue.Queue
	conn   Connectivity
	log    *logging.Logger
}

// New creates an endpoint and registers it as the queue's replayer for the
// collection. conn may be nil.
func New[T schema.Entity](cfg Config, store *db.DB, client *remote.Client, q *queue.Queue, conn Connectivity) *Endpoint[T] {
	if cfg.WritePath == "" {
		cfg.WritePath = cfg.Path
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if conn == nil {
		conn = alwaysOnline{}
	}

	e := &Endpoint[T]{
		cfg:    cfg,
		store:  store,
		client: client,
		queue:  q,
		conn:   conn,
		log:    cfg.Logger.Named("endpoint").With("collection", cfg.Collection),
	}
	if q != nil {
		q.Register(cfg.Collection, e)
	}
	return e
}

// Collection returns the local collection name.
func (e *Endpoint[T]) Collection() string {
	return e.cfg.Collection
}

// MarkerKey is the keyval key of the collection's last-sync marker.
func MarkerKey(collection string) string {
	return "lastUpdate:" + collection
}

// CachedKey is the keyval key set once the collection fully synced.
func CachedKey(collection string) string {
	return "cached:" + collection
}

// Cached reports whether the collection has completed a full sync.
func (e *Endpoint[T]) Cached(ctx context.Context) bool {
	cached, err := e.store.BoolValue(ctx, CachedKey(e.cfg.Collection))
	if err != nil {
		e.log.Warn("failed to read cached flag", "error", err)
		return false
	}
	return cached
}

// Get returns the record with id.
func (e *Endpoint[T]) Get(ctx context.Context, id int64, opts GetOptions) (T, error) {
	var zero T

	local, ok, err := db.GetAs[T](ctx, e.store, e.cfg.Collection, id)
	if err != nil {
		return zero, err
	}
	if ok && (opts.LocalOnly || schema.IsTemporaryID(id) || !e.conn.Online() || e.Cached(ctx)) {
		return local, nil
	}
	if opts.LocalOnly || schema.IsTemporaryID(id) {
		return zero, fmt.Errorf("%s/%d: %w", e.cfg.Collection, id, ErrNotFound)
	}

	fetched, err := remote.JSON[T](ctx, e.client, e.itemPath(e.cfg.Path, id), remote.Options{})
	e.conn.Observe(err)
	switch {
	case err == nil:
	case ok && remote.IsOffline(err):
		e.log.Debug("serving local copy while offline", "id", id)
		return local, nil
	case remote.IsNotFound(err):
		if ok {
			if err := e.store.Delete(ctx, e.cfg.Collection, id); err != nil {
				return zero, err
			}
		}
		return zero, fmt.Errorf("%s/%d: %w", e.cfg.Collection, id, ErrNotFound)
	default:
		return zero, err
	}
	if isZero(fetched) {
		return zero, fmt.Errorf("%s/%d: %w", e.cfg.Collection, id, ErrNotFound)
	}

	if err := e.store.Put(ctx, e.cfg.Collection, fetched); err != nil {
		return zero, err
	}
	return fetched, nil
}

// GetAll returns every record of the collection.
func (e *Endpoint[T]) GetAll(ctx context.Context, opts GetOptions) ([]T, error) {
	if opts.LocalOnly || !e.conn.Online() || e.Cached(ctx) {
		return db.All[T](ctx, e.store, e.cfg.Collection)
	}

	records, err := remote.JSON[[]T](ctx, e.client, e.cfg.Path, remote.Options{})
	e.conn.Observe(err)
	if err != nil {
		if remote.IsOffline(err) {
			return db.All[T](ctx, e.store, e.cfg.Collection)
		}
		return nil, err
	}

	for _, rec := range records {
		if err := e.store.Put(ctx, e.cfg.Collection, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Create stores a new record. When the API is unreachable the record is
// saved under a temporary negative id and a create task is queued; the
// returned record then carries that id.
func (e *Endpoint[T]) Create(ctx context.Context, data T) (T, error) {
	var zero T
	if err := data.Validate(); err != nil {
		return zero, err
	}

	body, err := withoutID(data)
	if err != nil {
		return zero, err
	}

	created, err := remote.JSON[T](ctx, e.client, e.cfg.WritePath, remote.Options{
		Method: http.MethodPost,
		Body:   body,
	})
	e.conn.Observe(err)
	if err == nil {
		if isZero(created) {
			return zero, fmt.Errorf("create %s: empty response", e.cfg.Collection)
		}
		if err := e.store.Put(ctx, e.cfg.Collection, created); err != nil {
			return zero, err
		}
		if id := data.RecordID(); schema.IsTemporaryID(id) {
			if err := e.store.Delete(ctx, e.cfg.Collection, id); err != nil {
				return zero, err
			}
		}
		return created, nil
	}
	if !remote.IsOffline(err) {
		return zero, err
	}

	id := data.RecordID()
	if !schema.IsTemporaryID(id) {
		if id, err = e.store.NextTempID(ctx); err != nil {
			return zero, err
		}
		data.SetRecordID(id)
	}
	if err := e.store.Put(ctx, e.cfg.Collection, data); err != nil {
		return zero, err
	}
	if _, err := e.queue.Enqueue(ctx, e.cfg.Collection, schema.ActionCreate, id, data); err != nil {
		return zero, err
	}
	e.log.Info("created offline", "id", id)
	return data, nil
}

// Update applies patch to the record with id. patch is either a full T or
// a partial object of JSON fields.
//
// A temporary id whose create already replayed is redirected to the server
// id. A temporary id with no local record returns ErrNotFound.
func (e *Endpoint[T]) Update(ctx context.Context, id int64, patch any) (T, error) {
	var zero T
	if v, ok := patch.(schema.Entity); ok {
		if err := v.Validate(); err != nil {
			return zero, err
		}
	}

	if schema.IsTemporaryID(id) {
		remap, err := e.queue.Remap(ctx)
		if err != nil {
			return zero, err
		}
		if serverID, ok := remap[id]; ok {
			e.log.Debug("update redirected to server id", "temp_id", id, "id", serverID)
			id = serverID
		}
	}

	if !schema.IsTemporaryID(id) {
		updated, err := remote.JSON[T](ctx, e.client, e.itemPath(e.cfg.WritePath, id), remote.Options{
			Method: http.MethodPut,
			Body:   patch,
		})
		e.conn.Observe(err)
		if err == nil {
			if isZero(updated) || updated.RecordID() == 0 {
				// Some write paths answer with an empty body.
				return e.applyLocal(ctx, id, patch)
			}
			if err := e.store.Put(ctx, e.cfg.Collection, updated); err != nil {
				return zero, err
			}
			return updated, nil
		}
		if !remote.IsOffline(err) {
			return zero, err
		}
	}

	merged, err := e.applyLocal(ctx, id, patch)
	if err != nil {
		return zero, err
	}
	if _, err := e.queue.Enqueue(ctx, e.cfg.Collection, schema.ActionUpdate, id, patch); err != nil {
		return zero, err
	}
	e.log.Info("updated offline", "id", id)
	return merged, nil
}

// Delete removes the record with id. A record already gone from the
// server is removed locally without error.
func (e *Endpoint[T]) Delete(ctx context.Context, id int64) error {
	if !schema.IsTemporaryID(id) {
		_, err := e.client.Request(ctx, e.itemPath(e.cfg.Path, id), remote.Options{Method: http.MethodDelete})
		e.conn.Observe(err)
		if err == nil || remote.IsNotFound(err) {
			return e.store.Delete(ctx, e.cfg.Collection, id)
		}
		if !remote.IsOffline(err) {
			return err
		}
	}

	if err := e.store.Delete(ctx, e.cfg.Collection, id); err != nil {
		return err
	}
	if _, err := e.queue.Enqueue(ctx, e.cfg.Collection, schema.ActionDelete, id, nil); err != nil {
		return err
	}
	e.log.Info("deleted offline", "id", id)
	return nil
}

// Put mirrors a record into the local store without any API call.
func (e *Endpoint[T]) Put(ctx context.Context, rec T) error {
	return e.store.Put(ctx, e.cfg.Collection, rec)
}

// applyLocal merges patch into the local copy of id and stores the result.
func (e *Endpoint[T]) applyLocal(ctx context.Context, id int64, patch any) (T, error) {
	var zero T

	raw, ok, err := e.store.Get(ctx, e.cfg.Collection, id)
	if err != nil {
		return zero, err
	}
	if !ok {
		if schema.IsTemporaryID(id) {
			return zero, fmt.Errorf("%w: %s/%d", ErrNotFound, e.cfg.Collection, id)
		}
		raw = json.RawMessage(`{}`)
	}

	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return zero, fmt.Errorf("failed to decode %s/%d: %w", e.cfg.Collection, id, err)
	}
	patchData, err := json.Marshal(patch)
	if err != nil {
		return zero, fmt.Errorf("failed to encode patch: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(patchData, &fields); err != nil {
		return zero, fmt.Errorf("patch for %s/%d is not an object: %w", e.cfg.Collection, id, err)
	}
	for k, v := range fields {
		doc[k] = v
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return zero, err
	}
	var rec T
	if err := json.Unmarshal(merged, &rec); err != nil {
		return zero, fmt.Errorf("failed to decode merged %s/%d: %w", e.cfg.Collection, id, err)
	}
	rec.SetRecordID(id)

	if err := e.store.Put(ctx, e.cfg.Collection, rec); err != nil {
		return zero, err
	}
	return rec, nil
}

func (e *Endpoint[T]) itemPath(base string, id int64) string {
	return base + "/" + strconv.FormatInt(id, 10)
}

func isZero[T any](v T) bool {
	return reflect.ValueOf(&v).Elem().IsZero()
}

// withoutID encodes v as a JSON object without its id field, which the
// server assigns.
func withoutID(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}
	delete(doc, "id")
	return json.Marshal(doc)
}
