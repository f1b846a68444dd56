// Package queue is the durable log of mutations made while the study API
// was unreachable.
//
// Tasks replay strictly in insertion order. A replayed create that carried
// a temporary (negative) id records the server id in a remap table, and every
// task still queued behind it is rewritten to reference the server id before
// it replays. The remap table lives as long as the queue is non-empty.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/events"
	"github.com/studyportal/studysync/internal/logging"
	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
)

const remapKey = "offlineRemap"

// ErrSuperseded stops a drain or collection sync that a newer sync run
// replaced. It is not a failure.
var ErrSuperseded = errors.New("sync superseded by a newer run")

// ErrOrphaned is the cause of a conflict for a task whose temporary target
// was never created on the server.
var ErrOrphaned = errors.New("target was never created on the server")

// Replayer re-executes queued tasks of one collection against the API.
type Replayer interface {
	// Replay performs task remotely and mirrors the result locally. For a
	// create it returns the id the server assigned.
	Replay(ctx context.Context, task *schema.Task) (int64, error)
}

// RemapFunc is called after a temporary id was replaced by a server id.
type RemapFunc func(ctx context.Context, collection string, tempID, serverID int64) error

// ReplayConflictError reports a task the server rejected on replay. The
// task is dropped.
type ReplayConflictError struct {
	Task schema.Task
	Err  error
}

func (e *ReplayConflictError) Error() string {
	return fmt.Sprintf("offline task %s rejected: %v", e.Task.Name(), e.Err)
}

func (e *ReplayConflictError) Unwrap() error { return e.Err }

// Message is the user-facing description of the conflict.
func (e *ReplayConflictError) Message() string {
	if re, ok := remote.AsRequestError(e.Err); ok {
		return fmt.Sprintf("Could not %s %s: %s", e.Task.Action, e.Task.Collection, re.UserMessage())
	}
	return fmt.Sprintf("Could not %s %s: %v", e.Task.Action, e.Task.Collection, e.Err)
}

// Config holds queue configuration.
type Config struct {
	// Bus receives one notice per dropped task. Optional.
	Bus *events.Bus

	Logger *logging.Logger
}

// Queue is the offline action queue.
type Queue struct {
	store *db.DB
	bus   *events.Bus
	log   *logging.Logger

	mu        sync.RWMutex
	replayers map[string]Replayer
	hooks     []RemapFunc

	// drainMu serializes drains.
	drainMu sync.Mutex
}

// New creates a queue over store.
func New(store *db.DB, cfg Config) *Queue {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Queue{
		store:     store,
		bus:       cfg.Bus,
		log:       cfg.Logger.Named("queue"),
		replayers: make(map[string]Replayer),
	}
}

// Register sets the replayer for a collection.
func (q *Queue) Register(collection string, r Replayer) {
	q.mu.Lock()
	q.replayers[collection] = r
	q.mu.Unlock()
}

// OnRemap registers fn to run after each id remap, e.g. to rewrite local
// records that still reference the temporary id.
func (q *Queue) OnRemap(fn RemapFunc) {
	q.mu.Lock()
	q.hooks = append(q.hooks, fn)
	q.mu.Unlock()
}

// Enqueue appends a task. payload may be nil for deletes; json.RawMessage is
// stored as-is and anything else is encoded as JSON. References to
// temporary ids that were already remapped are rewritten first.
func (q *Queue) Enqueue(ctx context.Context, collection string, action schema.Action, targetID int64, payload any) (schema.Task, error) {
	task := schema.Task{
		Collection: collection,
		Action:     action,
		TargetID:   targetID,
	}

	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		task.Payload = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return schema.Task{}, fmt.Errorf("failed to encode task payload: %w", err)
		}
		task.Payload = data
	}

	remap, err := q.loadRemap(ctx)
	if err != nil {
		return schema.Task{}, err
	}
	if _, err := rewriteTask(&task, remap); err != nil {
		return schema.Task{}, err
	}

	if err := q.store.AppendTask(ctx, &task); err != nil {
		return schema.Task{}, err
	}

	q.log.Info("queued offline task", "task", task.Name(), "target", task.TargetID)
	return task, nil
}

// Pending returns the queued tasks in replay order.
func (q *Queue) Pending(ctx context.Context) ([]*schema.Task, error) {
	return q.store.ListTasks(ctx)
}

// Len returns the number of queued tasks.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.TaskCount(ctx)
}

// Clear discards every queued task and the remap table.
func (q *Queue) Clear(ctx context.Context) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	if err := q.store.ClearTasks(ctx); err != nil {
		return err
	}
	return q.store.DeleteValue(ctx, remapKey)
}

// Remap returns the current temporary-to-server id table.
func (q *Queue) Remap(ctx context.Context) (map[int64]int64, error) {
	return q.loadRemap(ctx)
}

func (q *Queue) loadRemap(ctx context.Context) (map[int64]int64, error) {
	remap := make(map[int64]int64)
	if _, err := q.store.GetValue(ctx, remapKey, &remap); err != nil {
		return nil, fmt.Errorf("failed to load id remap table: %w", err)
	}
	return remap, nil
}

func (q *Queue) replayer(collection string) (Replayer, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	r, ok := q.replayers[collection]
	return r, ok
}

func (q *Queue) remapHooks() []RemapFunc {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]RemapFunc(nil), q.hooks...)
}
