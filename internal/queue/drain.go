package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyportal/studysync/internal/events"
	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
)

// DrainOptions controls a drain.
type DrainOptions struct {
	// OnProgress is called after each task with the number handled so far.
	OnProgress func(done, total int)

	// IsCurrent is checked before each task; returning false aborts the
	// drain with ErrSuperseded.
	IsCurrent func() bool
}

// DrainResult summarizes a drain.
type DrainResult struct {
	Replayed  int
	Dropped   int
	Remaining int
	Conflicts []*ReplayConflictError
}

// Drain replays queued tasks in order.
//
// A replayed task is deleted. A task the server rejects (4xx) or whose
// collection has no replayer is dropped with one notice, and draining
// continues. Any other failure, typically the API still being unreachable,
// stops the drain and keeps the failing task and everything behind it.
func (q *Queue) Drain(ctx context.Context, opts DrainOptions) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var result DrainResult

	tasks, err := q.store.ListTasks(ctx)
	if err != nil {
		return result, err
	}
	if len(tasks) == 0 {
		return result, q.store.DeleteValue(ctx, remapKey)
	}

	remap, err := q.loadRemap(ctx)
	if err != nil {
		return result, err
	}

	q.log.Info("draining offline queue", "tasks", len(tasks))

	for i, task := range tasks {
		if opts.IsCurrent != nil && !opts.IsCurrent() {
			result.Remaining = len(tasks) - i
			return result, ErrSuperseded
		}
		if err := ctx.Err(); err != nil {
			result.Remaining = len(tasks) - i
			return result, err
		}

		if err := q.rewrite(ctx, task, remap); err != nil {
			result.Remaining = len(tasks) - i
			return result, err
		}

		serverID, err := q.replay(ctx, task, remap)
		switch {
		case err == nil:
			if task.Action == schema.ActionCreate && schema.IsTemporaryID(task.TargetID) && serverID > 0 {
				if err := q.recordRemap(ctx, task, serverID, remap, tasks[i+1:]); err != nil {
					result.Remaining = len(tasks) - i
					return result, err
				}
			}
			if err := q.store.DeleteTask(ctx, task.Key); err != nil {
				result.Remaining = len(tasks) - i
				return result, err
			}
			result.Replayed++
			q.log.Debug("replayed offline task", "task", task.Name())

		case isConflict(err):
			conflict := &ReplayConflictError{Task: *task, Err: err}
			q.log.Warn("dropping rejected offline task", "task", task.Name(), "error", err)
			if err := q.store.DeleteTask(ctx, task.Key); err != nil {
				result.Remaining = len(tasks) - i
				return result, err
			}
			if q.bus != nil {
				q.bus.Notify(events.LevelError, conflict.Message(), task.Name())
			}
			result.Dropped++
			result.Conflicts = append(result.Conflicts, conflict)

		default:
			result.Remaining = len(tasks) - i
			return result, fmt.Errorf("failed to replay %s: %w", task.Name(), err)
		}

		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(tasks))
		}
	}

	n, err := q.store.TaskCount(ctx)
	if err != nil {
		return result, err
	}
	if n == 0 {
		if err := q.store.DeleteValue(ctx, remapKey); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (q *Queue) replay(ctx context.Context, task *schema.Task, remap map[int64]int64) (int64, error) {
	r, ok := q.replayer(task.Collection)
	if !ok {
		return 0, fmt.Errorf("%w: no replayer for collection %q", errUnreplayable, task.Collection)
	}
	if task.Action != schema.ActionCreate && schema.IsTemporaryID(task.TargetID) {
		return 0, ErrOrphaned
	}
	return r.Replay(ctx, task)
}

var errUnreplayable = errors.New("unreplayable task")

func isConflict(err error) bool {
	var verr *schema.ValidationError
	return remote.IsClient(err) ||
		errors.As(err, &verr) ||
		errors.Is(err, ErrOrphaned) ||
		errors.Is(err, errUnreplayable)
}

// rewrite applies the remap table to task and persists any change.
func (q *Queue) rewrite(ctx context.Context, task *schema.Task, remap map[int64]int64) error {
	changed, err := rewriteTask(task, remap)
	if err != nil || !changed {
		return err
	}
	return q.store.UpdateTask(ctx, task)
}

func (q *Queue) recordRemap(ctx context.Context, task *schema.Task, serverID int64, remap map[int64]int64, rest []*schema.Task) error {
	remap[task.TargetID] = serverID
	if err := q.store.SetValue(ctx, remapKey, remap); err != nil {
		return fmt.Errorf("failed to save id remap table: %w", err)
	}
	q.log.Info("remapped temporary id", "collection", task.Collection, "temp", task.TargetID, "id", serverID)

	for _, next := range rest {
		if err := q.rewrite(ctx, next, remap); err != nil {
			return err
		}
	}

	for _, hook := range q.remapHooks() {
		if err := hook(ctx, task.Collection, task.TargetID, serverID); err != nil {
			q.log.Warn("remap hook failed", "collection", task.Collection, "temp", task.TargetID, "error", err)
		}
	}
	return nil
}
