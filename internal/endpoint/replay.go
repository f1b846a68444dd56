package endpoint

import (
	"context"
	"fmt"
	"net/http"

	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
)

// Replay re-executes a queued task against the API and mirrors the result
// into the local store. It implements queue.Replayer.
func (e *Endpoint[T]) Replay(ctx context.Context, task *schema.Task) (int64, error) {
	switch task.Action {
	case schema.ActionCreate:
		return e.replayCreate(ctx, task)

	case schema.ActionUpdate:
		updated, err := remote.JSON[T](ctx, e.client, e.itemPath(e.cfg.WritePath, task.TargetID), remote.Options{
			Method: http.MethodPut,
			Body:   task.Payload,
		})
		e.conn.Observe(err)
		if err != nil {
			return 0, err
		}
		if !isZero(updated) && updated.RecordID() != 0 {
			if err := e.store.Put(ctx, e.cfg.Collection, updated); err != nil {
				return 0, err
			}
		}
		return task.TargetID, nil

	case schema.ActionDelete:
		_, err := e.client.Request(ctx, e.itemPath(e.cfg.Path, task.TargetID), remote.Options{Method: http.MethodDelete})
		e.conn.Observe(err)
		if err != nil {
			return 0, err
		}
		return task.TargetID, e.store.Delete(ctx, e.cfg.Collection, task.TargetID)
	}
	return 0, fmt.Errorf("unknown action %q", task.Action)
}

func (e *Endpoint[T]) replayCreate(ctx context.Context, task *schema.Task) (int64, error) {
	body, err := withoutID(task.Payload)
	if err != nil {
		return 0, err
	}

	created, err := remote.JSON[T](ctx, e.client, e.cfg.WritePath, remote.Options{
		Method: http.MethodPost,
		Body:   body,
	})
	e.conn.Observe(err)
	if err != nil {
		return 0, err
	}
	if isZero(created) || created.RecordID() <= 0 {
		return 0, fmt.Errorf("create %s: response carries no id", e.cfg.Collection)
	}

	if schema.IsTemporaryID(task.TargetID) {
		if err := e.store.Delete(ctx, e.cfg.Collection, task.TargetID); err != nil {
			return 0, err
		}
	}
	if err := e.store.Put(ctx, e.cfg.Collection, created); err != nil {
		return 0, err
	}
	return created.RecordID(), nil
}
