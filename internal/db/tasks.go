package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/studyportal/studysync/internal/schema"
)

// AppendTask stores task at the tail of the offline queue and sets task.Key.
func (db *DB) AppendTask(ctx context.Context, task *schema.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if task.Created.IsZero() {
		task.Created = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO offlineTasksQueue (collection, action, target_id, payload, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		task.Collection,
		string(task.Action),
		task.TargetID,
		nullPayload(task.Payload),
		task.Created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append task: %w", err)
	}

	key, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read task key: %w", err)
	}
	task.Key = key
	return nil
}

// ListTasks returns the queued tasks in insertion order.
func (db *DB) ListTasks(ctx context.Context) ([]*schema.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT key, collection, action, target_id, payload, created_at
	FROM offlineTasksQueue
	ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		var (
			task      schema.Task
			action    string
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&task.Key, &task.Collection, &action, &task.TargetID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Action = schema.Action(action)
		if payload.Valid {
			task.Payload = []byte(payload.String)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			task.Created = t
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask rewrites the target and payload of a queued task in place.
// The key, and therefore the replay position, never changes.
func (db *DB) UpdateTask(ctx context.Context, task *schema.Task) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE offlineTasksQueue SET target_id = ?, payload = ? WHERE key = ?",
		task.TargetID, nullPayload(task.Payload), task.Key)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.Name(), err)
	}
	return nil
}

// DeleteTask removes a task. Missing keys are not an error.
func (db *DB) DeleteTask(ctx context.Context, key int64) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM offlineTasksQueue WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", key, err)
	}
	return nil
}

// ClearTasks empties the offline queue.
func (db *DB) ClearTasks(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM offlineTasksQueue"); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	return nil
}

// TaskCount returns the number of queued tasks.
func (db *DB) TaskCount(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM offlineTasksQueue").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

func nullPayload(p []byte) sql.NullString {
	if len(p) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}
