package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of mutation carried by an offline task.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsValid reports whether a is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Task is a mutation recorded while the remote API was unreachable.
// Key is assigned by the store and grows monotonically, which gives the
// replay order.
type Task struct {
	Key        int64           `json:"key"`
	Collection string          `json:"collection"`
	Action     Action          `json:"action"`
	TargetID   int64           `json:"targetId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Created    time.Time       `json:"created"`
}

// Name returns the task identifier: {key}:{collection}:{action}.
func (t *Task) Name() string {
	return fmt.Sprintf("%d:%s:%s", t.Key, t.Collection, t.Action)
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.Collection == "" {
		return invalid("task", "collection", "is required")
	}
	if !t.Action.IsValid() {
		return invalid("task", "action", fmt.Sprintf("%q is not a known action", t.Action))
	}
	if t.Action != ActionCreate && t.TargetID == 0 {
		return invalid("task", "targetId", "is required for "+string(t.Action))
	}
	if t.Action != ActionDelete && len(t.Payload) == 0 {
		return invalid("task", "payload", "is required for "+string(t.Action))
	}
	return nil
}
