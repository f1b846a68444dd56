package study

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/schema"
)

// State is the lifecycle of an optimistic local change.
type State int

const (
	// Pending: applied locally, the API has not confirmed it yet.
	Pending State = iota
	// Committed: confirmed by the API or queued for offline replay.
	Committed
	// Failed: the API rejected the change. The local store still holds the
	// optimistic values until Rollback.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrNotFailed is returned by Rollback on a mutation that did not fail.
var ErrNotFailed = errors.New("mutation did not fail")

type snapshot struct {
	collection string
	id         int64
	// rec is nil when the record did not exist before the change.
	rec schema.Entity
}

// Mutation tracks one optimistic change and holds the last committed
// version of every record it touched.
type Mutation struct {
	store *db.DB

	mu       sync.Mutex
	state    State
	err      error
	snapshot []snapshot
}

func newMutation(store *db.DB) *Mutation {
	return &Mutation{store: store}
}

// State returns the current state.
func (m *Mutation) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the rejection that failed the mutation.
func (m *Mutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// keep records the committed version of a record before it is changed.
// Only the first call per record counts.
func (m *Mutation) keep(collection string, id int64, rec schema.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshot {
		if s.collection == collection && s.id == id {
			return
		}
	}
	m.snapshot = append(m.snapshot, snapshot{collection: collection, id: id, rec: rec})
}

func (m *Mutation) commit() {
	m.mu.Lock()
	m.state = Committed
	m.err = nil
	m.mu.Unlock()
}

func (m *Mutation) fail(err error) error {
	m.mu.Lock()
	m.state = Failed
	m.err = err
	m.mu.Unlock()
	return err
}

// Rollback restores every touched record to its committed snapshot and
// moves the mutation back to Committed.
func (m *Mutation) Rollback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Failed {
		return ErrNotFailed
	}

	for i := len(m.snapshot) - 1; i >= 0; i-- {
		s := m.snapshot[i]
		var err error
		if s.rec == nil {
			err = m.store.Delete(ctx, s.collection, s.id)
		} else {
			err = m.store.Put(ctx, s.collection, s.rec)
		}
		if err != nil {
			return fmt.Errorf("failed to restore %s/%d: %w", s.collection, s.id, err)
		}
	}

	m.state = Committed
	m.err = nil
	return nil
}
