// Package events is the in-process event bus shared by the sync layer, the
// study service and the dashboard.
//
// The bus keeps the latest event of each kind, so a late subscriber can read
// the current sync status or online flag without waiting for a change.
package events

import (
	"sync"
	"time"

	"github.com/studyportal/studysync/internal/logging"
)

// Kind identifies an event payload.
type Kind string

const (
	// KindStatus carries a Status payload.
	KindStatus Kind = "status"

	// KindProgress carries a Progress payload.
	KindProgress Kind = "progress"

	// KindOnline carries an Online payload.
	KindOnline Kind = "online"

	// KindNotice carries a Notice payload, a transient user-visible message.
	KindNotice Kind = "notice"

	// KindCollection carries a Collection payload after local data changed.
	KindCollection Kind = "collection"
)

// Event is a published message.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Status is the sync orchestrator state.
type Status struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Progress is the aggregate sync progress in [0, 1].
type Progress struct {
	Phase    string  `json:"phase"`
	Fraction float64 `json:"fraction"`
}

// Online reports API reachability.
type Online struct {
	Online bool `json:"online"`
}

// Notice levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notice is a toast-style message for the user.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	// Task names the offline task a replay notice refers to.
	Task string `json:"task,omitempty"`
}

// Collection reports that records of a collection changed locally.
type Collection struct {
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	last   map[Kind]Event

	log *logging.Logger
}

// New creates an event bus.
func New(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bus{
		subs: make(map[int]chan Event),
		last: make(map[Kind]Event),
		log:  logger.Named("events"),
	}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers data to every subscriber without blocking. Subscribers
// whose buffer is full miss the event.
func (b *Bus) Publish(kind Kind, data any) {
	ev := Event{Kind: kind, Time: time.Now(), Data: data}

	b.mu.Lock()
	b.last[kind] = ev
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("subscriber buffer full, dropping event", "subscriber", id, "kind", kind)
		}
	}
}

// Last returns the most recent event of kind.
func (b *Bus) Last(kind Kind) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.last[kind]
	return ev, ok
}

// Snapshot returns the latest event of every kind seen so far.
func (b *Bus) Snapshot() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, 0, len(b.last))
	for _, k := range []Kind{KindStatus, KindProgress, KindOnline, KindNotice, KindCollection} {
		if ev, ok := b.last[k]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// Notify publishes a notice.
func (b *Bus) Notify(level, message, task string) {
	b.Publish(KindNotice, Notice{Level: level, Message: message, Task: task})
}
