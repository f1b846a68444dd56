package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/studyportal/studysync/internal/events"
	"github.com/studyportal/studysync/internal/logging"
)

// SnapshotData is the payload of a snapshot message.
type SnapshotData struct {
	Status   *events.Status   `json:"status,omitempty"`
	Progress *events.Progress `json:"progress,omitempty"`
	Online   *events.Online   `json:"online,omitempty"`
	Notice   *events.Notice   `json:"notice,omitempty"`
	Pending  int              `json:"pending"`
}

// PendingFunc reports the offline queue length.
type PendingFunc func(ctx context.Context) (int, error)

// Handler forwards bus events to a dashboard server.
type Handler struct {
	server  *Server
	bus     *events.Bus
	pending PendingFunc
	log     *logging.Logger

	events      <-chan events.Event
	unsubscribe func()
}

// NewHandler connects bus to server. pending is optional. Events published
// after NewHandler returns are buffered until Run starts.
func NewHandler(server *Server, bus *events.Bus, pending PendingFunc, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	h := &Handler{
		server:  server,
		bus:     bus,
		pending: pending,
		log:     logger.Named("dashboard"),
	}
	h.events, h.unsubscribe = bus.Subscribe(256)
	server.SetSnapshot(h.Snapshot)
	return h
}

// Run forwards events until ctx is canceled.
func (h *Handler) Run(ctx context.Context) error {
	defer h.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-h.events:
			if !ok {
				return nil
			}
			msg, err := toMessage(ev)
			if err != nil {
				h.log.Warn("failed to encode event", "kind", ev.Kind, "error", err)
				continue
			}
			h.server.Broadcast(msg)
		}
	}
}

// Snapshot builds a message holding the latest event of each kind.
func (h *Handler) Snapshot() Message {
	var data SnapshotData
	for _, ev := range h.bus.Snapshot() {
		switch v := ev.Data.(type) {
		case events.Status:
			data.Status = &v
		case events.Progress:
			data.Progress = &v
		case events.Online:
			data.Online = &v
		case events.Notice:
			data.Notice = &v
		}
	}
	if h.pending != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := h.pending(ctx)
		cancel()
		if err != nil {
			h.log.Warn("failed to count pending actions", "error", err)
		}
		data.Pending = n
	}

	raw, _ := json.Marshal(data)
	return Message{Type: MessageTypeSnapshot, Timestamp: time.Now(), Data: raw}
}

func toMessage(ev events.Event) (Message, error) {
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageType(ev.Kind), Timestamp: ev.Time, Data: raw}, nil
}
