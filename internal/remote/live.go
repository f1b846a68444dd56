package remote

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/studyportal/studysync/internal/logging"
)

// LivePath is the API's study event stream.
const LivePath = "/api/study/ws"

// LiveEvent is a message pushed by the API over the live connection.
type LiveEvent struct {
	Type       string `json:"type"`
	Collection string `json:"collection,omitempty"`
}

// LiveHandler receives live connection callbacks. Methods are called from
// the Run goroutine.
type LiveHandler interface {
	// LiveState is called when the connection opens (true) or drops (false).
	LiveState(connected bool)
	LiveEvent(ev LiveEvent)
}

// Live keeps a WebSocket open to the API and reconnects with exponential
// backoff when it drops.
type Live struct {
	url     string
	token   TokenSource
	handler LiveHandler
	log     *logging.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewLive creates a live link for client's API.
func NewLive(c *Client, handler LiveHandler) *Live {
	return &Live{
		url:             wsURL(c.BaseURL() + LivePath),
		token:           c.cfg.Token,
		handler:         handler,
		log:             c.log.Named("live"),
		initialInterval: time.Second,
		maxInterval:     time.Minute,
	}
}

// Run connects and dispatches events until ctx is canceled.
func (l *Live) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.initialInterval
	b.MaxInterval = l.maxInterval

	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		l.log.Debug("live connection closed", "error", err, "reconnect_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (l *Live) session(ctx context.Context) (bool, error) {
	header := http.Header{}
	if l.token != nil {
		if tok := l.token.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	conn, _, err := websocket.Dial(dialCtx, l.url, &websocket.DialOptions{HTTPHeader: header})
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	l.log.Info("live connection established", "url", l.url)
	l.handler.LiveState(true)
	defer l.handler.LiveState(false)

	for {
		var ev LiveEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return true, nil
			}
			return true, err
		}
		l.handler.LiveEvent(ev)
	}
}

func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
