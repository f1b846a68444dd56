package sync

import (
	"context"
	"errors"
	"slices"
	stdsync "sync"
	"sync/atomic"

	"github.com/studyportal/studysync/internal/events"
	"github.com/studyportal/studysync/internal/remote"
)

// Connectivity is the process-wide online flag.
//
// It starts online. Network failures and server errors that outlived
// retries flip it offline; any HTTP response, including a 4xx, flips it
// back.
type Connectivity struct {
	online atomic.Bool
	bus    *events.Bus

	mu    stdsync.Mutex
	hooks []func(online bool)
}

// NewConnectivity creates a tracker publishing changes on bus (optional).
func NewConnectivity(bus *events.Bus) *Connectivity {
	c := &Connectivity{bus: bus}
	c.online.Store(true)
	return c
}

// Online reports the current flag.
func (c *Connectivity) Online() bool {
	return c.online.Load()
}

// Observe records the outcome of an API call.
func (c *Connectivity) Observe(err error) {
	switch {
	case err == nil:
		c.Set(true)
	case errors.Is(err, context.Canceled):
	case remote.IsOffline(err):
		c.Set(false)
	case remote.IsClient(err):
		c.Set(true)
	}
}

// Set changes the flag and notifies hooks when it flips.
func (c *Connectivity) Set(online bool) {
	if c.online.Swap(online) == online {
		return
	}

	if c.bus != nil {
		c.bus.Publish(events.KindOnline, events.Online{Online: online})
	}

	c.mu.Lock()
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(online)
	}
}

// OnChange registers fn to run after each flip.
func (c *Connectivity) OnChange(fn func(online bool)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}
