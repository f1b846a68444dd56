package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/events"
	"github.com/studyportal/studysync/internal/logging"
	"github.com/studyportal/studysync/internal/queue"
)

// CachedKey is the keyval flag set after the first complete run.
const CachedKey = "cached"

// ErrOffline is returned by Run when the API is unreachable and no complete
// cache exists to fall back on.
var ErrOffline = errors.New("offline with no local cache")

// Collection is a cache the orchestrator keeps in sync.
type Collection interface {
	Collection() string
	SyncCollection(ctx context.Context, onProgress func(float64), isCurrent func() bool) error
}

// Pruner is implemented by collections that can drop records deleted on
// the server.
type Pruner interface {
	Prune(ctx context.Context, isCurrent func() bool) (int, error)
}

// Authorizer gates whether triggered runs may start.
type Authorizer interface {
	Authorized(ctx context.Context) (bool, error)
}

// Config holds orchestrator configuration.
type Config struct {
	// Interval between periodic runs (default: 1 hour).
	Interval time.Duration

	// Prune removes local records deleted on the server after each run.
	Prune bool

	// Auth gates triggered runs. Optional.
	Auth Authorizer

	// Probe checks reachability when a run starts while offline. Optional;
	// without it an offline run settles immediately.
	Probe func(ctx context.Context) error

	Bus    *events.Bus
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		Logger:   logging.Nop(),
	}
}

type weighted struct {
	Collection
	weight float64
}

// Orchestrator runs the sync state machine.
type Orchestrator struct {
	store *db.DB
	queue *queue.Queue
	conn  *Connectivity
	cfg   Config
	log   *logging.Logger

	collections []weighted

	generation atomic.Int64

	mu       stdsync.RWMutex
	status   Status
	progress float64
	lastErr  error

	trigger chan struct{}
	wg      stdsync.WaitGroup
}

// New creates an orchestrator.
func New(store *db.DB, q *queue.Queue, conn *Connectivity, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if conn == nil {
		conn = NewConnectivity(cfg.Bus)
	}

	o := &Orchestrator{
		store:   store,
		queue:   q,
		conn:    conn,
		cfg:     cfg,
		log:     cfg.Logger.Named("sync"),
		status:  StatusIdle,
		trigger: make(chan struct{}, 1),
	}
	conn.OnChange(func(online bool) {
		if online {
			o.log.Info("connection restored")
			o.Trigger()
		}
	})
	return o
}

// Register adds a collection to every run. weight sets its share of the
// aggregate progress; non-positive weights count as 1.
func (o *Orchestrator) Register(c Collection, weight float64) {
	if weight <= 0 {
		weight = 1
	}
	o.collections = append(o.collections, weighted{Collection: c, weight: weight})
}

// Connectivity returns the online tracker.
func (o *Orchestrator) Connectivity() *Connectivity {
	return o.conn
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// Progress returns the aggregate progress of the current run in [0, 1].
func (o *Orchestrator) Progress() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.progress
}

// LastError returns the error that put the orchestrator in ERRORED.
func (o *Orchestrator) LastError() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastErr
}

// Cached reports whether a complete run ever finished.
func (o *Orchestrator) Cached(ctx context.Context) bool {
	cached, err := o.store.BoolValue(ctx, CachedKey)
	if err != nil {
		o.log.Warn("failed to read cached flag", "error", err)
	}
	return cached
}

// Run performs one sync run. It supersedes any run still in flight.
//
// A superseded run returns nil. A run that starts offline settles as
// SYNCHED when a complete cache exists and returns ErrOffline otherwise.
// Any failure once the run is under way, losing the API included, ends
// in ERRORED and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	gen := o.generation.Add(1)
	isCurrent := func() bool { return o.generation.Load() == gen }

	if !o.conn.Online() {
		if o.cfg.Probe == nil {
			return o.offline(ctx, gen)
		}
		err := o.cfg.Probe(ctx)
		o.conn.Observe(err)
		if !o.conn.Online() {
			return o.offline(ctx, gen)
		}
	}

	start := time.Now()
	o.setStatus(gen, StatusActions, nil)
	o.setProgress(gen, "actions", 0)

	res, err := o.queue.Drain(ctx, queue.DrainOptions{
		IsCurrent: isCurrent,
		OnProgress: func(done, total int) {
			o.setProgress(gen, "actions", float64(done)/float64(total))
		},
	})
	if err != nil {
		return o.fail(ctx, gen, fmt.Errorf("failed to drain offline queue: %w", err))
	}
	if res.Replayed+res.Dropped > 0 {
		o.log.Info("offline queue drained", "replayed", res.Replayed, "dropped", res.Dropped)
	}

	o.setStatus(gen, StatusCache, nil)
	o.setProgress(gen, "cache", 0)

	var total float64
	for _, c := range o.collections {
		total += c.weight
	}

	var done float64
	for _, c := range o.collections {
		if !isCurrent() {
			return nil
		}
		base, weight := done, c.weight
		err := c.SyncCollection(ctx, func(p float64) {
			o.setProgress(gen, "cache", (base+weight*p)/total)
		}, isCurrent)
		if err != nil {
			return o.fail(ctx, gen, fmt.Errorf("failed to sync %s: %w", c.Collection.Collection(), err))
		}
		done += weight
		o.setProgress(gen, "cache", done/total)

		if o.cfg.Bus != nil {
			o.cfg.Bus.Publish(events.KindCollection, events.Collection{Collection: c.Collection.Collection()})
		}
	}

	if o.cfg.Prune {
		for _, c := range o.collections {
			p, ok := c.Collection.(Pruner)
			if !ok {
				continue
			}
			if _, err := p.Prune(ctx, isCurrent); err != nil {
				return o.fail(ctx, gen, fmt.Errorf("failed to prune %s: %w", c.Collection.Collection(), err))
			}
		}
	}

	if !isCurrent() {
		return nil
	}
	if err := o.store.SetValue(ctx, CachedKey, true); err != nil {
		return o.fail(ctx, gen, err)
	}
	o.setProgress(gen, "done", 1)
	o.setStatus(gen, StatusSynched, nil)
	o.log.Info("sync complete", "collections", len(o.collections), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// offline settles a run that cannot reach the API.
func (o *Orchestrator) offline(ctx context.Context, gen int64) error {
	if o.Cached(ctx) {
		o.log.Info("offline, serving local cache")
		o.setStatus(gen, StatusSynched, nil)
		return nil
	}
	o.setStatus(gen, StatusErrored, ErrOffline)
	return ErrOffline
}

func (o *Orchestrator) fail(ctx context.Context, gen int64, err error) error {
	if errors.Is(err, queue.ErrSuperseded) {
		o.log.Debug("sync superseded", "generation", gen)
		return nil
	}
	o.conn.Observe(err)
	o.log.Error("sync failed", "error", err)
	o.setStatus(gen, StatusErrored, err)
	return err
}

func (o *Orchestrator) setStatus(gen int64, s Status, err error) {
	if o.generation.Load() != gen {
		return
	}

	o.mu.Lock()
	changed := o.status != s
	o.status = s
	o.lastErr = err
	o.mu.Unlock()

	if changed {
		o.log.Debug("status", "status", s)
	}
	if o.cfg.Bus != nil {
		ev := events.Status{Status: string(s)}
		if err != nil {
			ev.Error = err.Error()
		}
		o.cfg.Bus.Publish(events.KindStatus, ev)
	}
}

func (o *Orchestrator) setProgress(gen int64, phase string, p float64) {
	if o.generation.Load() != gen {
		return
	}
	o.mu.Lock()
	o.progress = p
	o.mu.Unlock()
	if o.cfg.Bus != nil {
		o.cfg.Bus.Publish(events.KindProgress, events.Progress{Phase: phase, Fraction: p})
	}
}
