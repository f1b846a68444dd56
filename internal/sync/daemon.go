package sync

import (
	"context"
	"time"

	"github.com/studyportal/studysync/internal/remote"
)

// Trigger requests a run. Requests made while one is pending coalesce.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Start runs the orchestrator until ctx is canceled.
//
// A run starts right away if the auth collaborator allows it, then on
// every Trigger, on reconnection and every Interval. A new run supersedes
// the one in flight.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.log.Info("starting sync loop", "interval", o.cfg.Interval)
	o.Trigger()

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("stopping sync loop")
			o.generation.Add(1)
			o.wg.Wait()
			return nil

		case <-ticker.C:
			o.start(ctx)

		case <-o.trigger:
			o.start(ctx)
		}
	}
}

func (o *Orchestrator) start(ctx context.Context) {
	if o.cfg.Auth != nil {
		ok, err := o.cfg.Auth.Authorized(ctx)
		if err != nil {
			o.log.Warn("authorization check failed", "error", err)
			return
		}
		if !ok {
			o.log.Info("not authorized to sync")
			return
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_ = o.Run(ctx)
	}()
}

// LiveState implements remote.LiveHandler. An open live connection proves
// the API is reachable.
func (o *Orchestrator) LiveState(connected bool) {
	if connected {
		o.conn.Set(true)
	}
}

// LiveEvent implements remote.LiveHandler.
func (o *Orchestrator) LiveEvent(ev remote.LiveEvent) {
	if ev.Type == "updated" {
		o.log.Debug("remote change announced", "collection", ev.Collection)
		o.Trigger()
	}
}
