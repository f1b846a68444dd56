// Package app wires the studysync components together from a Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/studyportal/studysync/internal/auth"
	"github.com/studyportal/studysync/internal/config"
	"github.com/studyportal/studysync/internal/dashboard"
	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/events"
	"github.com/studyportal/studysync/internal/logging"
	"github.com/studyportal/studysync/internal/queue"
	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
	"github.com/studyportal/studysync/internal/srs"
	"github.com/studyportal/studysync/internal/study"
	syncer "github.com/studyportal/studysync/internal/sync"
)

// weights sets each collection's share of sync progress, roughly its
// expected size.
var weights = map[string]float64{
	schema.CollectionSRS:       1,
	schema.CollectionThemes:    1,
	schema.CollectionSubjects:  4,
	schema.CollectionQuestions: 4,
	schema.CollectionAnswers:   2,
}

// App holds the wired components of one studysync process.
type App struct {
	Config *config.Config
	Log    *logging.Logger

	Store     *db.DB
	Client    *remote.Client
	Bus       *events.Bus
	Conn      *syncer.Connectivity
	Queue     *queue.Queue
	Endpoints study.Endpoints
	Study     *study.Service
	Auth      *auth.Auth
	Sync      *syncer.Orchestrator
}

// New opens the local store and builds every component.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}

	store, err := db.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchemaContext(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if store.Recreated() {
		log.Warn("local cache was reset by a schema upgrade, a full sync will follow", "path", store.Path())
	}

	var schedules []schema.SRS
	if cfg.SRS.File != "" {
		if schedules, err = srs.LoadFile(cfg.SRS.File); err != nil {
			store.Close()
			return nil, err
		}
	}

	bus := events.New(log)
	conn := syncer.NewConnectivity(bus)
	client := remote.New(remote.Config{
		BaseURL:       cfg.API.URL,
		Token:         remote.StaticToken(cfg.API.Token),
		Timeout:       cfg.API.Timeout,
		Retries:       cfg.API.Retries,
		RetryInterval: cfg.API.RetryInterval,
		Logger:        log,
	})
	q := queue.New(store, queue.Config{Bus: bus, Logger: log})
	ep := study.NewEndpoints(store, client, q, conn, log)
	svc := study.New(store, ep, q, study.Config{Schedules: schedules, Bus: bus, Logger: log})
	authz := auth.New(client, store, log)

	orch := syncer.New(store, q, conn, syncer.Config{
		Interval: cfg.Sync.Interval,
		Prune:    cfg.Sync.Prune,
		Auth:     authz,
		Probe:    authz.Probe,
		Bus:      bus,
		Logger:   log,
	})
	for _, c := range []syncer.Collection{ep.SRS, ep.Themes, ep.Subjects, ep.Questions, ep.Answers} {
		orch.Register(c, weights[c.Collection()])
	}

	return &App{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Client:    client,
		Bus:       bus,
		Conn:      conn,
		Queue:     q,
		Endpoints: ep,
		Study:     svc,
		Auth:      authz,
		Sync:      orch,
	}, nil
}

// Close releases the local store.
func (a *App) Close() error {
	return a.Store.Close()
}

// RunDaemon runs the sync loop, the live link and the dashboard until ctx
// is canceled or one of them fails.
func (a *App) RunDaemon(ctx context.Context) error {
	var server *dashboard.Server
	var handler *dashboard.Handler
	if a.Config.Dashboard.Port > 0 {
		server = dashboard.NewServer(&dashboard.Config{Port: a.Config.Dashboard.Port, Logger: a.Log})
		handler = dashboard.NewHandler(server, a.Bus, a.Queue.Len, a.Log)
		if err := server.Start(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if server != nil {
		g.Go(func() error {
			return handler.Run(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			return server.Stop()
		})
	}

	g.Go(func() error {
		return a.Sync.Start(ctx)
	})

	if a.Config.Live.Enabled {
		live := remote.NewLive(a.Client, a.Sync)
		g.Go(func() error {
			if err := live.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("live link: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
