// Package sync drives the offline queue and the collection caches.
//
// # Overview
//
// The Orchestrator is a small state machine:
//
//	IDLE ──► ACTIONS ──► CACHE ──► SYNCHED
//	  │         │          │
//	  └─────────┴──────────┴──► ERRORED ──► ACTIONS (next run)
//
// A run first replays the offline action queue (ACTIONS), then pulls the
// changes of every registered collection since its last-sync marker
// (CACHE), and finally marks the local cache complete (SYNCHED).
//
// # Offline
//
// When the API is unreachable a run ends immediately: SYNCHED if a full
// cache was completed before, so views keep working from local data, and
// ERRORED otherwise. The Connectivity tracker holds the online flag. Every
// endpoint reports call outcomes to it, and a false → true flip triggers a
// new run.
//
// # Generations
//
// Each run takes the next generation number. Queue drains and collection
// syncs check that their generation is still the newest before every
// record; a superseded run stops quietly so two runs never interleave
// marker checkpoints.
//
// # Usage
//
//	conn := sync.NewConnectivity(bus)
//	orch := sync.New(store, q, conn, sync.Config{Bus: bus, Logger: log})
//	orch.Register(themes, 1)
//	orch.Register(subjects, 4)
//
//	// One run:
//	err := orch.Run(ctx)
//
//	// Or keep running on start, reconnect, the hourly ticker and Trigger():
//	err := orch.Start(ctx)
package sync
