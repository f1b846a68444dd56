package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/app"
	"github.com/studyportal/studysync/internal/events"
	syncer "github.com/studyportal/studysync/internal/sync"
	"github.com/studyportal/studysync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync",
	Long: `Run a single sync:
  1. Replay changes queued while offline
  2. Fetch records updated since the last checkpoint of every collection
  3. Drop local records deleted on the server (unless sync.prune is off)

When the API is unreachable the local cache stays as it is.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := openApp(ctx)
		defer a.Close()

		quiet, _ := cmd.Flags().GetBool("quiet")
		if !quiet {
			stop := showProgress(a)
			defer stop()
		}

		start := time.Now()
		err := a.Sync.Run(ctx)
		switch {
		case errors.Is(err, syncer.ErrOffline):
			fatalf("API unreachable and nothing cached yet")
		case err != nil:
			fatalf("sync failed: %v", err)
		}

		if a.Sync.Status() != syncer.StatusSynched {
			fmt.Printf("%s API unreachable, using local cache\n", ui.RenderWarn("⚠"))
			return
		}
		pending, _ := a.Queue.Len(ctx)
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		if pending > 0 {
			fmt.Printf("   Still queued: %d\n", pending)
		}
	},
}

// showProgress prints sync progress and notices until the returned
// function is called.
func showProgress(a *app.App) func() {
	ch, unsubscribe := a.Bus.Subscribe(64)
	done := make(chan struct{})
	tty := ui.IsTerminal()
	go func() {
		defer close(done)
		for ev := range ch {
			switch data := ev.Data.(type) {
			case events.Progress:
				if tty {
					fmt.Printf("\r%s %3.0f%% %-10s", ui.ProgressBar(data.Fraction, 30), data.Fraction*100, data.Phase)
				}
			case events.Notice:
				if tty {
					fmt.Print("\r\033[K")
				}
				mark := ui.RenderAccent("•")
				if data.Level == events.LevelError {
					mark = ui.RenderFail("✗")
				}
				fmt.Printf("%s %s\n", mark, data.Message)
			}
		}
		if tty {
			fmt.Print("\r\033[K")
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

func init() {
	syncCmd.Flags().BoolP("quiet", "q", false, "Do not show progress")
	rootCmd.AddCommand(syncCmd)
}
