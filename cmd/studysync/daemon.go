package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/config"
	"github.com/studyportal/studysync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the local cache in sync (foreground)",
	Long: `Run the sync loop in the foreground until interrupted.

The daemon:
  1. Syncs on start, every sync.interval and on reconnection
  2. Listens on the API live link and syncs when records change remotely
  3. Serves a WebSocket dashboard with sync status on dashboard.port

Editing the config file while the daemon runs updates the log level.`,
	Run: func(cmd *cobra.Command, args []string) {
		if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
			cfg.Dashboard.Port = port
		}
		if noLive, _ := cmd.Flags().GetBool("no-live"); noLive {
			cfg.Live.Enabled = false
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := openApp(ctx)
		defer a.Close()

		config.Watch(v, func(c *config.Config) {
			log.SetLevel(c.Log.Level)
			log.Info("config reloaded", "log_level", c.Log.Level)
		}, func(err error) {
			log.Warn("ignoring config change", "error", err)
		})

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   API: %s\n", cfg.API.URL)
		fmt.Printf("   Cache: %s\n", cfg.DB.Path)
		fmt.Printf("   Interval: %v\n", cfg.Sync.Interval)
		if cfg.Dashboard.Port > 0 {
			fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", cfg.Dashboard.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := a.RunDaemon(ctx); err != nil {
			fatalf("daemon stopped: %v", err)
		}
		fmt.Println("Daemon stopped")
	},
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "Dashboard port, 0 disables it (default: dashboard.port)")
	daemonCmd.Flags().Bool("no-live", false, "Do not connect to the API live link")
	rootCmd.AddCommand(daemonCmd)
}
