// Command studysync keeps a local study cache in sync with the study API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/studyportal/studysync/internal/app"
	"github.com/studyportal/studysync/internal/config"
	"github.com/studyportal/studysync/internal/logging"
)

var (
	configFile string

	v   *viper.Viper
	cfg *config.Config
	log *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "studysync",
	Short: "Offline-first sync for the study API",
	Long: `studysync mirrors the study API into a local SQLite cache, queues
changes made while offline and replays them when the API is reachable.

Settings come from studysync.toml in the config directory, STUDYSYNC_*
environment variables and the flags below.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New(configFile)
		for key, name := range map[string]string{
			"api.url":   "api-url",
			"db.path":   "db",
			"log.level": "log-level",
		} {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return err
			}
		}

		var err error
		if cfg, err = config.Load(v); err != nil {
			return err
		}
		log = logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "study", Title: "Study:"},
		&cobra.Group{ID: "data", Title: "Data:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: studysync.toml in the config directory)")
	rootCmd.PersistentFlags().String("api-url", "", "Study API base URL")
	rootCmd.PersistentFlags().String("db", "", "Local cache database path")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

// openApp builds the application or exits.
func openApp(ctx context.Context) *app.App {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fatalf("failed to open local cache: %v", err)
	}
	return a
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if log != nil {
		log.Sync()
	}
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
