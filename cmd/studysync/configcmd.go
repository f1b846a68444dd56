package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/config"
	"github.com/studyportal/studysync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "data",
	Short:   "Create or show the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Run: func(cmd *cobra.Command, args []string) {
		path := configFile
		if path == "" {
			path = filepath.Join(config.Dir(), config.FileName+".toml")
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteDefault(path, force); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved settings",
	Long: `Print the settings after applying defaults, the config file,
STUDYSYNC_* environment variables and flags. The API token is masked.`,
	Run: func(cmd *cobra.Command, args []string) {
		if f := v.ConfigFileUsed(); f != "" {
			fmt.Printf("%s\n\n", ui.RenderMuted("# "+f))
		}
		if err := toml.NewEncoder(os.Stdout).Encode(config.Settings(v)); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
