package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/endpoint"
	"github.com/studyportal/studysync/internal/schema"
	"github.com/studyportal/studysync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local cache status",
	Long: `Display the state of the local cache:
  - Cache file location and size
  - Records per collection and whether it completed a first sync
  - Number of changes waiting to be replayed
  - Whether the API is reachable (pass --probe to check)`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		fmt.Printf("\n%s Local Cache Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", cfg.DB.Path)
		if info, err := os.Stat(cfg.DB.Path); err == nil {
			fmt.Printf("Size: %s\n", formatSize(info.Size()))
			fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		}

		var rows [][]string
		for _, c := range schema.Collections {
			n, err := a.Store.Count(ctx, c)
			if err != nil {
				fatalf("failed to count %s: %v", c, err)
			}
			cached, _ := a.Store.BoolValue(ctx, endpoint.CachedKey(c))
			mark := ui.RenderWarn("no")
			if cached {
				mark = ui.RenderPass("yes")
			}
			rows = append(rows, []string{c, fmt.Sprint(n), mark})
		}
		fmt.Println()
		fmt.Print(ui.Table([]string{"COLLECTION", "RECORDS", "CACHED"}, rows))

		pending, err := a.Queue.Len(ctx)
		if err != nil {
			fatalf("failed to read queue: %v", err)
		}
		fmt.Printf("\nQueued changes: %d\n", pending)

		if probe, _ := cmd.Flags().GetBool("probe"); probe {
			a.Conn.Observe(a.Auth.Probe(ctx))
			state := ui.RenderPass("online")
			if !a.Conn.Online() {
				state = ui.RenderFail("offline")
			}
			fmt.Printf("API: %s (%s)\n", cfg.API.URL, state)
		}
		if ident, ok, _ := a.Auth.Cached(ctx); ok {
			fmt.Printf("User: %s\n", ident.Name)
		}
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%d bytes", size)
}

func init() {
	statusCmd.Flags().Bool("probe", false, "Check whether the API is reachable")
	rootCmd.AddCommand(statusCmd)
}
