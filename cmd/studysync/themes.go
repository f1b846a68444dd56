package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/srs"
	"github.com/studyportal/studysync/internal/study"
	"github.com/studyportal/studysync/internal/ui"
)

var themesCmd = &cobra.Command{
	Use:     "themes",
	GroupID: "study",
	Short:   "List, add and remove study themes",
}

var themesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached themes",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		themes, err := a.Study.Themes(ctx)
		if err != nil {
			fatalf("failed to load themes: %v", err)
		}
		if len(themes) == 0 {
			fmt.Printf("No themes cached. Run 'studysync sync' first.\n")
			return
		}

		now := srs.Hour(time.Now())
		rows := make([][]string, 0, len(themes))
		for _, t := range themes {
			active, lessons, due := ui.RenderMuted("-"), "", ""
			if t.Active() {
				active = ui.RenderPass("yes")
				lessons = fmt.Sprint(len(t.Lessons))
				due = fmt.Sprint(len(srs.Due(t, now)))
			}
			rows = append(rows, []string{fmt.Sprint(t.ID), t.Title, active, lessons, due})
		}
		fmt.Print(ui.Table([]string{"ID", "TITLE", "ACTIVE", "LESSONS", "DUE"}, rows))
	},
}

var themesAddCmd = &cobra.Command{
	Use:   "add THEME_ID",
	Short: "Start studying a theme",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		theme, m, err := a.Study.AddTheme(ctx, id)
		if err != nil {
			rollback(ctx, m)
			fatalf("failed to add theme %d: %v", id, err)
		}
		fmt.Printf("%s Added %s: %d lesson(s), %d review hour(s)\n",
			ui.RenderPass("✓"), theme.Title, len(theme.Lessons), len(theme.Reviews))
	},
}

var themesRemoveCmd = &cobra.Command{
	Use:   "remove THEME_ID",
	Short: "Stop studying a theme and delete its answer history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		m, err := a.Study.RemoveTheme(ctx, id)
		if err != nil {
			rollback(ctx, m)
			fatalf("failed to remove theme %d: %v", id, err)
		}
		fmt.Printf("%s Removed theme %d\n", ui.RenderPass("✓"), id)
	},
}

// rollback restores local records after a rejected change.
func rollback(ctx context.Context, m *study.Mutation) {
	if m == nil || m.State() != study.Failed {
		return
	}
	if err := m.Rollback(ctx); err != nil {
		log.Warn("rollback failed", "error", err)
		return
	}
	fmt.Printf("%s Local changes rolled back\n", ui.RenderWarn("↺"))
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		fatalf("invalid id %q", s)
	}
	return id
}

func init() {
	themesCmd.AddCommand(themesListCmd)
	themesCmd.AddCommand(themesAddCmd)
	themesCmd.AddCommand(themesRemoveCmd)
	rootCmd.AddCommand(themesCmd)
}
