package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/schema"
	"github.com/studyportal/studysync/internal/srs"
	"github.com/studyportal/studysync/internal/ui"
)

var dueCmd = &cobra.Command{
	Use:     "due [THEME_ID]",
	GroupID: "study",
	Short:   "Show reviews due now or at a given time",
	Long: `Show the subjects due for review in every active theme, or in one theme.

--at accepts natural language relative to now:
  studysync due --at "tomorrow 9am"
  studysync due 3 --at "in 6 hours"`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		at := time.Now()
		if expr, _ := cmd.Flags().GetString("at"); expr != "" {
			t, err := parseWhen(expr, at)
			if err != nil {
				fatalf("%v", err)
			}
			at = t
		}

		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		themes, err := a.Study.Themes(ctx)
		if err != nil {
			fatalf("failed to load themes: %v", err)
		}
		if len(args) == 1 {
			id := parseID(args[0])
			themes = slices.DeleteFunc(themes, func(t *schema.Theme) bool { return t.ID != id })
			if len(themes) == 0 {
				fatalf("theme %d is not cached", id)
			}
		}

		fmt.Printf("Due at %s\n\n", ui.RenderAccent(at.Format("Mon 2006-01-02 15:04")))
		total := 0
		for _, theme := range themes {
			if !theme.Active() {
				continue
			}
			subjects, err := a.Study.DueReviews(ctx, theme.ID, at)
			if err != nil {
				fatalf("failed to load reviews for theme %d: %v", theme.ID, err)
			}
			total += len(subjects)

			fmt.Printf("%s %s: %d review(s), %d lesson(s)\n",
				ui.RenderAccent("▸"), theme.Title, len(subjects), len(theme.Lessons))
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && len(subjects) > 0 {
				titles := make([]string, len(subjects))
				for i, s := range subjects {
					titles[i] = s.Title
				}
				fmt.Printf("    %s\n", ui.RenderMuted(strings.Join(titles, ", ")))
			}
			if n := upcomingCount(theme, srs.Hour(at), 24); n > 0 {
				fmt.Printf("    next 24h: %d\n", n)
			}
			if next := nextReview(theme, srs.Hour(at)); next != nil {
				fmt.Printf("    next: %s\n", ui.RenderMuted(srs.HourTime(*next).Local().Format("Mon 15:04")))
			}
		}
		if total == 0 {
			fmt.Printf("\n%s Nothing due\n", ui.RenderPass("✓"))
		}
	},
}

// parseWhen resolves a natural-language time relative to base.
func parseWhen(expr string, base time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(expr, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --at %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --at %q", expr)
	}
	return r.Time, nil
}

// upcomingCount returns the number of reviews due within hours after hour.
func upcomingCount(theme *schema.Theme, hour, hours int64) int {
	n := 0
	for _, c := range srs.Upcoming(theme, hour, hours) {
		n += c
	}
	return n
}

// nextReview returns the first review hour after hour, if any.
func nextReview(theme *schema.Theme, hour int64) *int64 {
	for _, h := range theme.ReviewHours() {
		if h > hour {
			return &h
		}
	}
	return nil
}

func init() {
	dueCmd.Flags().String("at", "", `Point in time, e.g. "tomorrow 9am"`)
	dueCmd.Flags().BoolP("verbose", "v", false, "List due subjects")
	rootCmd.AddCommand(dueCmd)
}
