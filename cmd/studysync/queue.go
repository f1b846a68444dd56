package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect changes queued while offline",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes in replay order",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		tasks, err := a.Queue.Pending(ctx)
		if err != nil {
			fatalf("failed to read queue: %v", err)
		}
		if len(tasks) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return
		}

		rows := make([][]string, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, []string{
				t.Name(),
				fmt.Sprint(t.TargetID),
				t.Created.Local().Format("2006-01-02 15:04:05"),
			})
		}
		fmt.Print(ui.Table([]string{"TASK", "TARGET", "QUEUED"}, rows))
		fmt.Printf("\n%d change(s) will be replayed on the next sync\n", len(tasks))
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued change",
	Long: `Discard every queued change without sending it.

Local records keep the discarded edits until the next full sync of their
collection overwrites them.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		n, err := a.Queue.Len(ctx)
		if err != nil {
			fatalf("failed to read queue: %v", err)
		}
		if n == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return
		}

		if force, _ := cmd.Flags().GetBool("force"); !force {
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Discard %d queued change(s)?", n)).
				Affirmative("Discard").
				Negative("Keep").
				Value(&confirmed).
				Run()
			if err != nil {
				fatalf("%v (use --force outside a terminal)", err)
			}
			if !confirmed {
				return
			}
		}

		if err := a.Queue.Clear(ctx); err != nil {
			fatalf("failed to clear queue: %v", err)
		}
		fmt.Printf("%s Discarded %d change(s)\n", ui.RenderPass("✓"), n)
	},
}

func init() {
	queueClearCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
