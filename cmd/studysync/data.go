package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/export"
	"github.com/studyportal/studysync/internal/schema"
	"github.com/studyportal/studysync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export FILE",
	GroupID: "data",
	Short:   "Write the local cache to a JSONL file",
	Long: `Write every cached record to FILE, one JSON object per line.

The offline queue and sync checkpoints are not exported.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		collections, _ := cmd.Flags().GetStringSlice("collection")
		res, err := export.ExportFile(ctx, a.Store, args[0], export.Options{Collections: collections})
		if err != nil {
			fatalf("export failed: %v", err)
		}
		fmt.Printf("%s Exported %d record(s) to %s\n", ui.RenderPass("✓"), res.Total(), args[0])
		printCounts(res)
	},
}

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "data",
	Short:   "Load records from a JSONL export into the local cache",
	Long: `Load records from a file written by 'studysync export'.

Imported records are local only. The next sync fetches anything the server
changed after their updated timestamps.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := openApp(ctx)
		defer a.Close()

		collections, _ := cmd.Flags().GetStringSlice("collection")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		replace, _ := cmd.Flags().GetBool("replace")

		res, err := export.ImportFile(ctx, a.Store, args[0], export.Options{
			Collections: collections,
			DryRun:      dryRun,
			Replace:     replace,
		})
		if err != nil {
			fatalf("import failed: %v", err)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d record(s) from %s\n", ui.RenderPass("✓"), verb, res.Total(), args[0])
		printCounts(res)
		if res.Skipped > 0 {
			fmt.Printf("%s Skipped %d line(s)\n", ui.RenderWarn("⚠"), res.Skipped)
			for _, e := range res.Errors {
				fmt.Printf("   %s\n", ui.RenderMuted(e))
			}
		}
	},
}

func printCounts(res *export.Result) {
	for _, c := range schema.Collections {
		if n := res.Records[c]; n > 0 {
			fmt.Printf("   %s: %d\n", c, n)
		}
	}
}

func init() {
	exportCmd.Flags().StringSlice("collection", nil, "Only these collections")
	importCmd.Flags().StringSlice("collection", nil, "Only these collections")
	importCmd.Flags().Bool("dry-run", false, "Parse and count without writing")
	importCmd.Flags().Bool("replace", false, "Clear each imported collection first")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
