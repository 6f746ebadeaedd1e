package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/chatvault/chatvault/internal/app"
	"github.com/chatvault/chatvault/internal/bus"
	"github.com/chatvault/chatvault/internal/engine"
	"github.com/chatvault/chatvault/internal/merge"
	"github.com/chatvault/chatvault/internal/report"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <source> <target>",
	Short: "Copy missing records from source into target",
	Long: `Merge everything present in the source archive but missing from the
target into the target. The source is never modified and the target
only ever gains records.

Progress commits at chat boundaries, so an interrupted merge (Ctrl-C,
crash, power loss) can simply be re-run: records already applied are
detected and skipped.

Examples:
  chatvault merge laptop.db desktop.db
  chatvault merge laptop.db desktop.db --dry-run
  chatvault merge laptop.db desktop.db --chat 'group|alice,bob'
`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

var (
	mergeJSON   bool
	mergeDryRun bool
	mergeChats  []string
)

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().BoolVar(&mergeJSON, "json", false, "Output as JSON")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Report what would be merged without writing")
	mergeCmd.Flags().StringArrayVar(&mergeChats, "chat", nil, "Restrict to the given chat identity key (repeatable)")
}

func runMerge(cmd *cobra.Command, args []string) error {
	return runApp(cmd, func(ctx context.Context, env app.Env) error {
		stop := watchProgress(env.Bus, "merging", bus.KindMergeCheckpoint)
		defer stop()

		rep, err := env.Engine.Merge(ctx, args[0], args[1], engine.MergeOptions{
			ChatKeys: mergeChats,
			DryRun:   mergeDryRun,
		})
		stop()

		var perr *merge.PartialError
		if errors.As(err, &perr) {
			// Part of the merge committed before the failure; show what
			// landed so the user knows re-running is safe.
			printReport(perr.Report)
			return fmt.Errorf("merge incomplete: %w", perr.Err)
		}
		if err != nil {
			return err
		}

		if mergeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		printReport(rep)
		return nil
	})
}

func printReport(rep *report.Report) {
	if rep == nil {
		return
	}
	if rep.DryRun {
		fmt.Println("dry run; nothing was written")
	}
	if rep.Cancelled {
		fmt.Printf("merge interrupted after %d chats; re-run to continue\n", rep.ChatsApplied)
	}
	fmt.Printf("contacts:  %d inserted, %d already present\n", rep.Contacts.Inserted, rep.Contacts.Skipped)
	fmt.Printf("chats:     %d inserted, %d already present\n", rep.Chats.Inserted, rep.Chats.Skipped)
	fmt.Printf("messages:  %d inserted, %d already present\n", rep.Messages.Inserted, rep.Messages.Skipped)
	fmt.Printf("transfers: %d inserted, %d already present\n", rep.Transfers.Inserted, rep.Transfers.Skipped)
	for _, a := range rep.Anomalies {
		fmt.Fprintf(os.Stderr, "anomaly [%s]: %s\n", a.Kind, a.Context)
	}
}
