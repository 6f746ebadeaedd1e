// Package cli implements the chatvault command line interface.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatvault/chatvault/internal/app"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatvault",
	Short: "Compare and merge chat-history archives",
	Long: `chatvault compares and merges chat-history archives stored as SQLite
files. Records are matched by content identity (handles, participants,
timestamps, message bodies), never by database ids, so archives that
grew apart on different machines can be reconciled without duplicates.

Merging is strictly additive: the target archive only ever gains
records, and interrupting a merge is always safe to retry.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.chatvault/config.toml)")
	rootCmd.PersistentFlags().Bool("quiet", false, "Suppress log output")
}

// runApp composes the application and runs fn against it, cancelling on
// SIGINT or SIGTERM. Operations observe cancellation at chat boundaries
// and report what completed.
func runApp(cmd *cobra.Command, fn func(context.Context, app.Env) error) error {
	quiet, _ := cmd.Flags().GetBool("quiet")
	params := app.Params{
		ConfigPath: cmd.Flag("config").Value.String(),
		Quiet:      quiet,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, params, fn)
}
