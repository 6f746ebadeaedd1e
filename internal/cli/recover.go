package cli

import (
	"fmt"
	"os"

	"github.com/chatvault/chatvault/internal/store"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover <path>",
	Short: "Rebuild a damaged archive from its readable records",
	Long: `Copy everything still readable from a structurally damaged archive
into a fresh archive written next to it. The damaged file is left
untouched; rows and tables that could not be read are reported.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	db, anomalies, err := store.Recover(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	for _, a := range anomalies {
		fmt.Fprintf(os.Stderr, "anomaly [%s]: %s\n", a.Kind, a.Context)
	}
	fmt.Printf("recovered archive written to %s (%d rows or tables lost)\n", db.Path(), len(anomalies))
	return nil
}
