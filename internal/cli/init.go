package cli

import (
	"fmt"

	"github.com/chatvault/chatvault/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Create a new empty archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	db, err := store.Create(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	fmt.Printf("created archive %s (schema generation %d)\n", db.Path(), db.Generation())
	return nil
}
