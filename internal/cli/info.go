package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/chatvault/chatvault/internal/store"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Show an archive's schema generation and record counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var infoJSON bool

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")
}

type archiveInfo struct {
	Path       string `json:"path"`
	Generation int    `json:"generation"`
	Contacts   int64  `json:"contacts"`
	Chats      int64  `json:"chats"`
	Messages   int64  `json:"messages"`
	Transfers  int64  `json:"transfers"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	db, err := store.OpenReadOnly(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	info := archiveInfo{Path: db.Path(), Generation: db.Generation()}
	for _, c := range []struct {
		dst   *int64
		count func() (int64, error)
	}{
		{&info.Contacts, db.ContactCount},
		{&info.Chats, db.ChatCount},
		{&info.Messages, db.MessageCount},
		{&info.Transfers, db.TransferCount},
	} {
		if *c.dst, err = c.count(); err != nil {
			return err
		}
	}

	if infoJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Printf("archive:    %s\n", info.Path)
	fmt.Printf("generation: %d\n", info.Generation)
	fmt.Printf("contacts:   %d\n", info.Contacts)
	fmt.Printf("chats:      %d\n", info.Chats)
	fmt.Printf("messages:   %d\n", info.Messages)
	fmt.Printf("transfers:  %d\n", info.Transfers)
	return nil
}
