package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scauthcore/output"
	"scauthcore/transport"
)

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List available PC/SC smart card readers",
	RunE: func(cmd *cobra.Command, args []string) error {
		readers, err := transport.ListPCSCReaders()
		if err != nil {
			return fmt.Errorf("listing readers: %w", err)
		}
		output.PrintReaderList(readers)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(readersCmd)
}
