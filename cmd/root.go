// Package cmd implements scauthcore's diag CLI, a manual exerciser for
// the SCP and CTAP2 session packages. It is not part of the library's
// core contract.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	readerIndex int
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "scauthcore",
	Short: "Diagnostic CLI for GlobalPlatform SCP and CTAP2 sessions",
	Long: `scauthcore diag v` + version + `

Opens a GlobalPlatform Secure Channel (SCP03) session over PC/SC, or
dumps a CTAP2 authenticatorGetInfo response from a recorded packet
replay, for manual exercising of the library.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&readerIndex, "reader", "r", -1,
		"PC/SC reader index (see 'scauthcore readers')")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"reserved for machine-readable output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
