package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scauthcore/ctap2"
	"scauthcore/output"
	"scauthcore/transport"
)

var ctap2ReplayPath string

var ctap2InfoCmd = &cobra.Command{
	Use:   "ctap2-info",
	Short: "Dump an authenticatorGetInfo response",
	Long: `Dump an authenticatorGetInfo response read from a recorded CTAPHID
packet stream (--replay), since this core never implements a real USB HID
or NFC device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ctap2ReplayPath == "" {
			return fmt.Errorf("--replay <path> is required (no real HID/NFC transport is implemented)")
		}
		f, err := os.Open(ctap2ReplayPath)
		if err != nil {
			return fmt.Errorf("opening replay file: %w", err)
		}
		defer f.Close()

		dev, err := transport.NewReplayDevice(f)
		if err != nil {
			return fmt.Errorf("loading replay packets: %w", err)
		}

		session := ctap2.NewSession(dev, 0xFFFFFFFF)
		info, err := session.GetInfo(true)
		if err != nil {
			return fmt.Errorf("authenticatorGetInfo: %w", err)
		}

		output.PrintCTAP2Info(info)
		return nil
	},
}

func init() {
	ctap2InfoCmd.Flags().StringVar(&ctap2ReplayPath, "replay", "",
		"path to a recorded CTAPHID packet stream")
	rootCmd.AddCommand(ctap2InfoCmd)
}
