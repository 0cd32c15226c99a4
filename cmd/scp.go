package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"scauthcore/output"
	"scauthcore/scp"
	"scauthcore/transport"
)

var (
	scp03KID byte
	scp03KVN byte
	scp03ENC string
	scp03MAC string
	scp03DEK string
)

var scp03Cmd = &cobra.Command{
	Use:   "scp03",
	Short: "Open a GlobalPlatform SCP03 session against a reader's card",
	RunE: func(cmd *cobra.Command, args []string) error {
		if readerIndex < 0 {
			return fmt.Errorf("a reader index is required, see 'scauthcore readers'")
		}
		enc, err := hex.DecodeString(scp03ENC)
		if err != nil {
			return fmt.Errorf("decoding --enc: %w", err)
		}
		mac, err := hex.DecodeString(scp03MAC)
		if err != nil {
			return fmt.Errorf("decoding --mac: %w", err)
		}
		var dek []byte
		if scp03DEK != "" {
			dek, err = hex.DecodeString(scp03DEK)
			if err != nil {
				return fmt.Errorf("decoding --dek: %w", err)
			}
		}

		params, err := scp.NewSCP03Params(
			scp.KeyRef{KID: scp03KID, KVN: scp03KVN},
			scp.StaticKeys{ENC: enc, MAC: mac, DEK: dek},
		)
		if err != nil {
			return fmt.Errorf("building SCP03 key params: %w", err)
		}

		pcsc, err := transport.ConnectPCSC(readerIndex)
		if err != nil {
			return fmt.Errorf("connecting to reader: %w", err)
		}
		defer pcsc.Close()
		output.PrintReaderInfo(pcsc.Name(), pcsc.ATR())

		hostChallenge := make([]byte, 8)
		if _, err := rand.Read(hostChallenge); err != nil {
			return fmt.Errorf("generating host challenge: %w", err)
		}

		session, err := scp.NewSCP03Session(pcsc, params, hostChallenge)
		if err != nil {
			return fmt.Errorf("SCP03 handshake: %w", err)
		}
		defer session.Close()

		output.PrintSCPSession("SCP03", session)
		return nil
	},
}

func init() {
	scp03Cmd.Flags().Uint8Var(&scp03KID, "kid", 0x01, "static key identifier")
	scp03Cmd.Flags().Uint8Var(&scp03KVN, "kvn", 0x30, "static key version number")
	scp03Cmd.Flags().StringVar(&scp03ENC, "enc", "", "16-byte ENC key, hex-encoded")
	scp03Cmd.Flags().StringVar(&scp03MAC, "mac", "", "16-byte MAC key, hex-encoded")
	scp03Cmd.Flags().StringVar(&scp03DEK, "dek", "", "16-byte DEK key, hex-encoded (optional)")
	scp03Cmd.MarkFlagRequired("enc")
	scp03Cmd.MarkFlagRequired("mac")
	rootCmd.AddCommand(scp03Cmd)
}
