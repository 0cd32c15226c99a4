// Package output prints human-readable tables for the diag CLI: reader
// connectivity, SCP session status and CTAP2 GetInfo responses. It carries
// no protocol logic of its own.
package output

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"scauthcore/ctap2"
	"scauthcore/scp"
)

var (
	colorHeader  = text.Colors{text.FgCyan, text.Bold}
	colorLabel   = text.Colors{text.FgYellow}
	colorValue   = text.Colors{text.FgWhite}
	colorSuccess = text.Colors{text.FgGreen}
	colorError   = text.Colors{text.FgRed}
	colorWarn    = text.Colors{text.FgYellow}
)

func getTableStyle() table.Style {
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Color.Row = text.Colors{text.FgWhite}
	style.Color.RowAlternate = text.Colors{text.FgHiWhite}
	style.Options.SeparateRows = false
	return style
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(getTableStyle())
	t.Style().Options.SeparateRows = false
	return t
}

// PrintReaderList prints the PC/SC readers a diag run can connect to.
func PrintReaderList(readers []string) {
	fmt.Println()
	t := newTable()
	t.SetTitle("AVAILABLE SMART CARD READERS")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 8},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	if len(readers) == 0 {
		t.AppendRow(table.Row{"Status", colorWarn.Sprint("No readers found")})
	} else {
		for i, r := range readers {
			t.AppendRow(table.Row{fmt.Sprintf("[%d]", i), r})
		}
	}
	t.Render()
}

// PrintReaderInfo prints the reader name and ATR a connection bound to.
func PrintReaderInfo(readerName string, atr []byte) {
	fmt.Println()
	t := newTable()
	t.SetTitle("READER & CARD INFO")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 15},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	t.AppendRow(table.Row{"Reader", readerName})
	t.AppendRow(table.Row{"ATR", fmt.Sprintf("%X", atr)})
	t.Render()
}

func scpStateLabel(s scp.State) string {
	switch s {
	case scp.StateHandshakeInFlight:
		return colorWarn.Sprint("handshake in flight")
	case scp.StateAuthenticated:
		return colorSuccess.Sprint("authenticated")
	case scp.StateClosed:
		return colorError.Sprint("closed")
	default:
		return "unknown"
	}
}

// PrintSCPSession prints a completed or in-progress SCP handshake's status.
func PrintSCPSession(variant string, session *scp.Session) {
	fmt.Println()
	t := newTable()
	t.SetTitle("SECURE CHANNEL SESSION")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 15},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	t.AppendRow(table.Row{"Variant", variant})
	t.AppendRow(table.Row{"State", scpStateLabel(session.State())})
	t.Render()
}

// PrintCTAP2Info prints an authenticatorGetInfo response.
func PrintCTAP2Info(info *ctap2.Info) {
	fmt.Println()
	t := newTable()
	t.SetTitle("AUTHENTICATOR INFO")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 20},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	t.AppendRow(table.Row{"Versions", fmt.Sprintf("%v", info.Versions)})
	t.AppendRow(table.Row{"Extensions", fmt.Sprintf("%v", info.Extensions)})
	t.AppendRow(table.Row{"AAGUID", fmt.Sprintf("%X", info.AAGUID)})
	t.AppendRow(table.Row{"Transports", fmt.Sprintf("%v", info.Transports)})
	t.AppendRow(table.Row{"PIN/UV protocols", fmt.Sprintf("%v", info.PinUvAuthProtocols)})
	t.AppendRow(table.Row{"Max msg size", info.MaxMsgSize})
	t.AppendRow(table.Row{"Max cred ID length", info.MaxCredentialIDLength})
	t.AppendRow(table.Row{"Max creds in list", info.MaxCredentialCountInList})
	t.AppendRow(table.Row{"Min PIN length", info.MinPinLength})
	t.AppendRow(table.Row{"Force PIN change", info.ForcePinChange})
	t.Render()

	if len(info.Options) > 0 {
		fmt.Println()
		ot := newTable()
		ot.SetTitle("OPTIONS")
		ot.AppendHeader(table.Row{"Option", "Supported"})

		var keys []string
		for k := range info.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ot.AppendRow(table.Row{k, info.Options[k]})
		}
		ot.Render()
	}
}

// PrintError prints a failure message.
func PrintError(msg string) {
	fmt.Println(colorError.Sprintf("✗ Error: %s", msg))
}

// PrintSuccess prints a completion message.
func PrintSuccess(msg string) {
	fmt.Println(colorSuccess.Sprintf("✓ %s", msg))
}

// PrintWarning prints a caution message.
func PrintWarning(msg string) {
	fmt.Println(colorWarn.Sprintf("⚠ %s", msg))
}
