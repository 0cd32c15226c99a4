// Package transport names the two external transport contracts this core
// depends on (spec §6): an ISO 7816-4 APDU exchanger for SCP sessions, and
// a CTAPHID-framed device for CTAP2 sessions. It re-exports the interface
// shapes so callers can depend on `transport` instead of reaching into
// `apdu`/`ctaphid` directly, and carries two concrete implementations: a
// PC/SC reader (pcsc.go) and a recorded-packet replay device (replay.go).
// USB HID devices and NFC bridges are not implemented in this module.
package transport

import (
	"scauthcore/apdu"
	"scauthcore/ctaphid"
)

// APDUTransport exchanges raw ISO 7816-4 command/response APDUs with a
// smart card, independent of the reader technology behind it.
type APDUTransport = apdu.Transport

// CTAPDevice exchanges CTAPHID-framed packets with a FIDO authenticator,
// independent of the physical transport (USB, NFC, BLE) behind it.
type CTAPDevice = ctaphid.Device
