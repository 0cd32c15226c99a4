package pinuv

import (
	"github.com/gravitational/trace"

	"scauthcore/cbor"
	"scauthcore/cose"
	"scauthcore/xcrypto"
)

// clientPin subcommand codes, CTAP2 §6.5.
const (
	subCmdGetKeyAgreement  int64 = 0x02
	subCmdGetPinToken      int64 = 0x05
	subCmdGetPinUvAuthTokenUsingPin int64 = 0x09
	subCmdGetPinRetries    int64 = 0x01
	subCmdSetPin           int64 = 0x03
	subCmdChangePin        int64 = 0x04
)

// clientPin request/response map keys, CTAP2 §6.5.
const (
	keyPinProtocol   int64 = 0x01
	keySubCommand    int64 = 0x02
	keyKeyAgreement  int64 = 0x03
	keyPinAuth       int64 = 0x04
	keyNewPinEnc     int64 = 0x05
	keyPinHashEnc    int64 = 0x06
	keyPermissions   int64 = 0x09
	keyRPID          int64 = 0x0A

	respKeyAgreement int64 = 0x01
	respPinToken     int64 = 0x02
	respRetries      int64 = 0x03
)

// Sender is the subset of ctap2.Session this package needs to drive the
// clientPin command, kept narrow to avoid an import cycle between ctap2
// and pinuv.
type Sender interface {
	ClientPin(params *cbor.Map) (*cbor.Map, error)
}

// Token is an acquired PIN/UV auth token together with the protocol it was
// negotiated under, required for every Authenticate/Encrypt call that uses
// it (spec §4.G, §5 resource policy — tokens do not survive a power cycle).
type Token struct {
	Protocol *Protocol
	Bytes    []byte
}

// GetKeyAgreement fetches the authenticator's current key-agreement COSE
// key (clientPin subcommand 0x02).
func GetKeyAgreement(s Sender, version Version) (*cose.Key, error) {
	resp, err := s.ClientPin(cbor.NewMap(
		keyPinProtocol, int64(version),
		keySubCommand, subCmdGetKeyAgreement,
	))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	v, ok := resp.Get(respKeyAgreement)
	if !ok {
		return nil, trace.BadParameter("pinuv: clientPin response missing keyAgreement")
	}
	m, ok := v.(*cbor.Map)
	if !ok {
		return nil, trace.BadParameter("pinuv: keyAgreement is not a COSE map")
	}
	return cose.DecodeMap(m)
}

// GetPinToken acquires a pinUvAuthToken bound to permissions (and
// optionally rpID), via getPinUvAuthTokenUsingPinWithPermissions (clientPin
// subcommand 0x09) using the supplied PIN, spec §4.G.
// pin must already satisfy ValidatePinLength.
func GetPinToken(s Sender, version Version, pin string, permissions byte, rpID string) (*Token, error) {
	if err := ValidatePinLength(pin); err != nil {
		return nil, trace.Wrap(err)
	}

	peer, err := GetKeyAgreement(s, version)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	proto := New(version)
	enc, err := proto.Encapsulate(peer)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	pinHash := pinHashPrefix(pin)
	pinHashEnc, err := proto.Encrypt(enc.SharedSecret, pinHash)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	params := cbor.NewMap(
		keyPinProtocol, int64(version),
		keySubCommand, subCmdGetPinUvAuthTokenUsingPin,
		keyKeyAgreement, enc.PlatformPublicKey,
		keyPinHashEnc, pinHashEnc,
		keyPermissions, int64(permissions),
	)
	if rpID != "" {
		params.Entries = append(params.Entries, cbor.MapEntry{Key: keyRPID, Val: rpID})
	}

	resp, err := s.ClientPin(params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tokenEnc, ok := resp.Get(respPinToken)
	if !ok {
		return nil, trace.BadParameter("pinuv: clientPin response missing pinUvAuthToken")
	}
	tokenEncBytes, ok := tokenEnc.([]byte)
	if !ok {
		return nil, trace.BadParameter("pinuv: pinUvAuthToken is not a byte string")
	}
	token, err := proto.Decrypt(enc.SharedSecret, tokenEncBytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Token{Protocol: proto, Bytes: token}, nil
}

// GetPinRetries returns the authenticator's remaining PIN retry count
// (clientPin subcommand 0x01).
func GetPinRetries(s Sender, version Version) (int64, error) {
	resp, err := s.ClientPin(cbor.NewMap(
		keyPinProtocol, int64(version),
		keySubCommand, subCmdGetPinRetries,
	))
	if err != nil {
		return 0, trace.Wrap(err)
	}
	v, ok := resp.Get(respRetries)
	if !ok {
		return 0, trace.BadParameter("pinuv: clientPin response missing retries")
	}
	n, ok := cbor.AsInt64(v)
	if !ok {
		return 0, trace.BadParameter("pinuv: retries is not an integer")
	}
	return n, nil
}

// pinHashPrefix is the first 16 bytes of SHA-256(pin), CTAP2's
// pinHashEnc input.
func pinHashPrefix(pin string) []byte {
	return xcrypto.SHA256([]byte(pin))[:16]
}
