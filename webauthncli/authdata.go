package webauthncli

import (
	"encoding/binary"

	"github.com/gravitational/trace"

	"scauthcore/cbor"
)

// authData flag bits, WebAuthn §6.1.
const (
	flagUP byte = 1 << 0
	flagUV byte = 1 << 2
	flagAT byte = 1 << 6
	flagED byte = 1 << 7
)

// AuthenticatorData is the parsed form of CTAP2's raw authData byte string
// (WebAuthn §6.1): RP ID hash, flags, signature counter, optionally
// attested credential data, optionally a CBOR extensions map.
type AuthenticatorData struct {
	RPIDHash            []byte
	Flags               byte
	SignCount           uint32
	AAGUID              []byte
	CredentialID        []byte
	CredentialPublicKey *cbor.Map
	Extensions          *cbor.Map
	Raw                 []byte
}

func (a *AuthenticatorData) UserPresent() bool  { return a.Flags&flagUP != 0 }
func (a *AuthenticatorData) UserVerified() bool { return a.Flags&flagUV != 0 }

// parseAuthData parses raw authData, consuming attested credential data
// and/or an extensions map according to the AT/ED flag bits.
func parseAuthData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < 37 {
		return nil, trace.BadParameter("webauthncli: authData shorter than 37 bytes")
	}
	a := &AuthenticatorData{
		RPIDHash:  append([]byte{}, raw[:32]...),
		Flags:     raw[32],
		SignCount: binary.BigEndian.Uint32(raw[33:37]),
		Raw:       raw,
	}
	rest := raw[37:]

	if a.Flags&flagAT != 0 {
		if len(rest) < 18 {
			return nil, trace.BadParameter("webauthncli: authData truncated before attested credential data")
		}
		a.AAGUID = append([]byte{}, rest[:16]...)
		credIDLen := binary.BigEndian.Uint16(rest[16:18])
		rest = rest[18:]
		if len(rest) < int(credIDLen) {
			return nil, trace.BadParameter("webauthncli: authData truncated inside credential id")
		}
		a.CredentialID = append([]byte{}, rest[:credIDLen]...)
		rest = rest[credIDLen:]

		value, remainder, err := cbor.Decode(rest)
		if err != nil {
			return nil, trace.Wrap(err, "webauthncli: decoding credentialPublicKey")
		}
		m, ok := value.(*cbor.Map)
		if !ok {
			return nil, trace.BadParameter("webauthncli: credentialPublicKey is not a CBOR map")
		}
		a.CredentialPublicKey = m
		rest = remainder
	}

	if a.Flags&flagED != 0 {
		value, remainder, err := cbor.Decode(rest)
		if err != nil {
			return nil, trace.Wrap(err, "webauthncli: decoding authData extensions")
		}
		m, ok := value.(*cbor.Map)
		if !ok {
			return nil, trace.BadParameter("webauthncli: authData extensions is not a CBOR map")
		}
		a.Extensions = m
		rest = remainder
	}

	if len(rest) != 0 {
		return nil, trace.BadParameter("webauthncli: %d trailing bytes after authData", len(rest))
	}
	return a, nil
}
