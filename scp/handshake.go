package scp

import (
	"crypto/ecdh"
	"crypto/subtle"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"scauthcore/apdu"
	"scauthcore/tlv"
)

// GlobalPlatform instruction bytes this package drives directly (spec §4.E,
// §6).
const (
	insInitializeUpdate     byte = 0x50
	insExternalAuthenticate byte = 0x82
	insInternalAuthenticate byte = 0x88
	insPerformSecurityOp    byte = 0x2A

	claGp      byte = 0x80
	claExtAuth byte = 0x84

	extAuthCMACOnly byte = 0x01

	chainFlagMore byte = 0x80
)

// NewSCP03Session drives the SCP03 handshake (INITIALIZE UPDATE + EXTERNAL
// AUTHENTICATE) over t and returns an Authenticated session, spec §4.E.
// hostChallenge must be 8 random bytes.
func NewSCP03Session(t apdu.Transport, params *ScpKeyParams, hostChallenge []byte) (*Session, error) {
	if params.Variant != VariantSCP03 {
		return nil, trace.BadParameter("scp: NewSCP03Session requires SCP03 params")
	}
	if len(hostChallenge) != 8 {
		return nil, trace.BadParameter("scp03: host challenge must be 8 bytes")
	}

	initUpdateCmd := &apdu.Command{
		CLA: claGp, INS: insInitializeUpdate,
		P1: params.KeyRef.KVN, P2: 0x00,
		Data: hostChallenge, Le: 0,
	}
	resp, err := apdu.Send(t, initUpdateCmd)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := resp.Error(); err != nil {
		return nil, trace.Wrap(err, "scp03: INITIALIZE UPDATE failed")
	}

	parsed, err := parseSCP03InitUpdate(resp.Data)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sessionKeys, expectedCardCryptogram, hostCryptogram, err := deriveSCP03SessionKeys(params.StaticKeys, hostChallenge, parsed.CardChallenge)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if subtle.ConstantTimeCompare(expectedCardCryptogram, parsed.CardCryptogram) != 1 {
		sessionKeys.Zero()
		logrus.Debug("scp03: card cryptogram mismatch, handshake rejected")
		return nil, trace.Wrap(ErrWrongKeySet)
	}

	s := &Session{
		transport:  t,
		state:      StateHandshakeInFlight,
		keys:       sessionKeys,
		macChain:   make([]byte, 16), // initial chaining value is all-zero, spec §4.E
		encCounter: 1,
	}

	wrapped, err := s.wrapCommand(claExtAuth, insExternalAuthenticate, extAuthCMACOnly, 0x00, hostCryptogram)
	if err != nil {
		s.close()
		return nil, trace.Wrap(err)
	}
	authResp, err := apdu.Send(t, wrapped)
	if err != nil {
		s.close()
		return nil, trace.Wrap(err)
	}
	if err := authResp.Error(); err != nil {
		s.close()
		return nil, trace.Wrap(err, "scp03: EXTERNAL AUTHENTICATE failed")
	}

	s.state = StateAuthenticated
	return s, nil
}

// sendOCECertificateChain transmits params.Certificates one at a time via
// PERFORM_SECURITY_OPERATION(oce.kvn, oce.kid|chain_flag, cert_der), with
// chain_flag=0x80 set on every certificate but the last, spec §4.E SCP11
// step 1. No-op when no OCE key ref is present (SCP11b).
func sendOCECertificateChain(t apdu.Transport, params *ScpKeyParams) error {
	if params.OCEKeyRef == nil || len(params.Certificates) == 0 {
		return nil
	}
	for i, cert := range params.Certificates {
		p2 := params.OCEKeyRef.KID
		if i < len(params.Certificates)-1 {
			p2 |= chainFlagMore
		}
		cmd := &apdu.Command{
			CLA: claGp, INS: insPerformSecurityOp,
			P1: params.OCEKeyRef.KVN, P2: p2,
			Data: cert.Raw, Le: 0,
		}
		resp, err := apdu.Send(t, cmd)
		if err != nil {
			return trace.Wrap(err)
		}
		if err := resp.Error(); err != nil {
			return trace.Wrap(err, "scp11: certificate chain upload failed at cert %d", i)
		}
	}
	return nil
}

// NewSCP11Session drives the SCP11 handshake over t and returns an
// Authenticated session, spec §4.E. genEphemeral generates the host's
// ephemeral key pair on the curve of the card's static public key
// (typically ecdh.P256().GenerateKey(rand.Reader)).
func NewSCP11Session(t apdu.Transport, params *ScpKeyParams, genEphemeral func(curve ecdh.Curve) (*ecdh.PrivateKey, error)) (*Session, error) {
	if params.Variant != VariantSCP11 {
		return nil, trace.BadParameter("scp: NewSCP11Session requires SCP11 params")
	}

	if err := sendOCECertificateChain(t, params); err != nil {
		return nil, trace.Wrap(err)
	}

	curve := params.PKSDECKA.Curve()
	ephemeralPriv, err := genEphemeral(curve)
	if err != nil {
		return nil, trace.Wrap(err, "scp11: ephemeral key generation failed")
	}
	ephemeralPub := ephemeralPriv.PublicKey()

	controlRefTLV, err := buildControlReferenceTLV(params.KeyRef)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ephemeralPubTLV := tlv.Encode(tlv.TagECCPublicPoint, ephemeralPub.Bytes())
	keData := append(append([]byte{}, controlRefTLV...), ephemeralPubTLV...)

	ins := insExternalAuthenticate
	if params.KeyRef.KID == KID11b {
		ins = insInternalAuthenticate
	}
	cmd := &apdu.Command{CLA: claGp, INS: ins, P1: params.KeyRef.KVN, P2: params.KeyRef.KID, Data: keData, Le: 0}
	resp, err := apdu.Send(t, cmd)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := resp.Error(); err != nil {
		return nil, trace.Wrap(err, "scp11: authenticate command failed")
	}

	records, err := tlv.Decode(resp.Data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cardEphemeralPubBytes, ok := tlv.Find(records, tlv.TagECCPublicPoint)
	if !ok {
		return nil, trace.BadParameter("scp11: response missing card ephemeral public key")
	}
	receipt, ok := tlv.Find(records, tlv.TagReceipt)
	if !ok {
		return nil, trace.BadParameter("scp11: response missing receipt")
	}
	epkSDECKATLV := tlv.Encode(tlv.TagECCPublicPoint, cardEphemeralPubBytes)

	cardEphemeralPub, err := curve.NewPublicKey(cardEphemeralPubBytes)
	if err != nil {
		return nil, trace.Wrap(err, "scp11: invalid card ephemeral public key")
	}

	handshake, err := scp11VerifyAndDeriveKeys(params, ephemeralPriv, cardEphemeralPub, keData, epkSDECKATLV, receipt)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	s := &Session{
		transport:  t,
		state:      StateAuthenticated,
		keys:       handshake.sessionKeys,
		macChain:   handshake.macChainSeed,
		encCounter: 1,
	}
	return s, nil
}
