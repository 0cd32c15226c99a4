package scp

import (
	"crypto/ecdh"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/gravitational/trace"

	"scauthcore/tlv"
	"scauthcore/xcrypto"
)

// scp11SharedInfo is the fixed shared_info folded into every SCP11 key
// derivation, GP Amendment F §3.1.2 (spec §4.D): key_usage(1) || key_type(1)
// || key_len(1) = 0x3C 0x88 0x10.
var scp11SharedInfo = []byte{0x3C, 0x88, 0x10}

// scp11KDF derives 96 bytes (three SHA-256 digests) from the ECDH shared
// secret Z, per spec §4.D: digest_i = SHA256(Z || counter_i(4B BE) ||
// shared_info) for counter = 1, 2, 3, concatenated.
func scp11KDF(z []byte) []byte {
	out := make([]byte, 0, 96)
	for counter := uint32(1); counter <= 3; counter++ {
		h := sha256.New()
		h.Write(z)
		h.Write([]byte{byte(counter >> 24), byte(counter >> 16), byte(counter >> 8), byte(counter)})
		h.Write(scp11SharedInfo)
		out = append(out, h.Sum(nil)...)
	}
	return out
}

// scp11SixKeys is the six 16-byte keys sliced from the 96-byte KDF output,
// in the fixed order given by spec §4.D: [receipt_key, S-ENC, S-MAC,
// S-RMAC, S-DEK, reserved].
type scp11SixKeys struct {
	ReceiptKey, SENC, SMAC, SRMAC, SDEK, Reserved []byte
}

func splitSCP11SixKeys(kdfOutput []byte) scp11SixKeys {
	return scp11SixKeys{
		ReceiptKey: kdfOutput[0:16],
		SENC:       kdfOutput[16:32],
		SMAC:       kdfOutput[32:48],
		SRMAC:      kdfOutput[48:64],
		SDEK:       kdfOutput[64:80],
		Reserved:   kdfOutput[80:96],
	}
}

// buildControlReferenceTLV constructs the SCP11 control-reference data
// object, spec §4.E step 2: A6 { 90:{0x11,params}, 95:{0x3C}, 80:{0x88},
// 81:{0x10} }, where params is the key's control byte (0b00/01/11).
func buildControlReferenceTLV(ref KeyRef) ([]byte, error) {
	params, err := scp11ControlParams(ref.KID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	inner := tlv.Encode(0x90, []byte{0x11, params})
	inner = append(inner, tlv.Encode(0x95, []byte{0x3C})...)
	inner = append(inner, tlv.Encode(0x80, []byte{0x88})...)
	inner = append(inner, tlv.Encode(0x81, []byte{0x10})...)
	return tlv.Encode(tlv.TagControlReference, inner), nil
}

// scp11ComputeZ computes the ECDH shared secret input to the KDF, spec
// §4.D: SCP11b uses only the ephemeral-ephemeral share; SCP11a/c append
// the static-static share (OCE's static private key with the SD's static
// public key).
func scp11ComputeZ(params *ScpKeyParams, ephemeralPriv *ecdh.PrivateKey, cardEphemeralPub *ecdh.PublicKey) ([]byte, error) {
	zEphemeral, err := ephemeralPriv.ECDH(cardEphemeralPub)
	if err != nil {
		return nil, trace.Wrap(err, "scp11: ephemeral-ephemeral ECDH failed")
	}
	if params.KeyRef.KID == KID11b {
		return zEphemeral, nil
	}
	zStatic, err := params.SKOCEECKA.ECDH(params.PKSDECKA)
	if err != nil {
		return nil, trace.Wrap(err, "scp11: static-static ECDH failed")
	}
	return append(zEphemeral, zStatic...), nil
}

// scp11Handshake holds the outcome of a verified SCP11 handshake: the four
// session keys (S-DEK present only for SCP11a/c) and the receipt-verified
// mac_chain seed.
type scp11Handshake struct {
	sessionKeys SessionKeys
	macChainSeed []byte
}

// scp11VerifyAndDeriveKeys computes Z, derives the six keys, and verifies
// the card's receipt against keData (the outbound control+ephemeral-point
// TLV blob) and epkSDECKATLV (the card's ephemeral-public-key TLV as
// received, byte for byte), per spec §4.E step 6.
func scp11VerifyAndDeriveKeys(params *ScpKeyParams, ephemeralPriv *ecdh.PrivateKey, cardEphemeralPub *ecdh.PublicKey, keData, epkSDECKATLV, receivedReceipt []byte) (*scp11Handshake, error) {
	z, err := scp11ComputeZ(params, ephemeralPriv, cardEphemeralPub)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer xcrypto.Zero(z)

	six := splitSCP11SixKeys(scp11KDF(z))
	defer xcrypto.Zero(six.ReceiptKey)
	defer xcrypto.Zero(six.Reserved)

	macInput := append(append([]byte{}, keData...), epkSDECKATLV...)
	expectedReceipt, err := xcrypto.AESCMAC(six.ReceiptKey, macInput)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if subtle.ConstantTimeCompare(expectedReceipt, receivedReceipt) != 1 {
		return nil, trace.Wrap(ErrBadReceipt)
	}

	keys := SessionKeys{SENC: six.SENC, SMAC: six.SMAC, SRMAC: six.SRMAC}
	if params.KeyRef.KID != KID11b {
		keys.DEK = six.SDEK
	}
	return &scp11Handshake{sessionKeys: keys, macChainSeed: append([]byte{}, receivedReceipt...)}, nil
}
