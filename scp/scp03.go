package scp

import (
	"bytes"

	"github.com/gravitational/trace"

	"scauthcore/xcrypto"
)

// SCP03 KDF derivation constants, GP 2.3 Amendment D §4.1.5 (spec §4.D).
const (
	dcCardCryptogram byte = 0x00
	dcHostCryptogram byte = 0x01
	dcSENC           byte = 0x04
	dcSMAC           byte = 0x06
	dcSRMAC          byte = 0x07
)

// scp03KDF implements the GP Amendment D KDF-in-counter-mode (spec §4.D):
// AES-CMAC(key=KDK, data = 11 zero bytes || t || 0x00 || L(2B bits) || 0x01
// || context), truncated to outLen bytes. A single CMAC block covers every
// output length this core needs (<=16 bytes).
func scp03KDF(kdk []byte, t byte, context []byte, outLenBytes int) ([]byte, error) {
	lBits := outLenBytes * 8
	info := make([]byte, 0, 11+1+1+2+1+len(context))
	info = append(info, bytes.Repeat([]byte{0x00}, 11)...)
	info = append(info, t)
	info = append(info, 0x00)
	info = append(info, byte(lBits>>8), byte(lBits))
	info = append(info, 0x01)
	info = append(info, context...)

	dk, err := xcrypto.AESCMAC(kdk, info)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return dk[:outLenBytes], nil
}

// scp03InitUpdateResponse is the parsed INITIALIZE UPDATE reply, spec
// §4.E step 3: diversification_data(10) || key_info(3) || card_challenge(8)
// || card_cryptogram(8).
type scp03InitUpdateResponse struct {
	DiversificationData []byte
	KeyInfo             []byte
	CardChallenge       []byte
	CardCryptogram      []byte
}

func parseSCP03InitUpdate(data []byte) (*scp03InitUpdateResponse, error) {
	const fixedLen = 10 + 3 + 8 + 8
	if len(data) < fixedLen {
		return nil, trace.BadParameter("scp03: INITIALIZE UPDATE response too short: %d bytes", len(data))
	}
	return &scp03InitUpdateResponse{
		DiversificationData: data[0:10],
		KeyInfo:             data[10:13],
		CardChallenge:       data[13:21],
		CardCryptogram:      data[21:29],
	}, nil
}

// deriveSCP03SessionKeys derives S-ENC/S-MAC/S-RMAC from StaticKeys and
// computes the expected card cryptogram, per spec §4.D/§4.E steps 4-6.
func deriveSCP03SessionKeys(static StaticKeys, hostChallenge, cardChallenge []byte) (keys SessionKeys, expectedCardCryptogram, hostCryptogram []byte, err error) {
	context := append(append([]byte{}, hostChallenge...), cardChallenge...)

	sEnc, err := scp03KDF(static.ENC, dcSENC, context, 16)
	if err != nil {
		return SessionKeys{}, nil, nil, trace.Wrap(err)
	}
	sMac, err := scp03KDF(static.MAC, dcSMAC, context, 16)
	if err != nil {
		return SessionKeys{}, nil, nil, trace.Wrap(err)
	}
	sRmac, err := scp03KDF(static.MAC, dcSRMAC, context, 16)
	if err != nil {
		return SessionKeys{}, nil, nil, trace.Wrap(err)
	}

	expectedCardCryptogram, err = scp03KDF(sMac, dcCardCryptogram, context, 8)
	if err != nil {
		return SessionKeys{}, nil, nil, trace.Wrap(err)
	}
	hostCryptogram, err = scp03KDF(sMac, dcHostCryptogram, context, 8)
	if err != nil {
		return SessionKeys{}, nil, nil, trace.Wrap(err)
	}

	keys = SessionKeys{SENC: sEnc, SMAC: sMac, SRMAC: sRmac}
	if static.DEK != nil {
		// DEK is carried through unchanged: it encrypts key material for
		// PUT KEY directly (spec §4.E DataEncryptor), it is not itself
		// session-derived.
		keys.DEK = append([]byte{}, static.DEK...)
	}
	return keys, expectedCardCryptogram, hostCryptogram, nil
}
