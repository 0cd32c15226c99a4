package scp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"scauthcore/xcrypto"
)

var errBadMAC = errors.New("fake card: command MAC verification failed")

// fakeSCP03Card is a transport standing in for the card side of an SCP03
// handshake and session. It derives the same session keys as the client
// from the same static keys and challenges, then uses this package's own
// wrap/unwrap primitives (symmetric by construction) to decrypt incoming
// commands and encrypt responses — exercising the real client code against
// a real peer implementation of the protocol, not a canned byte fixture.
type fakeSCP03Card struct {
	static        StaticKeys
	cardChallenge []byte

	keys       SessionKeys
	macChain   []byte
	encCounter uint32

	// getDataPlaintext is returned (post-decryption-equivalent) as the
	// plaintext body for a GET_DATA(0x66, 0x01) command.
	getDataPlaintext []byte
}

func (c *fakeSCP03Card) Transmit(raw []byte) ([]byte, error) {
	cla, ins, p1, p2 := raw[0], raw[1], raw[2], raw[3]
	_ = p1

	if ins == insInitializeUpdate {
		hostChallenge := raw[5:13]
		keys, cardCryptogram, _, err := deriveSCP03SessionKeys(c.static, hostChallenge, c.cardChallenge)
		if err != nil {
			return nil, err
		}
		c.keys = keys
		c.macChain = make([]byte, 16)
		c.encCounter = 1

		body := make([]byte, 0, 29)
		body = append(body, make([]byte, 10)...) // diversification data
		body = append(body, 0x01, 0x02, 0x03)     // key_info
		body = append(body, c.cardChallenge...)   // card_challenge
		body = append(body, cardCryptogram...)    // card_cryptogram
		return append(body, 0x90, 0x00), nil
	}

	// Everything else arrives secure-messaging wrapped: CLA has bit 0x04
	// set, Lc covers ciphertext+MAC, and (for EXTERNAL_AUTHENTICATE) the
	// data is the host cryptogram, encrypted and MACed like any other
	// wrapped command.
	lc := int(raw[4])
	data := raw[5 : 5+lc]

	plain, err := c.unwrapIncomingCommand(cla, ins, raw[2], p2, data)
	if err != nil {
		return nil, err
	}

	if ins == insExternalAuthenticate {
		return []byte{0x90, 0x00}, nil
	}

	// GET_DATA: ignore the (empty) plaintext request body, return the
	// fixed plaintext wrapped as a secure-messaging response.
	_ = plain
	return c.wrapOutgoingResponse(c.getDataPlaintext, []byte{0x90, 0x00})
}

// unwrapIncomingCommand mirrors Session.wrapCommand from the card's side:
// verify the chained CMAC, decrypt if ciphertext is present, advance
// mac_chain/enc_counter identically to the client.
func (c *fakeSCP03Card) unwrapIncomingCommand(cla, ins, p1, p2 byte, cipherAndMAC []byte) ([]byte, error) {
	cipher := cipherAndMAC[:len(cipherAndMAC)-8]
	mac := cipherAndMAC[len(cipherAndMAC)-8:]

	header := []byte{cla, ins, p1, p2, byte(len(cipherAndMAC))}
	macInput := append(append([]byte{}, c.macChain...), header...)
	macInput = append(macInput, cipher...)
	fullMAC, err := xcrypto.AESCMAC(c.keys.SMAC, macInput)
	if err != nil {
		return nil, err
	}
	if string(fullMAC[:8]) != string(mac) {
		return nil, errBadMAC
	}
	c.macChain = fullMAC

	if len(cipher) == 0 {
		return nil, nil
	}
	iv, err := xcrypto.AESECBEncryptBlock(c.keys.SENC, counterBlockForEncrypt(c.encCounter))
	if err != nil {
		return nil, err
	}
	plainPadded, err := xcrypto.AESCBC(c.keys.SENC, iv, cipher, xcrypto.Decrypt)
	if err != nil {
		return nil, err
	}
	c.encCounter++
	plain, err := unpad80(plainPadded)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// wrapOutgoingResponse mirrors Session.unwrapResponse from the card's
// side: encrypt plaintext with the same response-direction IV the client
// will reconstruct, then append the R-MAC.
func (c *fakeSCP03Card) wrapOutgoingResponse(plaintext, sw []byte) ([]byte, error) {
	iv, err := xcrypto.AESECBEncryptBlock(c.keys.SENC, counterBlockForDecrypt(c.encCounter-1))
	if err != nil {
		return nil, err
	}
	cipher, err := xcrypto.AESCBC(c.keys.SENC, iv, pad80(plaintext), xcrypto.Encrypt)
	if err != nil {
		return nil, err
	}
	macInput := append(append([]byte{}, c.macChain...), cipher...)
	macInput = append(macInput, sw...)
	rmac, err := xcrypto.AESCMAC(c.keys.SRMAC, macInput)
	if err != nil {
		return nil, err
	}
	return append(append(cipher, rmac[:8]...), sw...), nil
}

func TestE2ESCP03SessionReachesAuthenticatedAndDecryptsGetData(t *testing.T) {
	static := StaticKeys{ENC: make([]byte, 16), MAC: make([]byte, 16)}
	card := &fakeSCP03Card{
		static:           static,
		cardChallenge:    make([]byte, 8),
		getDataPlaintext: []byte("Hello"),
	}

	params, err := NewSCP03Params(KeyRef{KID: 0x01, KVN: 0x00}, static)
	require.NoError(t, err)

	session, err := NewSCP03Session(card, params, make([]byte, 8))
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, session.State())

	plain, sw, err := session.Send(0x80, 0xCA, 0x66, 0x01, nil)
	require.NoError(t, err)
	require.Equal(t, uint16(0x9000), sw)
	require.Equal(t, []byte("Hello"), plain)
}

func TestE2ESCP03SessionWrongStaticKeysFailHandshake(t *testing.T) {
	cardStatic := StaticKeys{ENC: make([]byte, 16), MAC: make([]byte, 16)}
	card := &fakeSCP03Card{static: cardStatic, cardChallenge: make([]byte, 8)}

	clientStatic := StaticKeys{ENC: bytesOf(16, 0xFF), MAC: bytesOf(16, 0xFF)}
	params, err := NewSCP03Params(KeyRef{KID: 0x01, KVN: 0x00}, clientStatic)
	require.NoError(t, err)

	_, err = NewSCP03Session(card, params, make([]byte, 8))
	require.ErrorIs(t, err, ErrWrongKeySet)
}

func bytesOf(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}
