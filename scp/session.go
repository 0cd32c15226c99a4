package scp

import (
	"crypto/subtle"

	"github.com/gravitational/trace"

	"scauthcore/apdu"
	"scauthcore/xcrypto"
)

// State is the session lifecycle, spec §4.E: no transitions other than
// Unauthenticated -> HandshakeInFlight -> Authenticated -> Closed.
type State int

const (
	StateUnauthenticated State = iota
	StateHandshakeInFlight
	StateAuthenticated
	StateClosed
)

// Errors raised by the session engine. Session-terminating errors (spec §7
// Protocol(kind)) close the session before returning.
var (
	ErrWrongKeySet     = trace.BadParameter("scp: card cryptogram mismatch (wrong key set)")
	ErrBadReceipt      = trace.BadParameter("scp: SCP11 receipt verification failed")
	ErrBadResponseMAC  = trace.BadParameter("scp: response MAC verification failed")
	ErrBadPadding      = trace.BadParameter("scp: response padding invalid")
	ErrSessionClosed   = trace.BadParameter("scp: session is closed")
	ErrNoDEK           = trace.BadParameter("scp: no DEK key in this session")
)

// Session is the live state of an authenticated SCP03 or SCP11 session
// (spec §3 ScpSession). It owns its keys and counters exclusively; one
// session per card session, mutated only by Wrap/Unwrap.
type Session struct {
	transport apdu.Transport

	state      State
	keys       SessionKeys
	macChain   []byte // 16 bytes
	encCounter uint32 // starts at 1, monotonic
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// close transitions to Closed and zeroes all session key material, per
// spec §5 resource policy ("session keys... MUST be zeroised on drop").
func (s *Session) close() {
	s.keys.Zero()
	xcrypto.Zero(s.macChain)
	s.state = StateClosed
}

// Close discards the session and clears its key material. Safe to call
// multiple times.
func (s *Session) Close() {
	if s.state != StateClosed {
		s.close()
	}
}

// counterBlockForEncrypt builds the 16-byte IV-derivation input for the current
// (pre-increment) enc_counter, spec §4.E command-wrap step 1.
func counterBlockForEncrypt(counter uint32) []byte {
	b := make([]byte, 16)
	b[12] = byte(counter >> 24)
	b[13] = byte(counter >> 16)
	b[14] = byte(counter >> 8)
	b[15] = byte(counter)
	return b
}

// counterBlockForDecrypt builds the response-unwrap IV-derivation input,
// spec §4.E response-unwrap step 2: 0x80 || 11 zero bytes || (counter-1).
func counterBlockForDecrypt(counterMinus1 uint32) []byte {
	b := make([]byte, 16)
	b[0] = 0x80
	b[12] = byte(counterMinus1 >> 24)
	b[13] = byte(counterMinus1 >> 16)
	b[14] = byte(counterMinus1 >> 8)
	b[15] = byte(counterMinus1)
	return b
}

func pad80(data []byte) []byte {
	out := make([]byte, len(data), len(data)+16)
	copy(out, data)
	out = append(out, 0x80)
	for len(out)%16 != 0 {
		out = append(out, 0x00)
	}
	return out
}

// unpad80 strips the 0x80 0x00* padding block, spec §4.E response-unwrap
// step 2 / §8.6. Returns ErrBadPadding if the trailing non-zero byte isn't
// 0x80.
func unpad80(data []byte) ([]byte, error) {
	i := len(data) - 1
	for i >= 0 && data[i] == 0x00 {
		i--
	}
	if i < 0 || data[i] != 0x80 {
		return nil, trace.Wrap(ErrBadPadding)
	}
	return data[:i], nil
}

// wrapCommand encrypts and MACs a plaintext command per spec §4.E
// "Command wrap". cla is ORed with the secure-messaging bit (0x04).
func (s *Session) wrapCommand(cla, ins, p1, p2 byte, data []byte) (*apdu.Command, error) {
	if s.state != StateAuthenticated && s.state != StateHandshakeInFlight {
		return nil, trace.Wrap(ErrSessionClosed)
	}

	ciphertext := data
	if len(data) > 0 {
		padded := pad80(data)
		iv, err := xcrypto.AESECBEncryptBlock(s.keys.SENC, counterBlockForEncrypt(s.encCounter))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		ciphertext, err = xcrypto.AESCBC(s.keys.SENC, iv, padded, xcrypto.Encrypt)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		s.encCounter++
	}

	smCLA := cla | 0x04
	header := []byte{smCLA, ins, p1, p2, byte(len(ciphertext) + 8)}
	macInput := append(append([]byte{}, s.macChain...), header...)
	macInput = append(macInput, ciphertext...)

	fullMAC, err := xcrypto.AESCMAC(s.keys.SMAC, macInput)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.macChain = fullMAC

	out := append(append([]byte{}, ciphertext...), fullMAC[:8]...)
	return &apdu.Command{CLA: smCLA, INS: ins, P1: p1, P2: p2, Data: out, Le: 0}, nil
}

// unwrapResponse verifies and decrypts a card response, per spec §4.E
// "Response unwrap". sw is the 2-byte status word trailing the response
// body.
func (s *Session) unwrapResponse(body []byte, sw []byte) ([]byte, error) {
	if len(body) < 8 {
		return nil, trace.BadParameter("scp: response too short for an R-MAC")
	}
	cipherBody := body[:len(body)-8]
	rmac := body[len(body)-8:]

	macInput := append(append([]byte{}, s.macChain...), cipherBody...)
	macInput = append(macInput, sw...)
	expected, err := xcrypto.AESCMAC(s.keys.SRMAC, macInput)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if subtle.ConstantTimeCompare(expected[:8], rmac) != 1 {
		s.close()
		return nil, trace.Wrap(ErrBadResponseMAC)
	}

	if len(cipherBody) == 0 {
		return nil, nil
	}

	iv, err := xcrypto.AESECBEncryptBlock(s.keys.SENC, counterBlockForDecrypt(s.encCounter-1))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	plainPadded, err := xcrypto.AESCBC(s.keys.SENC, iv, cipherBody, xcrypto.Decrypt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	plain, err := unpad80(plainPadded)
	if err != nil {
		s.close()
		return nil, err
	}
	return plain, nil
}

// Send wraps cmd, transmits it, and unwraps the response, advancing
// mac_chain/enc_counter as side effects. This is the primary entry point
// callers use once the session is Authenticated.
func (s *Session) Send(cla, ins, p1, p2 byte, data []byte) ([]byte, uint16, error) {
	wrapped, err := s.wrapCommand(cla, ins, p1, p2, data)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}

	resp, err := apdu.Send(s.transport, wrapped)
	if err != nil {
		// Transport errors are reported unchanged; the session survives
		// (spec §4.E Failure semantics).
		return nil, 0, trace.Wrap(err)
	}

	sw := []byte{resp.SW1, resp.SW2}
	switch resp.SW() {
	case apdu.SWSuccess:
		plain, err := s.unwrapResponse(resp.Data, sw)
		if err != nil {
			return nil, resp.SW(), err
		}
		return plain, resp.SW(), nil
	default:
		// Recoverable status words (spec §4.E: REFERENCED_DATA_NOT_FOUND,
		// CONDITIONS_NOT_SATISFIED, etc.) are still MAC/decrypt-verified
		// when they carry a response body, then surfaced without tearing
		// the session down.
		if len(resp.Data) == 0 {
			return nil, resp.SW(), nil
		}
		plain, uerr := s.unwrapResponse(resp.Data, sw)
		if uerr != nil {
			return nil, resp.SW(), uerr
		}
		return plain, resp.SW(), nil
	}
}

// EncryptForImport encrypts plaintext key material under the session DEK
// with an all-zero IV, for PUT KEY and similar key-import commands (spec
// §4.E DataEncryptor). Returns ErrNoDEK if the session has no DEK.
func (s *Session) EncryptForImport(plaintext []byte) ([]byte, error) {
	if s.keys.DEK == nil {
		return nil, trace.Wrap(ErrNoDEK)
	}
	iv := make([]byte, 16)
	return xcrypto.AESCBC(s.keys.DEK, iv, pad80(plaintext), xcrypto.Encrypt)
}
