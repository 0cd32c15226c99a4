// Package pinuv implements the CTAP2 PIN/UV Auth Protocols v1 and v2:
// key agreement, encrypt/decrypt, message authentication, and PIN
// preparation (spec §4.G).
package pinuv

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"unicode/utf8"

	"github.com/gravitational/trace"

	"scauthcore/cbor"
	"scauthcore/cose"
	"scauthcore/xcrypto"
)

// Version identifies which PinUvAuthProtocol a session negotiated.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

// Permission bits for PinToken acquisition, spec §4.G.
const (
	PermMakeCredential         byte = 0x01
	PermGetAssertion           byte = 0x02
	PermCredentialManagement   byte = 0x04
	PermBioEnrollment          byte = 0x08
	PermLargeBlobWrite         byte = 0x10
	PermAuthenticatorConfig    byte = 0x20
)

// Protocol is a PinUvAuthProtocol instance (spec §3, §4.G): stateless
// crypto operations selected by version. The platform's ephemeral key pair
// is not stored; Encapsulate generates a fresh one on every call.
type Protocol struct {
	version Version
}

// New returns a Protocol for the given version.
func New(v Version) *Protocol { return &Protocol{version: v} }

// Version reports which protocol version this instance implements.
func (p *Protocol) Version() Version { return p.version }

// EncapsulateResult is the output of Encapsulate: the platform's COSE
// public key to send to the authenticator, and the shared secret derived
// from ECDH with the authenticator's key-agreement key.
type EncapsulateResult struct {
	PlatformPublicKey *cbor.Map
	SharedSecret      []byte
}

// Encapsulate generates an ephemeral platform P-256 key pair, performs
// ECDH with the authenticator's key-agreement key, and derives the shared
// secret per protocol version (spec §4.G, §3).
func (p *Protocol) Encapsulate(peer *cose.Key) (*EncapsulateResult, error) {
	if peer.EC == nil {
		return nil, trace.BadParameter("pinuv: peer key-agreement key must be an EC2 key")
	}
	curve := ecdh.P256()
	platformPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, trace.Wrap(err, "pinuv: ephemeral key generation failed")
	}

	peerECDH, err := curve.NewPublicKey(elliptic2UncompressedBytes(peer))
	if err != nil {
		return nil, trace.Wrap(err, "pinuv: invalid peer key-agreement key")
	}

	z, err := platformPriv.ECDH(peerECDH)
	if err != nil {
		return nil, trace.Wrap(err, "pinuv: ECDH failed")
	}
	defer xcrypto.Zero(z)

	secret, err := p.deriveSharedSecret(z)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	pub := platformPriv.PublicKey()
	coords := pub.Bytes() // uncompressed point: 0x04 || X(32) || Y(32)
	coseKey := cose.EncodeEC2(cose.AlgES256, cose.CrvP256, coords[1:33], coords[33:65])

	return &EncapsulateResult{PlatformPublicKey: coseKey, SharedSecret: secret}, nil
}

// elliptic2UncompressedBytes renders a COSE EC2 key as the SEC1
// uncompressed point crypto/ecdh expects.
func elliptic2UncompressedBytes(k *cose.Key) []byte {
	x := k.EC.X.Bytes()
	y := k.EC.Y.Bytes()
	out := make([]byte, 65)
	out[0] = 0x04
	copy(out[1+32-len(x):33], x)
	copy(out[33+32-len(y):65], y)
	return out
}

// deriveSharedSecret implements spec §3's per-version shared-secret rule:
// v1: SHA-256(Z). v2: HKDF(salt=32 zero bytes, info=...) split into an
// hmac_key and an aes_key, concatenated.
func (p *Protocol) deriveSharedSecret(z []byte) ([]byte, error) {
	switch p.version {
	case V1:
		return xcrypto.SHA256(z), nil
	case V2:
		salt := make([]byte, 32)
		hmacKey, err := xcrypto.HKDF(sha256.New, z, salt, []byte("CTAP2 HMAC key"), 32)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		aesKey, err := xcrypto.HKDF(sha256.New, z, salt, []byte("CTAP2 AES key"), 32)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return append(hmacKey, aesKey...), nil
	default:
		return nil, trace.BadParameter("pinuv: unknown protocol version %d", p.version)
	}
}

// aesKey returns the slice of secret used for AES operations: the whole
// secret for v1, the second half for v2.
func (p *Protocol) aesKey(secret []byte) []byte {
	if p.version == V2 {
		return secret[32:64]
	}
	return secret
}

// hmacKey returns the slice of secret used for HMAC operations.
func (p *Protocol) hmacKey(secret []byte) []byte {
	if p.version == V2 {
		return secret[0:32]
	}
	return secret
}

// Encrypt implements spec §4.G encrypt(key, plaintext): v1 uses a fixed
// zero IV; v2 prepends a random 16-byte IV to the ciphertext.
func (p *Protocol) Encrypt(secret, plaintext []byte) ([]byte, error) {
	key := p.aesKey(secret)
	if p.version == V1 {
		iv := make([]byte, 16)
		return xcrypto.AESCBC(key, iv, plaintext, xcrypto.Encrypt)
	}
	iv, err := xcrypto.RandBytes(16)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ciphertext, err := xcrypto.AESCBC(key, iv, plaintext, xcrypto.Encrypt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return append(iv, ciphertext...), nil
}

// Decrypt is Encrypt's inverse.
func (p *Protocol) Decrypt(secret, ciphertext []byte) ([]byte, error) {
	key := p.aesKey(secret)
	if p.version == V1 {
		iv := make([]byte, 16)
		return xcrypto.AESCBC(key, iv, ciphertext, xcrypto.Decrypt)
	}
	if len(ciphertext) < 16 {
		return nil, trace.BadParameter("pinuv: v2 ciphertext shorter than one IV block")
	}
	iv, body := ciphertext[:16], ciphertext[16:]
	return xcrypto.AESCBC(key, iv, body, xcrypto.Decrypt)
}

// Authenticate implements spec §4.G authenticate(key, message): v1 is the
// first 16 bytes of HMAC-SHA-256; v2 is the full HMAC-SHA-256.
func (p *Protocol) Authenticate(secret, message []byte) []byte {
	key := p.hmacKey(secret)
	mac := xcrypto.HMAC(sha256.New, key, message)
	if p.version == V1 {
		return mac[:16]
	}
	return mac
}

// PreparePin encodes a PIN for setPin/changePin, spec §4.G: UTF-8, reject
// fewer than 4 code points; if pad, right-pad with zero bytes to exactly
// 64 bytes (and reject inputs that wouldn't fit, i.e. 64 code units and
// longer once encoded).
func PreparePin(pin string, pad bool) ([]byte, error) {
	n := utf8.RuneCountInString(pin)
	if n < 4 {
		return nil, trace.BadParameter("pinuv: PIN must be at least 4 code points")
	}
	encoded := []byte(pin)
	if !pad {
		return encoded, nil
	}
	if len(encoded) >= 64 {
		return nil, trace.BadParameter("pinuv: PIN too long to pad to 64 bytes")
	}
	out := make([]byte, 64)
	copy(out, encoded)
	return out, nil
}

// ValidatePinLength checks the PIN length bound used for getPinToken,
// spec §4.G: 4-63 code points (runes).
func ValidatePinLength(pin string) error {
	n := utf8.RuneCountInString(pin)
	if n < 4 || n > 63 {
		return trace.BadParameter("pinuv: PIN length %d out of bounds [4,63]", n)
	}
	return nil
}
