// Package xcrypto is the crypto primitives façade used by the scp,
// pinuv, management and webauthncli packages. It centralises the handful of AES/ECDH/HMAC
// operations the secure-channel and CTAP2 protocols need so callers never
// reach for crypto/aes or crypto/cipher directly.
package xcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"io"
	"math/big"

	"github.com/enceve/crypto/cmac"
	"github.com/gravitational/trace"
	"golang.org/x/crypto/hkdf"
)

// Direction selects encrypt or decrypt for AESCBC.
type Direction int

const (
	Encrypt Direction = iota
	Decrypt
)

// Zero overwrites b in place. Callers use it to scrub key material,
// shared secrets and padded plaintexts before they become unreachable.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// AESECBEncryptBlock encrypts a single 16-byte block with AES-ECB. Used only
// for IV derivation (SCP counter-block encryption); never for bulk data.
func AESECBEncryptBlock(key, block []byte) ([]byte, error) {
	if len(block) != aes.BlockSize {
		return nil, trace.BadParameter("block must be %d bytes, got %d", aes.BlockSize, len(block))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]byte, aes.BlockSize)
	c.Encrypt(out, block)
	return out, nil
}

// AESCBC runs AES-CBC over data (which must already be a multiple of the
// block size) under key/iv, in the given direction.
func AESCBC(key, iv, data []byte, dir Direction) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, trace.BadParameter("data length %d is not a multiple of the AES block size", len(data))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]byte, len(data))
	switch dir {
	case Encrypt:
		cipher.NewCBCEncrypter(c, iv).CryptBlocks(out, data)
	case Decrypt:
		cipher.NewCBCDecrypter(c, iv).CryptBlocks(out, data)
	default:
		return nil, trace.BadParameter("unknown cipher direction %d", dir)
	}
	return out, nil
}

// AESCMAC computes AES-CMAC (NIST SP 800-38B), 16-byte output.
func AESCMAC(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m, err := cmac.New(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := m.Write(data); err != nil {
		return nil, trace.Wrap(err)
	}
	return m.Sum(nil), nil
}

// ECDH performs a P-256/P-384/P-521 ECDH exchange and returns the raw shared
// X-coordinate (Z), per SEC1. Curve of priv and pub must match.
func ECDH(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	z, err := priv.ECDH(pub)
	if err != nil {
		return nil, trace.Wrap(err, "ECDH key agreement failed")
	}
	return z, nil
}

// ECDSAVerify verifies a DER-encoded ECDSA signature over an already
// computed digest. It does no hashing itself; for ES256/ES384/ES512 the
// caller picks the matching hash via HashFor.
func ECDSAVerify(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	return ecdsa.VerifyASN1(pub, digest, sig)
}

// HashFor returns the stdlib hash.Hash constructor for a COSE/CTAP alg
// identifier's digest width.
func HashFor(bits int) func() hash.Hash {
	switch bits {
	case 384:
		return sha512.New384
	case 512:
		return sha512.New
	default:
		return sha256.New
	}
}

// HKDF derives L bytes from ikm/salt/info using the given hash constructor.
func HKDF(newHash func() hash.Hash, ikm, salt, info []byte, l int) ([]byte, error) {
	r := hkdf.New(newHash, ikm, salt, info)
	out := make([]byte, l)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// HMAC computes an HMAC over data with the given hash constructor.
func HMAC(newHash func() hash.Hash, key, data []byte) []byte {
	m := hmac.New(newHash, key)
	m.Write(data)
	return m.Sum(nil)
}

// SHA256 hashes data with SHA-256.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// RandBytes returns n cryptographically random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, trace.Wrap(err, "failed to read random bytes")
	}
	return b, nil
}

// EncodeCoordinate renders a big.Int as a big-endian, zero-left-padded
// 32-byte field element, as required when serialising P-256 points into
// COSE keys (spec §4.G).
func EncodeCoordinate(v *big.Int) [32]byte {
	var out [32]byte
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// CurveForCOSE maps a COSE crv identifier to its stdlib elliptic.Curve, or
// nil if unsupported.
func CurveForCOSE(crv int64) elliptic.Curve {
	switch crv {
	case 1:
		return elliptic.P256()
	case 2:
		return elliptic.P384()
	case 3:
		return elliptic.P521()
	default:
		return nil
	}
}

// ECDHCurveForCOSE maps a COSE crv identifier to its crypto/ecdh curve.
func ECDHCurveForCOSE(crv int64) ecdh.Curve {
	switch crv {
	case 1:
		return ecdh.P256()
	case 2:
		return ecdh.P384()
	case 3:
		return ecdh.P521()
	default:
		return nil
	}
}
