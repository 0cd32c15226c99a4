// Package cose decodes COSE_Key structures into Go public keys, for the
// kty/alg/crv combinations CTAP2/WebAuthn actually uses (spec §4.A).
package cose

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"math/big"

	"github.com/gravitational/trace"

	"scauthcore/cbor"
)

// Key type (kty) values, RFC 8152 §13.
const (
	KtyOKP = 1
	KtyEC2 = 2
	KtyRSA = 3
)

// Algorithm (alg) values, RFC 8152 §8/§16.
const (
	AlgES256 = -7
	AlgEdDSA = -8
	AlgRS256 = -257
)

// Curve (crv) values, RFC 8152 §13.1.
const (
	CrvP256   = 1
	CrvP384   = 2
	CrvP521   = 3
	CrvEd25519 = 6
)

// COSE_Key map labels, RFC 8152 §7.
const (
	labelKty   = int64(1)
	labelAlg   = int64(3)
	labelCrv   = int64(-1)
	labelX     = int64(-2)
	labelY     = int64(-3)
	labelN     = int64(-1) // RSA modulus shares label -1 with EC2 crv; disambiguated by kty
	labelE     = int64(-2) // RSA exponent shares label -2 with EC2 x
)

// Key is a decoded COSE public key: exactly one of EC, Ed25519 or RSA is set.
type Key struct {
	Alg int64

	EC       *ecdsa.PublicKey // EC2: ES256/ES384/ES512
	Ed25519  []byte           // OKP: EdDSA, raw 32-byte point
	RSA      *rsa.PublicKey   // RSA: RS256
}

// Decode parses a COSE_Key CBOR map into a Key.
func Decode(data []byte) (*Key, error) {
	v, rest, err := cbor.Decode(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(rest) != 0 {
		return nil, trace.BadParameter("cose: trailing data after COSE_Key")
	}
	m, ok := v.(*cbor.Map)
	if !ok {
		return nil, trace.BadParameter("cose: expected a CBOR map")
	}
	return DecodeMap(m)
}

// DecodeMap parses an already-decoded COSE_Key CBOR map.
func DecodeMap(m *cbor.Map) (*Key, error) {
	ktyV, ok := m.Get(labelKty)
	if !ok {
		return nil, trace.BadParameter("cose: missing kty")
	}
	kty, ok := ktyV.(int64)
	if !ok {
		return nil, trace.BadParameter("cose: kty is not an integer")
	}

	algV, _ := m.Get(labelAlg)
	alg, _ := algV.(int64)

	switch kty {
	case KtyEC2:
		return decodeEC2(m, alg)
	case KtyOKP:
		return decodeOKP(m, alg)
	case KtyRSA:
		return decodeRSA(m, alg)
	default:
		return nil, trace.BadParameter("cose: unsupported kty %d", kty)
	}
}

func decodeEC2(m *cbor.Map, alg int64) (*Key, error) {
	crvV, ok := m.Get(labelCrv)
	if !ok {
		return nil, trace.BadParameter("cose: EC2 key missing crv")
	}
	crv, ok := crvV.(int64)
	if !ok {
		return nil, trace.BadParameter("cose: crv is not an integer")
	}

	var curve elliptic.Curve
	switch crv {
	case CrvP256:
		curve = elliptic.P256()
	case CrvP384:
		curve = elliptic.P384()
	case CrvP521:
		curve = elliptic.P521()
	default:
		return nil, trace.BadParameter("cose: unsupported EC2 crv %d", crv)
	}

	xBytes, ok := getBytes(m, labelX)
	if !ok {
		return nil, trace.BadParameter("cose: EC2 key missing x")
	}
	yBytes, ok := getBytes(m, labelY)
	if !ok {
		return nil, trace.BadParameter("cose: EC2 key missing y")
	}

	pub := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, trace.BadParameter("cose: EC2 point is not on the declared curve")
	}
	return &Key{Alg: alg, EC: pub}, nil
}

func decodeOKP(m *cbor.Map, alg int64) (*Key, error) {
	crvV, ok := m.Get(labelCrv)
	if !ok {
		return nil, trace.BadParameter("cose: OKP key missing crv")
	}
	crv, _ := crvV.(int64)
	if crv != CrvEd25519 {
		return nil, trace.BadParameter("cose: unsupported OKP crv %d", crv)
	}
	xBytes, ok := getBytes(m, labelX)
	if !ok || len(xBytes) != 32 {
		return nil, trace.BadParameter("cose: OKP key requires a 32-byte x")
	}
	return &Key{Alg: alg, Ed25519: xBytes}, nil
}

func decodeRSA(m *cbor.Map, alg int64) (*Key, error) {
	nBytes, ok := getBytes(m, labelN)
	if !ok {
		return nil, trace.BadParameter("cose: RSA key missing n")
	}
	eBytes, ok := getBytes(m, labelE)
	if !ok {
		return nil, trace.BadParameter("cose: RSA key missing e")
	}
	e := new(big.Int).SetBytes(eBytes)
	return &Key{
		Alg: alg,
		RSA: &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(e.Int64()),
		},
	}, nil
}

func getBytes(m *cbor.Map, label int64) ([]byte, bool) {
	v, ok := m.Get(label)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// ToSPKI renders a decoded Key as a DER-encoded X.509 SubjectPublicKeyInfo,
// for callers (e.g. attestation verification outside this core) that need
// a standard public-key encoding rather than a raw COSE point.
func (k *Key) ToSPKI() ([]byte, error) {
	switch {
	case k.EC != nil:
		return x509.MarshalPKIXPublicKey(k.EC)
	case k.RSA != nil:
		return x509.MarshalPKIXPublicKey(k.RSA)
	case k.Ed25519 != nil:
		return x509.MarshalPKIXPublicKey(ed25519.PublicKey(k.Ed25519))
	default:
		return nil, trace.BadParameter("cose: key has no recognized public-key material")
	}
}

// EncodeEC2 builds a COSE_Key CBOR map for an EC2 public key, the inverse
// of decodeEC2. Used when a platform needs to send its own ephemeral key
// back to the authenticator (PIN/UV protocol encapsulate, spec §4.G).
func EncodeEC2(alg int64, crv int64, x, y []byte) *cbor.Map {
	return cbor.NewMap(
		labelKty, int64(KtyEC2),
		labelAlg, alg,
		labelCrv, crv,
		labelX, x,
		labelY, y,
	)
}
