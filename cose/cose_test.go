package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"scauthcore/cbor"
)

func TestDecodeES256RoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	x := priv.X.FillBytes(make([]byte, 32))
	y := priv.Y.FillBytes(make([]byte, 32))
	m := EncodeEC2(AlgES256, CrvP256, x, y)
	enc, err := cbor.Encode(m)
	require.NoError(t, err)

	key, err := Decode(enc)
	require.NoError(t, err)
	require.NotNil(t, key.EC)
	require.Equal(t, int64(AlgES256), key.Alg)
	require.Zero(t, priv.X.Cmp(key.EC.X))
	require.Zero(t, priv.Y.Cmp(key.EC.Y))

	spki, err := key.ToSPKI()
	require.NoError(t, err)
	require.NotEmpty(t, spki)
}

func TestDecodeRejectsPointOffCurve(t *testing.T) {
	m := EncodeEC2(AlgES256, CrvP256, []byte{1}, []byte{2})
	enc, err := cbor.Encode(m)
	require.NoError(t, err)
	_, err = Decode(enc)
	require.Error(t, err)
}

// rsa2048Modulus is a fixed 2048-bit RSA modulus (high bit set, so its DER
// INTEGER encoding carries a leading 0x00 pad byte) used as the known COSE
// RS256 test vector below. It is not tied to any real key pair; it exists
// only to pin decodeRSA/ToSPKI's encoding to a known-good DER SPKI blob.
const rsa2048Modulus = "ff02030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f" +
	"202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f" +
	"404142434445464748494a4b4c4d4e4f505152535455565758595a5b5c5d5e5f" +
	"606162636465666768696a6b6c6d6e6f707172737475767778797a7b7c7d7e7f" +
	"808182838485868788898a8b8c8d8e8f909192939495969798999a9b9c9d9e9f" +
	"a0a1a2a3a4a5a6a7a8a9aaabacadaeafb0b1b2b3b4b5b6b7b8b9babbbcbdbebf" +
	"c0c1c2c3c4c5c6c7c8c9cacbcccdcecfd0d1d2d3d4d5d6d7d8d9dadbdcdddedf" +
	"e0e1e2e3e4e5e6e7e8e9eaebecedeeeff0f1f2f3f4f5f6f7f8f9fafb01020304" +
	"05"

// rsa2048SPKI is the known-good 294-byte DER SubjectPublicKeyInfo for
// rsa2048Modulus with e=65537, computed independently of this package.
const rsa2048SPKI = "30820122300d06092a864886f70d01010105000382010f003082010a0282010100" +
	"ff02030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f" +
	"202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f" +
	"404142434445464748494a4b4c4d4e4f505152535455565758595a5b5c5d5e5f" +
	"606162636465666768696a6b6c6d6e6f707172737475767778797a7b7c7d7e7f" +
	"808182838485868788898a8b8c8d8e8f909192939495969798999a9b9c9d9e9f" +
	"a0a1a2a3a4a5a6a7a8a9aaabacadaeafb0b1b2b3b4b5b6b7b8b9babbbcbdbebf" +
	"c0c1c2c3c4c5c6c7c8c9cacbcccdcecfd0d1d2d3d4d5d6d7d8d9dadbdcdddedf" +
	"e0e1e2e3e4e5e6e7e8e9eaebecedeeeff0f1f2f3f4f5f6f7f8f9fafb0102030405" +
	"0203010001"

func TestDecodeRS256KnownAnswerSPKI(t *testing.T) {
	n, err := hex.DecodeString(rsa2048Modulus)
	require.NoError(t, err)
	wantSPKI, err := hex.DecodeString(rsa2048SPKI)
	require.NoError(t, err)
	require.Len(t, wantSPKI, 294)

	m := cbor.NewMap(
		labelKty, int64(KtyRSA),
		labelAlg, int64(AlgRS256),
		labelN, n,
		labelE, []byte{0x01, 0x00, 0x01}, // 65537
	)
	enc, err := cbor.Encode(m)
	require.NoError(t, err)

	key, err := Decode(enc)
	require.NoError(t, err)
	require.NotNil(t, key.RSA)
	require.Equal(t, int64(AlgRS256), key.Alg)
	require.Equal(t, 65537, key.RSA.E)

	spki, err := key.ToSPKI()
	require.NoError(t, err)
	require.Equal(t, wantSPKI, spki)
}

func TestDecodeUnsupportedKty(t *testing.T) {
	m := cbor.NewMap(labelKty, int64(99))
	enc, err := cbor.Encode(m)
	require.NoError(t, err)
	_, err = Decode(enc)
	require.Error(t, err)
}
