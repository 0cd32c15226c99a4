package xcrypto

import (
	"crypto/sha1"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 5869 Appendix A.1, case 1 (SHA-256).
func TestHKDFSHA256Vector(t *testing.T) {
	ikm := make([]byte, 22)
	for i := range ikm {
		ikm[i] = 0x0b
	}
	salt := unhex(t, "000102030405060708090a0b0c")
	info := unhex(t, "f0f1f2f3f4f5f6f7f8f9")

	okm, err := HKDF(HashFor(256), ikm, salt, info, 42)
	require.NoError(t, err)
	require.Equal(t, unhex(t, "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865"), okm)
}

// RFC 5869 Appendix A.4, case 4 (SHA-1).
func TestHKDFSHA1Vector(t *testing.T) {
	ikm := unhex(t, "0b0b0b0b0b0b0b0b0b0b0b")
	salt := unhex(t, "000102030405060708090a0b0c")
	info := unhex(t, "f0f1f2f3f4f5f6f7f8f9")

	okm, err := HKDF(sha1.New, ikm, salt, info, 42)
	require.NoError(t, err)
	require.Equal(t, unhex(t, "085a01ea1b10f36933068b56efa5ad81a4f14b822f5b091568a9cdd4f155fda2c22e422478d305f3f896"), okm)
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	iv := make([]byte, 16)
	plaintext := append([]byte("0123456789ABCDEF"), "0123456789ABCDEF"...)

	ct, err := AESCBC(key, iv, plaintext, Encrypt)
	require.NoError(t, err)
	require.Len(t, ct, len(plaintext))

	pt, err := AESCBC(key, iv, ct, Decrypt)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestEncodeCoordinatePadsTo32Bytes(t *testing.T) {
	v := new(big.Int).SetBytes(unhex(t, "01"))
	got := EncodeCoordinate(v)
	require.Len(t, got, 32)
	require.Equal(t, byte(1), got[31])
	for _, b := range got[:31] {
		require.Equal(t, byte(0), b)
	}
}
