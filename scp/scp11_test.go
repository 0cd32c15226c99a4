package scp

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"scauthcore/xcrypto"
)

func TestSCP11KDFDeterministicAndOrdered(t *testing.T) {
	z := make([]byte, 32)
	a := scp11KDF(z)
	b := scp11KDF(z)
	require.Equal(t, a, b)
	require.Len(t, a, 96)

	six := splitSCP11SixKeys(a)
	require.Len(t, six.ReceiptKey, 16)
	require.Len(t, six.SENC, 16)
	require.Len(t, six.SMAC, 16)
	require.Len(t, six.SRMAC, 16)
	require.Len(t, six.SDEK, 16)
	require.Len(t, six.Reserved, 16)
	require.NotEqual(t, six.ReceiptKey, six.SENC)
}

func TestSCP11ComputeZSCP11bUsesEphemeralOnly(t *testing.T) {
	hostPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	cardPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	params := &ScpKeyParams{KeyRef: KeyRef{KID: KID11b}}
	z, err := scp11ComputeZ(params, hostPriv, cardPriv.PublicKey())
	require.NoError(t, err)

	wantZ, err := xcrypto.ECDH(hostPriv, cardPriv.PublicKey())
	require.NoError(t, err)
	require.Equal(t, wantZ, z)
}

func TestSCP11ComputeZSCP11aAppendsStaticStatic(t *testing.T) {
	hostEphemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	cardEphemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	oceStatic, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	sdStatic, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	params := &ScpKeyParams{
		KeyRef:    KeyRef{KID: KID11a},
		SKOCEECKA: oceStatic,
		PKSDECKA:  sdStatic.PublicKey(),
	}
	z, err := scp11ComputeZ(params, hostEphemeral, cardEphemeral.PublicKey())
	require.NoError(t, err)

	zEph, err := xcrypto.ECDH(hostEphemeral, cardEphemeral.PublicKey())
	require.NoError(t, err)
	zStatic, err := xcrypto.ECDH(oceStatic, sdStatic.PublicKey())
	require.NoError(t, err)
	require.Equal(t, append(zEph, zStatic...), z)
}

func TestSCP11VerifyAndDeriveKeysRejectsBadReceipt(t *testing.T) {
	hostPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	cardPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	params := &ScpKeyParams{KeyRef: KeyRef{KID: KID11b}}
	_, err = scp11VerifyAndDeriveKeys(params, hostPriv, cardPriv.PublicKey(), []byte("ke-data"), []byte("epk-tlv"), make([]byte, 8))
	require.ErrorIs(t, err, ErrBadReceipt)
}

func TestSCP11VerifyAndDeriveKeysAcceptsMatchingReceipt(t *testing.T) {
	hostPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	cardPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	params := &ScpKeyParams{KeyRef: KeyRef{KID: KID11b}}
	z, err := scp11ComputeZ(params, hostPriv, cardPriv.PublicKey())
	require.NoError(t, err)
	six := splitSCP11SixKeys(scp11KDF(z))

	keData := []byte("ke-data")
	epkTLV := []byte("epk-tlv")
	receipt, err := xcrypto.AESCMAC(six.ReceiptKey, append(append([]byte{}, keData...), epkTLV...))
	require.NoError(t, err)

	handshake, err := scp11VerifyAndDeriveKeys(params, hostPriv, cardPriv.PublicKey(), keData, epkTLV, receipt)
	require.NoError(t, err)
	require.Equal(t, six.SENC, handshake.sessionKeys.SENC)
	require.Equal(t, six.SMAC, handshake.sessionKeys.SMAC)
	require.Equal(t, six.SRMAC, handshake.sessionKeys.SRMAC)
	require.Nil(t, handshake.sessionKeys.DEK)
}

func TestBuildControlReferenceTLVRejectsUnknownKID(t *testing.T) {
	_, err := buildControlReferenceTLV(KeyRef{KID: 0x99})
	require.Error(t, err)
}
