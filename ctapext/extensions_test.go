package ctapext

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scauthcore/cbor"
	"scauthcore/pinuv"
)

func TestCredPropsReflectsResidentFlag(t *testing.T) {
	ext := &CredProps{Resident: true}
	state := State{}

	authVal, err := ext.ProcessInput(true, true, state)
	require.NoError(t, err)
	require.Nil(t, authVal) // credProps never reaches the wire

	out, err := ext.ProcessOutput(true, nil, state)
	require.NoError(t, err)
	m, ok := out.(*cbor.Map)
	require.True(t, ok)
	rk, present := m.Get("rk")
	require.True(t, present)
	require.Equal(t, true, rk)
}

func TestCredPropsSkippedWhenNotRequested(t *testing.T) {
	ext := &CredProps{Resident: true}
	state := State{}

	_, err := ext.ProcessInput(true, false, state)
	require.NoError(t, err)

	out, err := ext.ProcessOutput(true, nil, state)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestCredProtectMapsPolicyNameToLevel(t *testing.T) {
	ext := &CredProtect{}
	state := State{}

	level, err := ext.ProcessInput(true, "userVerificationRequired", state)
	require.NoError(t, err)
	require.Equal(t, int64(3), level)

	_, err = ext.ProcessInput(true, "bogus", state)
	require.Error(t, err)
}

func TestCredProtectEchoesAuthenticatorOutput(t *testing.T) {
	ext := &CredProtect{}
	out, err := ext.ProcessOutput(true, int64(2), State{})
	require.NoError(t, err)
	require.Equal(t, int64(2), out)
}

func TestCredBlobCreateRejectsOversizedBlob(t *testing.T) {
	ext := &CredBlob{}
	big := make([]byte, 33)
	_, err := ext.ProcessInput(true, big, State{})
	require.Error(t, err)

	small := make([]byte, 16)
	v, err := ext.ProcessInput(true, small, State{})
	require.NoError(t, err)
	require.Equal(t, small, v)
}

func TestCredBlobGetRequestsBlob(t *testing.T) {
	ext := &CredBlob{}
	v, err := ext.ProcessInput(false, true, State{})
	require.NoError(t, err)
	require.Equal(t, true, v)
}

func TestThirdPartyPaymentCreateAlwaysEnables(t *testing.T) {
	ext := &ThirdPartyPayment{}
	v, err := ext.ProcessInput(true, nil, State{})
	require.NoError(t, err)
	require.Equal(t, true, v)
}

func TestThirdPartyPaymentGetRequiresIsPaymentFlag(t *testing.T) {
	ext := &ThirdPartyPayment{}

	v, err := ext.ProcessInput(false, cbor.NewMap("isPayment", true), State{})
	require.NoError(t, err)
	require.Equal(t, true, v)

	v, err = ext.ProcessInput(false, cbor.NewMap("isPayment", false), State{})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestHMACSecretGetEncryptsAndDecryptsSalts(t *testing.T) {
	proto := pinuv.New(pinuv.V1)
	secret := make([]byte, 32)
	platformKey := cbor.NewMap("stub", true)

	ext := &HMACSecret{}
	ext.Configure(proto, secret, platformKey)

	salt1 := make([]byte, 32)
	for i := range salt1 {
		salt1[i] = byte(i)
	}
	state := State{}
	authVal, err := ext.ProcessInput(false, cbor.NewMap("salt1", salt1), state)
	require.NoError(t, err)

	authMap, ok := authVal.(*cbor.Map)
	require.True(t, ok)
	saltEnc, present := authMap.Get(int64(2))
	require.True(t, present)
	saltEncBytes, ok := saltEnc.([]byte)
	require.True(t, ok)

	// Simulate the authenticator returning a 32-byte output1 (all zero
	// here), encrypted under the same shared secret, to exercise ProcessOutput.
	authenticatorOutput, err := proto.Encrypt(secret, append(make([]byte, 32), salt1...)[:32])
	require.NoError(t, err)
	_ = saltEncBytes

	out, err := ext.ProcessOutput(false, authenticatorOutput, state)
	require.NoError(t, err)
	outMap, ok := out.(*cbor.Map)
	require.True(t, ok)
	_, present = outMap.Get("output1")
	require.True(t, present)
}

func TestHMACSecretCreateTogglesSupportFlag(t *testing.T) {
	ext := &HMACSecret{}
	v, err := ext.ProcessInput(true, true, State{})
	require.NoError(t, err)
	require.Equal(t, true, v)

	out, err := ext.ProcessOutput(true, true, State{})
	require.NoError(t, err)
	require.Equal(t, true, out)
}

func TestHMACSecretGetRequiresConfiguredProtocol(t *testing.T) {
	ext := &HMACSecret{}
	salt1 := make([]byte, 32)
	_, err := ext.ProcessInput(false, cbor.NewMap("salt1", salt1), State{})
	require.Error(t, err)
}

func TestPRFEvalSynthesizesHMACSecretSalt(t *testing.T) {
	proto := pinuv.New(pinuv.V1)
	secret := make([]byte, 32)
	platformKey := cbor.NewMap("stub", true)

	ext := &PRF{}
	ext.Configure(proto, secret, platformKey)

	first := make([]byte, 32)
	evalMap := cbor.NewMap("first", first)
	state := State{}
	authVal, err := ext.ProcessInput(false, cbor.NewMap("eval", evalMap), state)
	require.NoError(t, err)
	authMap, ok := authVal.(*cbor.Map)
	require.True(t, ok)
	_, present := authMap.Get(int64(1))
	require.True(t, present)

	out, err := ext.ProcessOutput(true, nil, state)
	require.NoError(t, err)
	enabled, ok := out.(*cbor.Map)
	require.True(t, ok)
	v, present := enabled.Get("enabled")
	require.True(t, present)
	require.Equal(t, true, v)
}

func TestLargeBlobCreateReportsSupport(t *testing.T) {
	ext := &LargeBlob{Supported: true}
	state := State{}

	_, err := ext.ProcessInput(true, cbor.NewMap("support", "required"), state)
	require.NoError(t, err)

	out, err := ext.ProcessOutput(true, nil, state)
	require.NoError(t, err)
	m, ok := out.(*cbor.Map)
	require.True(t, ok)
	v, present := m.Get("supported")
	require.True(t, present)
	require.Equal(t, true, v)
}

func TestSignGeneratesKeyAndSigns(t *testing.T) {
	ext := &Sign{}

	genInput := cbor.NewMap("generateKey", cbor.NewMap("algorithms", []cbor.Value{int64(-7)}))
	v, err := ext.ProcessInput(true, genInput, State{})
	require.NoError(t, err)
	m, ok := v.(*cbor.Map)
	require.True(t, ok)
	_, present := m.Get("generateKey")
	require.True(t, present)

	signInput := cbor.NewMap("sign", cbor.NewMap("phData", []byte("hello")))
	v, err = ext.ProcessInput(false, signInput, State{})
	require.NoError(t, err)
	m, ok = v.(*cbor.Map)
	require.True(t, ok)
	_, present = m.Get("sign")
	require.True(t, present)
}

func TestDefaultRegistryRegistersAllNineExtensions(t *testing.T) {
	r := Default()
	require.Len(t, r.extensions, 9)
	for _, name := range []string{
		"credProps", "credProtect", "credBlob", "minPinLength",
		"hmac-secret", "largeBlob", "prf", "sign", "thirdPartyPayment",
	} {
		_, ok := r.byName[name]
		require.True(t, ok, "missing extension %s", name)
	}
}
