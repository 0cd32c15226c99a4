package webauthncli

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"scauthcore/cbor"
	"scauthcore/cose"
	"scauthcore/ctap2"
	"scauthcore/pinuv"
	"scauthcore/xcrypto"
)

// fakeAuthenticator implements the `session` interface by performing a
// real PIN/UV v1 key-agreement handshake (so pinuv.GetPinToken's decrypt
// step succeeds) and recording the last MakeCredential/GetAssertion params
// for inspection, mirroring the card-replay fakes used in scp's tests.
type fakeAuthenticator struct {
	info  *ctap2.Info
	priv  *ecdh.PrivateKey
	token []byte

	lastMakeCredentialParams *cbor.Map
	makeCredentialResp       *cbor.Map
	getAssertionResp         *cbor.Map
}

func newFakeAuthenticator(t *testing.T, info *ctap2.Info) *fakeAuthenticator {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &fakeAuthenticator{info: info, priv: priv, token: make([]byte, 32)}
}

func (f *fakeAuthenticator) GetInfo(force bool) (*ctap2.Info, error) { return f.info, nil }

func (f *fakeAuthenticator) ClientPin(params *cbor.Map) (*cbor.Map, error) {
	subCmdV, _ := params.Get(int64(2))
	subCmd, _ := cbor.AsInt64(subCmdV)
	switch subCmd {
	case 0x02: // getKeyAgreement
		pub := f.priv.PublicKey().Bytes()
		x := xcrypto.EncodeCoordinate(new(big.Int).SetBytes(pub[1:33]))
		y := xcrypto.EncodeCoordinate(new(big.Int).SetBytes(pub[33:65]))
		coseKey := cose.EncodeEC2(cose.AlgES256, cose.CrvP256, x[:], y[:])
		return cbor.NewMap(int64(1), coseKey), nil
	case 0x09: // getPinUvAuthTokenUsingPin
		platformKeyV, _ := params.Get(int64(3))
		platformKeyMap, _ := platformKeyV.(*cbor.Map)
		peer, err := cose.DecodeMap(platformKeyMap)
		if err != nil {
			return nil, err
		}
		platformPub, err := f.priv.Curve().NewPublicKey(uncompressedPoint(peer))
		if err != nil {
			return nil, err
		}
		z, err := f.priv.ECDH(platformPub)
		if err != nil {
			return nil, err
		}
		secret := xcrypto.SHA256(z)
		tokenEnc, err := pinuv.New(pinuv.V1).Encrypt(secret, f.token)
		if err != nil {
			return nil, err
		}
		return cbor.NewMap(int64(2), tokenEnc), nil
	}
	return cbor.NewMap(), nil
}

func (f *fakeAuthenticator) MakeCredential(params *cbor.Map) (*cbor.Map, error) {
	f.lastMakeCredentialParams = params
	return f.makeCredentialResp, nil
}

func (f *fakeAuthenticator) GetAssertion(params *cbor.Map) (*cbor.Map, error) {
	return f.getAssertionResp, nil
}

func (f *fakeAuthenticator) GetNextAssertion() (*cbor.Map, error) { return cbor.NewMap(), nil }

func uncompressedPoint(k *cose.Key) []byte {
	x := xcrypto.EncodeCoordinate(k.EC.X)
	y := xcrypto.EncodeCoordinate(k.EC.Y)
	out := make([]byte, 65)
	out[0] = 0x04
	copy(out[1:33], x[:])
	copy(out[33:65], y[:])
	return out
}

func buildAuthData(t *testing.T, credID []byte, extensions *cbor.Map) []byte {
	t.Helper()
	flags := byte(0x41) // UP | AT
	if extensions != nil {
		flags |= 0x80 // ED
	}
	out := make([]byte, 32+1+4)
	out[32] = flags
	out = append(out, make([]byte, 16)...) // AAGUID
	credLen := make([]byte, 2)
	binary.BigEndian.PutUint16(credLen, uint16(len(credID)))
	out = append(out, credLen...)
	out = append(out, credID...)
	pubKey := cose.EncodeEC2(cose.AlgES256, cose.CrvP256, make([]byte, 32), make([]byte, 32))
	pubKeyBytes, err := cbor.Encode(pubKey)
	require.NoError(t, err)
	out = append(out, pubKeyBytes...)
	if extensions != nil {
		extBytes, err := cbor.Encode(extensions)
		require.NoError(t, err)
		out = append(out, extBytes...)
	}
	return out
}

func testInfo() *ctap2.Info {
	return &ctap2.Info{
		Algorithms:               []cbor.Value{cbor.NewMap("alg", int64(-7), "type", "public-key")},
		PinUvAuthProtocols:       []int64{1},
		MaxCredentialIDLength:    64,
		MaxCredentialCountInList: 8,
	}
}

// TestMakeCredentialOutboundCBORKeyOrderAndCredProtect is E2E-2: the
// outbound map's extensions entry carries credProtect=3, and canonical
// CBOR encoding places keys in ascending numeric order (1..9 inclusive,
// since this call exercises exclude list, extensions, options, and the PIN
// auth param with its protocol version).
func TestMakeCredentialOutboundCBORKeyOrderAndCredProtect(t *testing.T) {
	auth := newFakeAuthenticator(t, testInfo())
	credID := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	extOut := cbor.NewMap("credProtect", int64(3))
	auth.makeCredentialResp = cbor.NewMap(
		int64(1), "packed",
		int64(2), buildAuthData(t, credID, extOut),
		int64(3), cbor.NewMap(),
	)

	client := NewClient(auth, nil, NoopPrompt{PIN: "1234"})

	opts := MakeCredentialOptions{
		RP:               RelyingParty{ID: "example.com", Name: "Example"},
		User:             User{ID: []byte("user1"), Name: "user1"},
		Challenge:        make([]byte, 16),
		Origin:           "https://example.com",
		PubKeyCredParams: []CredentialParameter{{Type: "public-key", Alg: -7}},
		ExcludeCredentials: []Descriptor{
			{Type: "public-key", ID: make([]byte, 16)},
		},
		AuthenticatorSelection: AuthenticatorSelection{UserVerification: "required"},
		Extensions:             cbor.NewMap("credProtect", "userVerificationRequired"),
		PIN:                    "1234",
	}

	cred, err := client.MakeCredential(opts)
	require.NoError(t, err)
	require.Equal(t, credID, cred.ID)

	require.NotNil(t, auth.lastMakeCredentialParams)
	encoded, err := cbor.Encode(auth.lastMakeCredentialParams)
	require.NoError(t, err)
	decoded, _, err := cbor.Decode(encoded)
	require.NoError(t, err)
	decodedMap, ok := decoded.(*cbor.Map)
	require.True(t, ok)

	var keys []int64
	for _, e := range decodedMap.Entries {
		k, ok := cbor.AsInt64(e.Key)
		require.True(t, ok)
		keys = append(keys, k)
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, keys)

	extV, ok := decodedMap.Get(int64(6))
	require.True(t, ok)
	extMap, ok := extV.(*cbor.Map)
	require.True(t, ok)
	policy, ok := extMap.Get("credProtect")
	require.True(t, ok)
	require.Equal(t, int64(3), policy)

	require.NotNil(t, cred.ClientExtensionResults)
	echoed, ok := cred.ClientExtensionResults.Get("credProtect")
	require.True(t, ok)
	require.Equal(t, int64(3), echoed)
}

func TestMakeCredentialFailsWhenUVRequiredWithoutPIN(t *testing.T) {
	auth := newFakeAuthenticator(t, testInfo())
	client := NewClient(auth, nil, nil)

	_, err := client.MakeCredential(MakeCredentialOptions{
		RP:                     RelyingParty{ID: "example.com"},
		User:                   User{ID: []byte("u")},
		Challenge:              make([]byte, 16),
		PubKeyCredParams:       []CredentialParameter{{Type: "public-key", Alg: -7}},
		AuthenticatorSelection: AuthenticatorSelection{UserVerification: "required"},
	})
	require.Error(t, err)
}

func TestGetAssertionWithoutAllowListReturnsDiscoverableCredential(t *testing.T) {
	auth := newFakeAuthenticator(t, testInfo())
	credID := []byte{0x01, 0x02, 0x03}
	auth.getAssertionResp = cbor.NewMap(
		int64(1), cbor.NewMap("id", credID, "type", "public-key"),
		int64(2), buildAuthData(t, nil, nil),
		int64(3), []byte("sig"),
		int64(4), cbor.NewMap("id", []byte("user1")),
	)

	client := NewClient(auth, nil, nil)
	cred, err := client.GetAssertion(GetAssertionOptions{
		RPID:      "example.com",
		Challenge: make([]byte, 16),
		Origin:    "https://example.com",
	})
	require.NoError(t, err)
	require.Equal(t, credID, cred.ID)
	require.Equal(t, []byte("sig"), cred.Signature)
	require.Equal(t, []byte("user1"), cred.UserHandle)
}
