package ctapext

import (
	"github.com/gravitational/trace"

	"scauthcore/cbor"
	"scauthcore/pinuv"
)

// CredProps implements the credProps extension, spec §4.I: on create, if
// the WebAuthn input is `true`, the authenticator contributes nothing and
// the client output reflects whether a resident key was created (decided
// by the caller via Resident, set after the authenticatorMakeCredential
// call returns).
type CredProps struct {
	// Resident is set by the caller (webauthncli) before ProcessOutput
	// runs, reporting whether the created credential is discoverable.
	Resident bool
}

func (e *CredProps) Name() string { return "credProps" }

func (e *CredProps) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	if !isCreate {
		return nil, nil
	}
	if b, ok := input.(bool); ok {
		state["requested"] = b
	}
	return nil, nil // credProps never reaches the authenticator wire
}

func (e *CredProps) ProcessOutput(isCreate bool, _ cbor.Value, state State) (cbor.Value, error) {
	if !isCreate {
		return nil, nil
	}
	if requested, _ := state["requested"].(bool); !requested {
		return nil, nil
	}
	return cbor.NewMap("rk", e.Resident), nil
}

// CredProtect implements the credentialProtectionPolicy extension, spec
// §4.I: the WebAuthn-level string enum maps to the authenticator's
// numeric credProtect level, and is echoed back from authData unchanged.
type CredProtect struct{}

func (e *CredProtect) Name() string { return "credProtect" }

var credProtectLevels = map[string]int64{
	"userVerificationOptional":           1,
	"userVerificationOptionalWithCredentialIDList": 2,
	"userVerificationRequired":           3,
}

func (e *CredProtect) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	if !isCreate {
		return nil, nil
	}
	name, ok := input.(string)
	if !ok {
		return nil, trace.BadParameter("ctapext: credProtect input must be a string policy name")
	}
	level, ok := credProtectLevels[name]
	if !ok {
		return nil, trace.BadParameter("ctapext: unknown credentialProtectionPolicy %q", name)
	}
	return level, nil
}

func (e *CredProtect) ProcessOutput(isCreate bool, authOutput cbor.Value, state State) (cbor.Value, error) {
	if !isCreate || authOutput == nil {
		return nil, nil
	}
	return authOutput, nil
}

// CredBlob implements the credBlob extension, spec §4.I.
type CredBlob struct{}

func (e *CredBlob) Name() string { return "credBlob" }

func (e *CredBlob) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	if isCreate {
		blob, ok := input.([]byte)
		if !ok || len(blob) > 32 {
			return nil, trace.BadParameter("ctapext: credBlob must be at most 32 bytes")
		}
		return blob, nil
	}
	if want, _ := input.(bool); want {
		return true, nil
	}
	return nil, nil
}

func (e *CredBlob) ProcessOutput(isCreate bool, authOutput cbor.Value, state State) (cbor.Value, error) {
	return authOutput, nil
}

// MinPinLength implements the minPinLength extension, spec §4.I.
type MinPinLength struct{}

func (e *MinPinLength) Name() string { return "minPinLength" }

func (e *MinPinLength) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	if !isCreate {
		return nil, nil
	}
	if want, _ := input.(bool); want {
		return true, nil
	}
	return nil, nil
}

func (e *MinPinLength) ProcessOutput(isCreate bool, authOutput cbor.Value, state State) (cbor.Value, error) {
	if !isCreate || authOutput == nil {
		return nil, nil
	}
	return authOutput, nil
}

// ThirdPartyPayment implements the thirdPartyPayment extension, spec §4.I.
type ThirdPartyPayment struct{}

func (e *ThirdPartyPayment) Name() string { return "thirdPartyPayment" }

func (e *ThirdPartyPayment) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	if isCreate {
		return true, nil
	}
	m, ok := input.(*cbor.Map)
	if !ok {
		return nil, nil
	}
	if isPayment, _ := m.Get("isPayment"); isPayment == true {
		return true, nil
	}
	return nil, nil
}

func (e *ThirdPartyPayment) ProcessOutput(isCreate bool, authOutput cbor.Value, state State) (cbor.Value, error) {
	return authOutput, nil
}

// sharedSecretCrypto is implemented by extensions that need the PIN/UV
// key-agreement shared secret to encrypt/decrypt their CTAP2 payload
// (hmac-secret, prf, sign), spec §4.I. The caller (webauthncli) performs
// the authenticatorClientPIN getKeyAgreement round trip once per request
// and injects the result here.
type sharedSecretCrypto struct {
	Protocol     *pinuv.Protocol
	SharedSecret []byte
	PlatformKey  cbor.Value // COSE key map to send as keyAgreement
}

// HMACSecret implements hmac-secret / hmac-secret-mc, spec §4.I.
type HMACSecret struct {
	sharedSecretCrypto
}

// Configure injects the key-agreement material this extension needs for
// getAssertion; required only when the "get" input carries salts.
func (e *HMACSecret) Configure(proto *pinuv.Protocol, sharedSecret []byte, platformKey cbor.Value) {
	e.Protocol, e.SharedSecret, e.PlatformKey = proto, sharedSecret, platformKey
}

func (e *HMACSecret) Name() string { return "hmac-secret" }

func (e *HMACSecret) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	if isCreate {
		if want, _ := input.(bool); want {
			return true, nil
		}
		return nil, nil
	}

	m, ok := input.(*cbor.Map)
	if !ok {
		return nil, nil
	}
	salt1v, ok := m.Get("salt1")
	if !ok {
		return nil, trace.BadParameter("ctapext: hmac-secret get requires salt1")
	}
	salt1, ok := salt1v.([]byte)
	if !ok || len(salt1) != 32 {
		return nil, trace.BadParameter("ctapext: hmac-secret salt1 must be 32 bytes")
	}
	salts := append([]byte{}, salt1...)
	if salt2v, ok := m.Get("salt2"); ok {
		salt2, ok := salt2v.([]byte)
		if !ok || len(salt2) != 32 {
			return nil, trace.BadParameter("ctapext: hmac-secret salt2 must be 32 bytes")
		}
		salts = append(salts, salt2...)
		state["twoSalts"] = true
	}

	if e.Protocol == nil {
		return nil, trace.BadParameter("ctapext: hmac-secret requires key agreement to be configured")
	}
	saltEnc, err := e.Protocol.Encrypt(e.SharedSecret, salts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	saltAuth := e.Protocol.Authenticate(e.SharedSecret, saltEnc)

	return cbor.NewMap(
		int64(1), e.PlatformKey,
		int64(2), saltEnc,
		int64(3), saltAuth,
	), nil
}

func (e *HMACSecret) ProcessOutput(isCreate bool, authOutput cbor.Value, state State) (cbor.Value, error) {
	if isCreate {
		if v, ok := authOutput.(bool); ok {
			return v, nil
		}
		return nil, nil
	}
	enc, ok := authOutput.([]byte)
	if !ok {
		return nil, nil
	}
	if e.Protocol == nil {
		return nil, trace.BadParameter("ctapext: hmac-secret output requires key agreement to be configured")
	}
	plain, err := e.Protocol.Decrypt(e.SharedSecret, enc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := cbor.NewMap()
	if len(plain) >= 32 {
		out.Entries = append(out.Entries, cbor.MapEntry{Key: "output1", Val: plain[:32]})
	}
	if len(plain) >= 64 {
		out.Entries = append(out.Entries, cbor.MapEntry{Key: "output2", Val: plain[32:64]})
	}
	return out, nil
}

// PRF implements the prf extension, spec §4.I, layered on hmac-secret:
// at getAssertion time, `eval.first/second` become salt1/salt2 directly.
// A create-time `eval` is accepted by the authenticatorMakeCredential
// input schema but is not evaluated there (no authenticator round-trip
// corresponds to it at create); this layer only enables the extension
// on create and defers all salt evaluation to getAssertion, so a
// create-time eval has no effect and is not carried forward.
type PRF struct {
	sharedSecretCrypto
	hmac HMACSecret
}

// Configure injects key-agreement material, mirroring HMACSecret.Configure.
func (e *PRF) Configure(proto *pinuv.Protocol, sharedSecret []byte, platformKey cbor.Value) {
	e.Protocol, e.SharedSecret, e.PlatformKey = proto, sharedSecret, platformKey
	e.hmac.Configure(proto, sharedSecret, platformKey)
}

func (e *PRF) Name() string { return "prf" }

func (e *PRF) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	if isCreate {
		// Create-time prf input only enables the extension for this
		// credential; any eval it carries is not evaluated here and must
		// be resent at getAssertion time.
		return nil, nil
	}

	m, ok := input.(*cbor.Map)
	if !ok {
		return nil, nil
	}
	evalV, ok := m.Get("eval")
	if !ok {
		return nil, nil
	}
	evalMap, ok := evalV.(*cbor.Map)
	if !ok {
		return nil, trace.BadParameter("ctapext: prf eval must be a map")
	}
	firstV, ok := evalMap.Get("first")
	if !ok {
		return nil, trace.BadParameter("ctapext: prf eval.first is required")
	}
	first, ok := firstV.([]byte)
	if !ok {
		return nil, trace.BadParameter("ctapext: prf eval.first must be bytes")
	}

	hmacInput := cbor.NewMap("salt1", first)
	if secondV, ok := evalMap.Get("second"); ok {
		if second, ok := secondV.([]byte); ok {
			hmacInput.Entries = append(hmacInput.Entries, cbor.MapEntry{Key: "salt2", Val: second})
			state["twoSalts"] = true
		}
	}
	return e.hmac.ProcessInput(false, hmacInput, state)
}

func (e *PRF) ProcessOutput(isCreate bool, authOutput cbor.Value, state State) (cbor.Value, error) {
	if isCreate {
		return cbor.NewMap("enabled", true), nil
	}
	hmacOut, err := e.hmac.ProcessOutput(false, authOutput, state)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m, ok := hmacOut.(*cbor.Map)
	if !ok {
		return cbor.NewMap("enabled", true), nil
	}
	results := cbor.NewMap()
	if v, ok := m.Get("output1"); ok {
		results.Entries = append(results.Entries, cbor.MapEntry{Key: "first", Val: v})
	}
	if v, ok := m.Get("output2"); ok {
		results.Entries = append(results.Entries, cbor.MapEntry{Key: "second", Val: v})
	}
	return cbor.NewMap("enabled", true, "results", results), nil
}

// LargeBlob implements the largeBlob extension, spec §4.I. Storage and
// retrieval go through the authenticatorLargeBlobs command, which is out
// of this extension's scope (it only negotiates support and marks
// client-side read/write intent for the caller to act on); Supported is
// set by the caller from authenticatorGetInfo's options before use.
type LargeBlob struct {
	Supported bool
}

func (e *LargeBlob) Name() string { return "largeBlob" }

func (e *LargeBlob) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	if isCreate {
		m, ok := input.(*cbor.Map)
		if !ok {
			return nil, nil
		}
		if support, _ := m.Get("support"); support != nil {
			state["requested"] = true
		}
		return nil, nil // largeBlob support is negotiated client-side only
	}
	return nil, nil // read/write handled directly against authenticatorLargeBlobs by the caller
}

func (e *LargeBlob) ProcessOutput(isCreate bool, authOutput cbor.Value, state State) (cbor.Value, error) {
	if !isCreate {
		return nil, nil
	}
	if requested, _ := state["requested"].(bool); !requested {
		return nil, nil
	}
	return cbor.NewMap("supported", e.Supported), nil
}

// Sign implements the sign extension, spec §4.I: generateKey at create
// time, sign at get time. The authenticator performs the actual key
// generation/signing; this extension only shapes the wire maps.
type Sign struct{}

func (e *Sign) Name() string { return "sign" }

func (e *Sign) ProcessInput(isCreate bool, input cbor.Value, state State) (cbor.Value, error) {
	m, ok := input.(*cbor.Map)
	if !ok {
		return nil, nil
	}
	if isCreate {
		genV, ok := m.Get("generateKey")
		if !ok {
			return nil, nil
		}
		return cbor.NewMap("generateKey", genV), nil
	}
	signV, ok := m.Get("sign")
	if !ok {
		return nil, nil
	}
	return cbor.NewMap("sign", signV), nil
}

func (e *Sign) ProcessOutput(isCreate bool, authOutput cbor.Value, state State) (cbor.Value, error) {
	return authOutput, nil
}
