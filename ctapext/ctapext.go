// Package ctapext implements the CTAP2 extension pipeline: a registry of
// named extensions, each contributing to the authenticator-level extension
// map on input and interpreting the authenticator's echoed output (spec
// §4.I).
package ctapext

import (
	"github.com/gravitational/trace"

	"scauthcore/cbor"
)

// State carries one extension's client-side bookkeeping across the
// create/get lifecycle (e.g. a pending hmac-secret salt or PRF eval
// request), opaque to everything except the extension that produced it.
type State map[string]cbor.Value

// Extension is one registered CTAP2 extension, spec §4.I.
type Extension interface {
	Name() string

	// ProcessInput contributes this extension's entry (if any) to the
	// authenticator-level extension map, given the WebAuthn-level input
	// under this extension's name. Returns (nil, nil) when the
	// extension has nothing to contribute.
	ProcessInput(isCreate bool, input cbor.Value, state State) (authenticatorValue cbor.Value, err error)

	// ProcessOutput interprets the authenticator's echoed extension
	// output (authData extensions map entry) into a client extension
	// result, or (nil, nil) when this extension produced no output.
	ProcessOutput(isCreate bool, authenticatorOutput cbor.Value, state State) (clientValue cbor.Value, err error)
}

// Registry holds extensions in registration order; ProcessInputs and
// ProcessOutputs iterate in that same order, per spec §4.I ordering rule.
type Registry struct {
	extensions []Extension
	byName     map[string]Extension
}

// NewRegistry builds a Registry from a fixed extension set.
func NewRegistry(extensions ...Extension) *Registry {
	r := &Registry{byName: map[string]Extension{}}
	for _, e := range extensions {
		r.extensions = append(r.extensions, e)
		r.byName[e.Name()] = e
	}
	return r
}

// Default builds the Registry of all extensions this core supports,
// spec §4.I.
func Default() *Registry {
	return NewRegistry(
		&CredProps{},
		&CredProtect{},
		&CredBlob{},
		&MinPinLength{},
		&HMACSecret{},
		&LargeBlob{},
		&PRF{},
		&Sign{},
		&ThirdPartyPayment{},
	)
}

// ProcessInputs runs ProcessInput for every registered extension whose
// name appears in inputs, in registration order, and returns the
// authenticator-level extension map plus the per-extension state to carry
// into ProcessOutputs.
func (r *Registry) ProcessInputs(isCreate bool, inputs *cbor.Map) (*cbor.Map, map[string]State, error) {
	authExt := cbor.NewMap()
	states := map[string]State{}

	for _, ext := range r.extensions {
		input, present := inputs.Get(ext.Name())
		if !present {
			continue
		}
		state := State{}
		value, err := ext.ProcessInput(isCreate, input, state)
		if err != nil {
			return nil, nil, trace.Wrap(err, "ctapext: %s processInput failed", ext.Name())
		}
		states[ext.Name()] = state
		if value != nil {
			authExt.Entries = append(authExt.Entries, cbor.MapEntry{Key: ext.Name(), Val: value})
		}
	}
	return authExt, states, nil
}

// ProcessOutputs runs ProcessOutput for every extension that produced
// state during ProcessInputs, using the authenticator's echoed extension
// map (authData's extensions field, already CBOR-decoded).
func (r *Registry) ProcessOutputs(isCreate bool, authenticatorExt *cbor.Map, states map[string]State) (*cbor.Map, error) {
	clientExt := cbor.NewMap()
	for _, ext := range r.extensions {
		state, ran := states[ext.Name()]
		if !ran {
			continue
		}
		var rawOutput cbor.Value
		if authenticatorExt != nil {
			rawOutput, _ = authenticatorExt.Get(ext.Name())
		}
		value, err := ext.ProcessOutput(isCreate, rawOutput, state)
		if err != nil {
			return nil, trace.Wrap(err, "ctapext: %s processOutput failed", ext.Name())
		}
		if value != nil {
			clientExt.Entries = append(clientExt.Entries, cbor.MapEntry{Key: ext.Name(), Val: value})
		}
	}
	return clientExt, nil
}
