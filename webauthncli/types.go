// Package webauthncli implements a WebAuthn Level 2 basic client atop a
// CTAP2 session: makeCredential/getAssertion orchestration, allow/exclude
// list preprocessing, and chunked allow-list resolution for authenticators
// with a small maxCredentialCountInList (spec §4.H).
package webauthncli

import "scauthcore/cbor"

// RelyingParty is a PublicKeyCredentialRpEntity.
type RelyingParty struct {
	ID   string
	Name string
}

func (rp RelyingParty) toCBOR() *cbor.Map {
	m := cbor.NewMap("id", rp.ID)
	if rp.Name != "" {
		m.Entries = append(m.Entries, cbor.MapEntry{Key: "name", Val: rp.Name})
	}
	return m
}

// User is a PublicKeyCredentialUserEntity.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
}

func (u User) toCBOR() *cbor.Map {
	m := cbor.NewMap("id", u.ID)
	if u.Name != "" {
		m.Entries = append(m.Entries, cbor.MapEntry{Key: "name", Val: u.Name})
	}
	if u.DisplayName != "" {
		m.Entries = append(m.Entries, cbor.MapEntry{Key: "displayName", Val: u.DisplayName})
	}
	return m
}

// CredentialParameter is a PublicKeyCredentialParameters entry.
type CredentialParameter struct {
	Type string // always "public-key"
	Alg  int64  // COSEAlgorithmIdentifier
}

func (p CredentialParameter) toCBOR() *cbor.Map {
	return cbor.NewMap("alg", p.Alg, "type", p.Type)
}

// Descriptor is a PublicKeyCredentialDescriptor (allow/exclude list entry).
// Transports is accepted on input but always dropped before reaching the
// authenticator, spec §4.H-Preprocess.
type Descriptor struct {
	Type       string // always "public-key"
	ID         []byte
	Transports []string
}

func (d Descriptor) toCBOR() *cbor.Map {
	return cbor.NewMap("id", d.ID, "type", d.Type)
}

// AuthenticatorSelection mirrors AuthenticatorSelectionCriteria.
type AuthenticatorSelection struct {
	ResidentKey             string // "required" | "preferred" | "discouraged" | ""
	RequireResidentKey      bool
	UserVerification        string // "required" | "preferred" | "discouraged" | ""
	AuthenticatorAttachment string
}

func (s AuthenticatorSelection) wantsResidentKey() bool {
	return s.ResidentKey == "required" || s.RequireResidentKey
}

func (s AuthenticatorSelection) wantsUserVerification() bool {
	return s.UserVerification == "required"
}

// MakeCredentialOptions are the WebAuthn-level inputs to MakeCredential,
// spec §4.H.
type MakeCredentialOptions struct {
	RP                     RelyingParty
	User                   User
	Challenge              []byte
	Origin                 string
	PubKeyCredParams       []CredentialParameter
	ExcludeCredentials     []Descriptor
	AuthenticatorSelection AuthenticatorSelection
	Attestation            string
	Extensions             *cbor.Map // WebAuthn-level extension inputs, keyed by extension name
	PIN                    string
}

// GetAssertionOptions are the WebAuthn-level inputs to GetAssertion.
type GetAssertionOptions struct {
	RPID             string
	Challenge        []byte
	Origin           string
	AllowCredentials []Descriptor
	UserVerification string
	Extensions       *cbor.Map
	PIN              string
}

// PublicKeyCredential is the WebAuthn result of a make-credential or
// get-assertion call, spec §4.H step 9.
type PublicKeyCredential struct {
	ID                    []byte
	RawID                 []byte
	AttestationObject     []byte // make-credential only
	AuthenticatorData     []byte // get-assertion only
	Signature             []byte // get-assertion only
	UserHandle            []byte // get-assertion only
	ClientDataJSON        []byte
	Transports            []string
	ClientExtensionResults *cbor.Map
}
