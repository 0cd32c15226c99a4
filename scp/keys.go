// Package scp implements GlobalPlatform Secure Channel Protocol sessions:
// SCP03 (Amendment D, symmetric AES) and SCP11a/b/c (Amendment F,
// asymmetric EC). This file holds the key-material data model (spec §3,
// §4.D); session.go, scp03.go and scp11.go hold the handshake and
// command-wrap state machine (spec §4.E).
package scp

import (
	"crypto/ecdh"
	"crypto/x509"

	"github.com/gravitational/trace"

	"scauthcore/xcrypto"
)

// KeyRef uniquely identifies a card-side key slot (spec §3).
type KeyRef struct {
	KID byte
	KVN byte
}

// Bytes serializes the ref as its 2-byte wire pair.
func (r KeyRef) Bytes() [2]byte { return [2]byte{r.KID, r.KVN} }

// SCP11 key identifiers, GP Amendment F §3.
const (
	KID11a byte = 0x11
	KID11b byte = 0x13
	KID11c byte = 0x15
)

// StaticKeys holds the three SCP03 long-term AES-128 keys (spec §3). DEK is
// optional and required only for PUT KEY / key-import operations.
type StaticKeys struct {
	ENC []byte
	MAC []byte
	DEK []byte // optional
}

// Zero overwrites all three keys in place.
func (k *StaticKeys) Zero() {
	xcrypto.Zero(k.ENC)
	xcrypto.Zero(k.MAC)
	xcrypto.Zero(k.DEK)
}

// SessionKeys holds the four AES keys derived for a single session (spec
// §3). They never leave the session they were derived for.
type SessionKeys struct {
	SENC  []byte
	SMAC  []byte
	SRMAC []byte
	DEK   []byte // optional, present only when the static/derived key set carries one
}

// Zero overwrites all session keys in place.
func (k *SessionKeys) Zero() {
	xcrypto.Zero(k.SENC)
	xcrypto.Zero(k.SMAC)
	xcrypto.Zero(k.SRMAC)
	xcrypto.Zero(k.DEK)
}

// Variant distinguishes the two ScpKeyParams shapes.
type Variant int

const (
	VariantSCP03 Variant = iota
	VariantSCP11
)

// ScpKeyParams is the tagged variant described in spec §3. Exactly one of
// SCP03/SCP11 fields is populated, selected by Variant.
type ScpKeyParams struct {
	Variant Variant

	// SCP03 fields.
	KeyRef     KeyRef
	StaticKeys StaticKeys

	// SCP11 fields.
	PKSDECKA     *ecdh.PublicKey
	OCEKeyRef    *KeyRef
	SKOCEECKA    *ecdh.PrivateKey
	Certificates []*x509.Certificate
}

// NewSCP03Params builds and validates an SCP03 ScpKeyParams.
func NewSCP03Params(ref KeyRef, keys StaticKeys) (*ScpKeyParams, error) {
	if len(keys.ENC) != 16 || len(keys.MAC) != 16 {
		return nil, trace.BadParameter("scp03: ENC and MAC keys must be 16 bytes")
	}
	if keys.DEK != nil && len(keys.DEK) != 16 {
		return nil, trace.BadParameter("scp03: DEK key must be 16 bytes when present")
	}
	return &ScpKeyParams{Variant: VariantSCP03, KeyRef: ref, StaticKeys: keys}, nil
}

// NewSCP11Params builds and validates an SCP11 ScpKeyParams, enforcing the
// kid-dependent invariant from spec §3: SCP11b (kid 0x13) must carry no
// off-card-entity material; SCP11a/c (kid 0x11/0x15) must carry all of it.
func NewSCP11Params(ref KeyRef, pkSDECKA *ecdh.PublicKey, oceRef *KeyRef, skOCEECKA *ecdh.PrivateKey, certs []*x509.Certificate) (*ScpKeyParams, error) {
	if pkSDECKA == nil {
		return nil, trace.BadParameter("scp11: pk_sd_ecka is required")
	}
	switch ref.KID {
	case KID11b:
		if oceRef != nil || skOCEECKA != nil || len(certs) != 0 {
			return nil, trace.BadParameter("scp11b: oce_key_ref, sk_oce_ecka and certificates must all be absent")
		}
	case KID11a, KID11c:
		if oceRef == nil || skOCEECKA == nil || len(certs) == 0 {
			return nil, trace.BadParameter("scp11a/c: oce_key_ref, sk_oce_ecka and certificates must all be present")
		}
	default:
		return nil, trace.BadParameter("scp11: key ref kid must be one of 0x11, 0x13, 0x15, got 0x%02x", ref.KID)
	}
	return &ScpKeyParams{
		Variant:      VariantSCP11,
		KeyRef:       ref,
		PKSDECKA:     pkSDECKA,
		OCEKeyRef:    oceRef,
		SKOCEECKA:    skOCEECKA,
		Certificates: certs,
	}, nil
}

// scp11ControlParams reports which SCP11 control-reference params byte (control
// byte 0b00/01/11) applies to ref.KID, per spec §4.E step 2.
func scp11ControlParams(kid byte) (byte, error) {
	switch kid {
	case KID11b:
		return 0b00, nil
	case KID11a:
		return 0b01, nil
	case KID11c:
		return 0b11, nil
	default:
		return 0, trace.BadParameter("scp11: unknown kid 0x%02x", kid)
	}
}
