// Package management implements the CTAP2 management surfaces — ClientPin,
// CredentialManagement, Config and BioEnrollment — layered atop ctap2 and
// pinuv (spec §4.J). Every operation here requires a PIN/UV token carrying
// the matching permission bit, acquired through ClientPin.GetPinToken.
package management

import (
	"errors"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"scauthcore/cbor"
	"scauthcore/ctap2"
	"scauthcore/pinuv"
	"scauthcore/xcrypto"
)

// lowPinRetriesThreshold is where we start warning that a wrong guess risks
// a PIN block (CTAP2 devices typically reset pinUvAuthToken state below 3).
const lowPinRetriesThreshold = 3

// sender is the ctap2.Session surface this package drives.
type sender interface {
	ClientPin(params *cbor.Map) (*cbor.Map, error)
	CredentialManagement(params *cbor.Map) (*cbor.Map, error)
	Config(params *cbor.Map) (*cbor.Map, error)
	BioEnrollment(params *cbor.Map) (*cbor.Map, error)
}

// ClientPin drives authenticatorClientPin's PIN-lifecycle subcommands,
// spec §4.J/§4.G.
type ClientPin struct {
	s       sender
	version pinuv.Version
}

// NewClientPin returns a ClientPin surface bound to the given session and
// negotiated PIN/UV protocol version.
func NewClientPin(s sender, version pinuv.Version) *ClientPin {
	return &ClientPin{s: s, version: version}
}

// SetPin sets the authenticator's PIN for the first time. newPin must
// satisfy pinuv.ValidatePinLength once padded.
func (c *ClientPin) SetPin(newPin string) error {
	padded, err := pinuv.PreparePin(newPin, true)
	if err != nil {
		return trace.Wrap(err)
	}

	peer, err := pinuv.GetKeyAgreement(c.s, c.version)
	if err != nil {
		return trace.Wrap(err)
	}
	proto := pinuv.New(c.version)
	enc, err := proto.Encapsulate(peer)
	if err != nil {
		return trace.Wrap(err)
	}

	newPinEnc, err := proto.Encrypt(enc.SharedSecret, padded)
	if err != nil {
		return trace.Wrap(err)
	}
	pinAuth := proto.Authenticate(enc.SharedSecret, newPinEnc)

	_, err = c.s.ClientPin(cbor.NewMap(
		int64(1), int64(c.version),
		int64(2), int64(0x03), // setPin
		int64(3), enc.PlatformPublicKey,
		int64(4), pinAuth,
		int64(5), newPinEnc,
	))
	return trace.Wrap(err)
}

// ChangePin replaces an existing PIN, authenticated by the old one.
func (c *ClientPin) ChangePin(oldPin, newPin string) error {
	paddedNew, err := pinuv.PreparePin(newPin, true)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := pinuv.ValidatePinLength(oldPin); err != nil {
		return trace.Wrap(err)
	}

	peer, err := pinuv.GetKeyAgreement(c.s, c.version)
	if err != nil {
		return trace.Wrap(err)
	}
	proto := pinuv.New(c.version)
	enc, err := proto.Encapsulate(peer)
	if err != nil {
		return trace.Wrap(err)
	}

	newPinEnc, err := proto.Encrypt(enc.SharedSecret, paddedNew)
	if err != nil {
		return trace.Wrap(err)
	}
	oldPinHash := xcrypto.SHA256([]byte(oldPin))[:16]
	oldPinHashEnc, err := proto.Encrypt(enc.SharedSecret, oldPinHash)
	if err != nil {
		return trace.Wrap(err)
	}
	pinAuth := proto.Authenticate(enc.SharedSecret, append(append([]byte{}, newPinEnc...), oldPinHashEnc...))

	_, err = c.s.ClientPin(cbor.NewMap(
		int64(1), int64(c.version),
		int64(2), int64(0x04), // changePin
		int64(3), enc.PlatformPublicKey,
		int64(4), pinAuth,
		int64(5), newPinEnc,
		int64(6), oldPinHashEnc,
	))
	return trace.Wrap(err)
}

// GetPinRetries returns the authenticator's remaining PIN retry count.
func (c *ClientPin) GetPinRetries() (int64, error) {
	retries, err := pinuv.GetPinRetries(c.s, c.version)
	if err == nil && retries <= lowPinRetriesThreshold {
		logrus.Warnf("management: %d PIN retries remaining before lockout", retries)
	}
	return retries, err
}

// GetPinToken acquires a pinUvAuthToken bound to permissions and,
// optionally, an rpID, spec §4.G.
func (c *ClientPin) GetPinToken(pin string, permissions byte, rpID string) (*pinuv.Token, error) {
	return pinuv.GetPinToken(c.s, c.version, pin, permissions, rpID)
}

// CredentialManagement drives authenticatorCredentialManagement, spec
// §4.J: resident-key enumeration and deletion. Every call is authenticated
// with a token carrying PermCredentialManagement.
type CredentialManagement struct {
	s     sender
	token *pinuv.Token
}

// NewCredentialManagement binds a token acquired with PermCredentialManagement.
func NewCredentialManagement(s sender, token *pinuv.Token) *CredentialManagement {
	return &CredentialManagement{s: s, token: token}
}

// credentialManagement subcommand codes, CTAP2 §6.8.
const (
	cmGetCredsMetadata      int64 = 0x01
	cmEnumerateRPsBegin     int64 = 0x02
	cmEnumerateRPsNext      int64 = 0x03
	cmEnumerateCredsBegin   int64 = 0x04
	cmEnumerateCredsNext    int64 = 0x05
	cmDeleteCredential      int64 = 0x06
	cmUpdateUserInformation int64 = 0x07
)

func (c *CredentialManagement) authParams(subCmd int64, subCmdParams *cbor.Map) (*cbor.Map, error) {
	params := cbor.NewMap(int64(1), subCmd)
	var paramBytes []byte
	if subCmdParams != nil {
		params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(2), Val: subCmdParams})
		encoded, err := cbor.Encode(subCmdParams)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		paramBytes = encoded
	}
	pinAuthInput := append([]byte{byte(subCmd)}, paramBytes...)
	pinAuth := c.token.Protocol.Authenticate(c.token.Bytes, pinAuthInput)
	params.Entries = append(params.Entries,
		cbor.MapEntry{Key: int64(3), Val: int64(c.token.Protocol.Version())},
		cbor.MapEntry{Key: int64(4), Val: pinAuth},
	)
	return params, nil
}

// GetMetadata returns existingResidentCredentialsCount and
// maxPossibleRemainingResidentCredentialsCount.
func (c *CredentialManagement) GetMetadata() (*cbor.Map, error) {
	params, err := c.authParams(cmGetCredsMetadata, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return c.s.CredentialManagement(params)
}

// EnumerateRPs returns every RP with at least one resident credential.
func (c *CredentialManagement) EnumerateRPs() ([]*cbor.Map, error) {
	params, err := c.authParams(cmEnumerateRPsBegin, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	first, err := c.s.CredentialManagement(params)
	if err != nil {
		if isNoCredentials(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	results := []*cbor.Map{first}
	total := int64(0)
	if v, ok := first.Get(int64(4)); ok {
		total, _ = cbor.AsInt64(v)
	}
	for i := int64(1); i < total; i++ {
		next, err := c.s.CredentialManagement(cbor.NewMap(int64(1), cmEnumerateRPsNext))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		results = append(results, next)
	}
	return results, nil
}

// EnumerateCredentials returns every resident credential for the RP whose
// SHA-256(rpId) is rpIDHash.
func (c *CredentialManagement) EnumerateCredentials(rpIDHash []byte) ([]*cbor.Map, error) {
	params, err := c.authParams(cmEnumerateCredsBegin, cbor.NewMap(int64(1), rpIDHash))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	first, err := c.s.CredentialManagement(params)
	if err != nil {
		if isNoCredentials(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	results := []*cbor.Map{first}
	total := int64(0)
	if v, ok := first.Get(int64(9)); ok {
		total, _ = cbor.AsInt64(v)
	}
	for i := int64(1); i < total; i++ {
		next, err := c.s.CredentialManagement(cbor.NewMap(int64(1), cmEnumerateCredsNext))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		results = append(results, next)
	}
	return results, nil
}

// DeleteCredential removes one resident credential by its PublicKeyCredentialDescriptor.
func (c *CredentialManagement) DeleteCredential(credentialID *cbor.Map) error {
	params, err := c.authParams(cmDeleteCredential, cbor.NewMap(int64(2), credentialID))
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = c.s.CredentialManagement(params)
	return trace.Wrap(err)
}

// UpdateUserInformation updates the stored user entity for one credential.
func (c *CredentialManagement) UpdateUserInformation(credentialID, user *cbor.Map) error {
	params, err := c.authParams(cmUpdateUserInformation, cbor.NewMap(int64(2), credentialID, int64(3), user))
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = c.s.CredentialManagement(params)
	return trace.Wrap(err)
}

// isNoCredentials reports whether err is CTAP2_ERR_NO_CREDENTIALS, the
// status an empty RP/credential enumeration returns instead of an empty list.
func isNoCredentials(err error) bool {
	var ctapErr *ctap2.Error
	return errors.As(err, &ctapErr) && ctapErr.Status == ctap2.StatusNoCredentials
}

// Config drives authenticatorConfig, spec §4.J. Every call requires a
// token carrying PermAuthenticatorConfig.
type Config struct {
	s     sender
	token *pinuv.Token
}

// NewConfig binds a token acquired with PermAuthenticatorConfig.
func NewConfig(s sender, token *pinuv.Token) *Config {
	return &Config{s: s, token: token}
}

// authenticatorConfig subcommand codes, CTAP2 §6.11.
const (
	configEnableEnterpriseAttestation int64 = 0x01
	configToggleAlwaysUv              int64 = 0x02
	configSetMinPinLength             int64 = 0x03
)

func (c *Config) authParams(subCmd int64, subCmdParams *cbor.Map) (*cbor.Map, error) {
	params := cbor.NewMap(int64(1), subCmd)
	var paramBytes []byte
	if subCmdParams != nil {
		params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(2), Val: subCmdParams})
		encoded, err := cbor.Encode(subCmdParams)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		paramBytes = encoded
	}
	// CTAP2 authenticatorConfig binds pinUvAuthParam over 0xFF ‖ 0x01 (a
	// constant prefix, the command's own byte code 0x0D is not part of
	// it) ‖ subCommand ‖ subCommandParams, CTAP2 §6.11.
	authInput := append([]byte{0xFF, 0x01, byte(subCmd)}, paramBytes...)
	pinAuth := c.token.Protocol.Authenticate(c.token.Bytes, authInput)
	params.Entries = append(params.Entries,
		cbor.MapEntry{Key: int64(3), Val: int64(c.token.Protocol.Version())},
		cbor.MapEntry{Key: int64(4), Val: pinAuth},
	)
	return params, nil
}

// EnableEnterpriseAttestation permanently enables enterprise attestation.
func (c *Config) EnableEnterpriseAttestation() error {
	params, err := c.authParams(configEnableEnterpriseAttestation, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = c.s.Config(params)
	return trace.Wrap(err)
}

// ToggleAlwaysUv flips the authenticator's alwaysUv option.
func (c *Config) ToggleAlwaysUv() error {
	params, err := c.authParams(configToggleAlwaysUv, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = c.s.Config(params)
	return trace.Wrap(err)
}

// SetMinPinLength sets a new minimum PIN length and/or RP IDs allowed to
// read minPinLength, optionally forcing a PIN change on next use.
func (c *Config) SetMinPinLength(length *int64, rpIDs []string, forceChange bool) error {
	sub := cbor.NewMap()
	if length != nil {
		sub.Entries = append(sub.Entries, cbor.MapEntry{Key: int64(1), Val: *length})
	}
	if len(rpIDs) > 0 {
		values := make([]cbor.Value, len(rpIDs))
		for i, id := range rpIDs {
			values[i] = id
		}
		sub.Entries = append(sub.Entries, cbor.MapEntry{Key: int64(2), Val: values})
	}
	if forceChange {
		sub.Entries = append(sub.Entries, cbor.MapEntry{Key: int64(3), Val: true})
	}
	params, err := c.authParams(configSetMinPinLength, sub)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = c.s.Config(params)
	return trace.Wrap(err)
}

// BioEnrollment drives authenticatorBioEnrollment, spec §4.J. Every call
// requires a token carrying PermBioEnrollment.
type BioEnrollment struct {
	s     sender
	token *pinuv.Token
}

// NewBioEnrollment binds a token acquired with PermBioEnrollment.
func NewBioEnrollment(s sender, token *pinuv.Token) *BioEnrollment {
	return &BioEnrollment{s: s, token: token}
}

// authenticatorBioEnrollment subcommand codes, CTAP2 §6.7.
const (
	bioEnrollBegin          int64 = 0x01
	bioEnrollCaptureNext    int64 = 0x02
	bioEnrollCancel         int64 = 0x03
	bioEnumerateEnrollments int64 = 0x04
	bioSetFriendlyName      int64 = 0x05
	bioRemoveEnrollment     int64 = 0x06
)

func (b *BioEnrollment) authParams(modality int64, subCmd int64, subCmdParams *cbor.Map) (*cbor.Map, error) {
	params := cbor.NewMap()
	if modality != 0 {
		params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(1), Val: modality})
	}
	params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(2), Val: subCmd})
	var paramBytes []byte
	if subCmdParams != nil {
		params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(3), Val: subCmdParams})
		encoded, err := cbor.Encode(subCmdParams)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		paramBytes = encoded
	}
	authInput := append([]byte{byte(subCmd)}, paramBytes...)
	pinAuth := b.token.Protocol.Authenticate(b.token.Bytes, authInput)
	params.Entries = append(params.Entries,
		cbor.MapEntry{Key: int64(4), Val: int64(b.token.Protocol.Version())},
		cbor.MapEntry{Key: int64(5), Val: pinAuth},
	)
	return params, nil
}

// EnrollBegin starts a new fingerprint enrollment, returning the
// authenticator's first capture-sample response.
func (b *BioEnrollment) EnrollBegin(timeoutMS int64) (*cbor.Map, error) {
	sub := cbor.Map{}
	if timeoutMS > 0 {
		sub.Entries = append(sub.Entries, cbor.MapEntry{Key: int64(3), Val: timeoutMS})
	}
	params, err := b.authParams(1, bioEnrollBegin, &sub)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return b.s.BioEnrollment(params)
}

// EnrollContinue captures the next sample of an enrollment in progress.
func (b *BioEnrollment) EnrollContinue(templateID []byte, timeoutMS int64) (*cbor.Map, error) {
	sub := cbor.NewMap(int64(2), templateID)
	if timeoutMS > 0 {
		sub.Entries = append(sub.Entries, cbor.MapEntry{Key: int64(3), Val: timeoutMS})
	}
	params, err := b.authParams(1, bioEnrollCaptureNext, sub)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return b.s.BioEnrollment(params)
}

// EnrollCancel aborts an in-progress enrollment.
func (b *BioEnrollment) EnrollCancel() error {
	params, err := b.authParams(1, bioEnrollCancel, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = b.s.BioEnrollment(params)
	return trace.Wrap(err)
}

// RemoveEnrollment deletes a stored fingerprint template.
func (b *BioEnrollment) RemoveEnrollment(templateID []byte) error {
	params, err := b.authParams(1, bioRemoveEnrollment, cbor.NewMap(int64(2), templateID))
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = b.s.BioEnrollment(params)
	return trace.Wrap(err)
}

// SetFriendlyName renames a stored fingerprint template.
func (b *BioEnrollment) SetFriendlyName(templateID []byte, name string) error {
	sub := cbor.NewMap(int64(2), templateID, int64(3), name)
	params, err := b.authParams(1, bioSetFriendlyName, sub)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = b.s.BioEnrollment(params)
	return trace.Wrap(err)
}
