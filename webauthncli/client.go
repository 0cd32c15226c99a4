package webauthncli

import (
	"errors"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"scauthcore/cbor"
	"scauthcore/ctap2"
	"scauthcore/ctapext"
	"scauthcore/pinuv"
)

// session is the ctap2.Session surface the client drives.
type session interface {
	GetInfo(force bool) (*ctap2.Info, error)
	MakeCredential(params *cbor.Map) (*cbor.Map, error)
	GetAssertion(params *cbor.Map) (*cbor.Map, error)
	GetNextAssertion() (*cbor.Map, error)
	ClientPin(params *cbor.Map) (*cbor.Map, error)
}

// Client is a WebAuthn basic client bound to one CTAP2 session, spec §4.H.
type Client struct {
	session    session
	extensions *ctapext.Registry
	prompt     Prompt

	token *pinuv.Token // cached across one Client's lifetime only; never across disconnects
}

// NewClient binds a WebAuthn client to an open CTAP2 session. extensions
// defaults to ctapext.Default() when nil.
func NewClient(s session, extensions *ctapext.Registry, prompt Prompt) *Client {
	if extensions == nil {
		extensions = ctapext.Default()
	}
	return &Client{session: s, extensions: extensions, prompt: prompt}
}

// pinVersion picks the first PIN/UV protocol version the authenticator
// advertises, defaulting to v1 when none are listed (CTAP2.0 devices).
func pinVersion(info *ctap2.Info) pinuv.Version {
	if len(info.PinUvAuthProtocols) > 0 {
		return pinuv.Version(info.PinUvAuthProtocols[0])
	}
	return pinuv.V1
}

func (c *Client) acquireToken(permission byte, rpID string) (*pinuv.Token, error) {
	if c.prompt == nil {
		return nil, trace.BadParameter("webauthncli: PIN required but no Prompt configured")
	}
	pin, err := c.prompt.PromptPIN()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if pin == "" {
		return nil, trace.BadParameter("webauthncli: PIN entry cancelled")
	}
	info, err := c.session.GetInfo(false)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	token, err := pinuv.GetPinToken(c.session, pinVersion(info), pin, permission, rpID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	c.token = token
	return token, nil
}

func intersectAlgorithms(requested []CredentialParameter, supported []cbor.Value) []CredentialParameter {
	if len(supported) == 0 {
		return requested
	}
	allowed := map[int64]bool{}
	for _, s := range supported {
		m, ok := s.(*cbor.Map)
		if !ok {
			continue
		}
		if algV, ok := m.Get("alg"); ok {
			if alg, ok := cbor.AsInt64(algV); ok {
				allowed[alg] = true
			}
		}
	}
	var out []CredentialParameter
	for _, p := range requested {
		if allowed[p.Alg] {
			out = append(out, p)
		}
	}
	return out
}

// MakeCredential implements authenticatorMakeCredential orchestration,
// spec §4.H steps 1-9.
func (c *Client) MakeCredential(opts MakeCredentialOptions) (*PublicKeyCredential, error) {
	info, err := c.session.GetInfo(false)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	clientDataJSON, clientDataHash, err := buildClientData("webauthn.create", opts.Origin, opts.Challenge)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	algorithms := intersectAlgorithms(opts.PubKeyCredParams, info.Algorithms)
	if len(algorithms) == 0 {
		return nil, trace.BadParameter("webauthncli: no pubKeyCredParams entry matches an authenticator-supported algorithm")
	}
	pubKeyCredParams := make([]cbor.Value, len(algorithms))
	for i, p := range algorithms {
		pubKeyCredParams[i] = p.toCBOR()
	}

	options := cbor.Map{}
	if rk := opts.AuthenticatorSelection.wantsResidentKey(); rk {
		options.Entries = append(options.Entries, cbor.MapEntry{Key: "rk", Val: true})
	}
	uvRequired := opts.AuthenticatorSelection.wantsUserVerification()
	if uvRequired {
		options.Entries = append(options.Entries, cbor.MapEntry{Key: "uv", Val: true})
	}

	var maxCredLen *int64
	if info.MaxCredentialIDLength > 0 {
		maxCredLen = &info.MaxCredentialIDLength
	}
	excludeList := PreprocessDescriptors(opts.ExcludeCredentials, maxCredLen)
	excludeValues := make([]cbor.Value, len(excludeList))
	for i, d := range excludeList {
		excludeValues[i] = d.toCBOR()
	}

	inputs := opts.Extensions
	if inputs == nil {
		inputs = cbor.NewMap()
	}
	authExt, states, err := c.extensions.ProcessInputs(true, inputs)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	params := cbor.NewMap(
		int64(1), clientDataHash,
		int64(2), opts.RP.toCBOR(),
		int64(3), opts.User.toCBOR(),
		int64(4), pubKeyCredParams,
	)
	if len(excludeValues) > 0 {
		params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(5), Val: excludeValues})
	}
	if len(authExt.Entries) > 0 {
		params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(6), Val: authExt})
	}
	if len(options.Entries) > 0 {
		params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(7), Val: &options})
	}

	if uvRequired && opts.PIN == "" {
		return nil, trace.BadParameter("webauthncli: PinRequired")
	}

	attempted := false
	if opts.PIN != "" {
		token, err := pinuv.GetPinToken(c.session, pinVersion(info), opts.PIN, pinuv.PermMakeCredential, opts.RP.ID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		c.token = token
		pinAuth := token.Protocol.Authenticate(token.Bytes, clientDataHash)
		params.Entries = append(params.Entries,
			cbor.MapEntry{Key: int64(8), Val: pinAuth},
			cbor.MapEntry{Key: int64(9), Val: int64(token.Protocol.Version())},
		)
		attempted = true
	}

	resp, err := c.session.MakeCredential(params)
	if err != nil {
		var ctapErr *ctap2.Error
		if errors.As(err, &ctapErr) && ctapErr.Status == ctap2.StatusPinRequired && !attempted {
			logrus.Debug("webauthncli: authenticator requires a PIN, retrying makeCredential with an acquired token")
			token, tokenErr := c.acquireToken(pinuv.PermMakeCredential, opts.RP.ID)
			if tokenErr != nil {
				return nil, trace.Wrap(tokenErr)
			}
			pinAuth := token.Protocol.Authenticate(token.Bytes, clientDataHash)
			params.Entries = append(params.Entries,
				cbor.MapEntry{Key: int64(8), Val: pinAuth},
				cbor.MapEntry{Key: int64(9), Val: int64(token.Protocol.Version())},
			)
			resp, err = c.session.MakeCredential(params)
		}
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	authDataRaw, ok := getBytes(resp, int64(2))
	if !ok {
		return nil, trace.BadParameter("webauthncli: makeCredential response missing authData")
	}
	authData, err := parseAuthData(authDataRaw)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	clientExt, err := c.extensions.ProcessOutputs(true, authData.Extensions, states)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	attestationObject, err := encodeAttestationObject(resp)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &PublicKeyCredential{
		ID:                     authData.CredentialID,
		RawID:                  authData.CredentialID,
		AttestationObject:      attestationObject,
		ClientDataJSON:         clientDataJSON,
		Transports:             info.Transports,
		ClientExtensionResults: clientExt,
	}, nil
}

// GetAssertion implements authenticatorGetAssertion orchestration, spec
// §4.H, including the §4.H-Filter chunked allow-list resolution when the
// caller's allow-list exceeds the authenticator's maxCredentialCountInList.
func (c *Client) GetAssertion(opts GetAssertionOptions) (*PublicKeyCredential, error) {
	info, err := c.session.GetInfo(false)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	clientDataJSON, clientDataHash, err := buildClientData("webauthn.get", opts.Origin, opts.Challenge)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var maxCredLen *int64
	if info.MaxCredentialIDLength > 0 {
		maxCredLen = &info.MaxCredentialIDLength
	}
	allowList := PreprocessDescriptors(opts.AllowCredentials, maxCredLen)

	inputs := opts.Extensions
	if inputs == nil {
		inputs = cbor.NewMap()
	}
	authExt, states, err := c.extensions.ProcessInputs(false, inputs)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var token *pinuv.Token
	uvRequired := opts.UserVerification == "required"
	if opts.PIN != "" || uvRequired {
		if opts.PIN == "" {
			return nil, trace.BadParameter("webauthncli: PinRequired")
		}
		info, err := c.session.GetInfo(false)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		token, err = pinuv.GetPinToken(c.session, pinVersion(info), opts.PIN, pinuv.PermGetAssertion, opts.RPID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		c.token = token
	}

	buildParams := func(chunk []Descriptor, up bool) *cbor.Map {
		params := cbor.NewMap(
			int64(1), opts.RPID,
			int64(2), clientDataHash,
		)
		if len(chunk) > 0 {
			values := make([]cbor.Value, len(chunk))
			for i, d := range chunk {
				values[i] = d.toCBOR()
			}
			params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(3), Val: values})
		}
		if len(authExt.Entries) > 0 {
			params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(4), Val: authExt})
		}
		if !up || uvRequired {
			opt := cbor.Map{}
			if !up {
				opt.Entries = append(opt.Entries, cbor.MapEntry{Key: "up", Val: false})
			}
			if uvRequired {
				opt.Entries = append(opt.Entries, cbor.MapEntry{Key: "uv", Val: true})
			}
			params.Entries = append(params.Entries, cbor.MapEntry{Key: int64(5), Val: &opt})
		}
		if token != nil {
			pinAuth := token.Protocol.Authenticate(token.Bytes, clientDataHash)
			params.Entries = append(params.Entries,
				cbor.MapEntry{Key: int64(6), Val: pinAuth},
				cbor.MapEntry{Key: int64(7), Val: int64(token.Protocol.Version())},
			)
		}
		return params
	}

	var resp *cbor.Map
	if len(allowList) > 0 && len(allowList) > int(info.MaxCredentialCountInList) && info.MaxCredentialCountInList > 0 {
		chosen, err := resolveAllowList(allowList, info.MaxCredentialCountInList, func(chunk []Descriptor) (*cbor.Map, error) {
			return c.session.GetAssertion(buildParams(chunk, false))
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if chosen == nil {
			return nil, trace.BadParameter("webauthncli: no credential in allow-list matched")
		}
		allowList = []Descriptor{*chosen}
	}

	resp, err = c.session.GetAssertion(buildParams(allowList, true))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	authDataRaw, ok := getBytes(resp, int64(2))
	if !ok {
		return nil, trace.BadParameter("webauthncli: getAssertion response missing authData")
	}
	authData, err := parseAuthData(authDataRaw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	signature, ok := getBytes(resp, int64(3))
	if !ok {
		return nil, trace.BadParameter("webauthncli: getAssertion response missing signature")
	}

	var userHandle []byte
	if userV, ok := resp.Get(int64(4)); ok {
		if userMap, ok := userV.(*cbor.Map); ok {
			if idV, ok := userMap.Get("id"); ok {
				userHandle, _ = idV.([]byte)
			}
		}
	}

	var credID []byte
	if credV, ok := resp.Get(int64(1)); ok {
		if credMap, ok := credV.(*cbor.Map); ok {
			if idV, ok := credMap.Get("id"); ok {
				credID, _ = idV.([]byte)
			}
		}
	} else if len(allowList) == 1 {
		credID = allowList[0].ID
	}

	clientExt, err := c.extensions.ProcessOutputs(false, authData.Extensions, states)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &PublicKeyCredential{
		ID:                     credID,
		RawID:                  credID,
		AuthenticatorData:      authDataRaw,
		Signature:              signature,
		UserHandle:             userHandle,
		ClientDataJSON:         clientDataJSON,
		ClientExtensionResults: clientExt,
	}, nil
}

func getBytes(m *cbor.Map, key int64) ([]byte, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// encodeAttestationObject renders the CTAP2 authenticatorMakeCredential
// response as a WebAuthn attestationObject CBOR map: { fmt, authData,
// attStmt }.
func encodeAttestationObject(resp *cbor.Map) ([]byte, error) {
	fmtV, _ := resp.Get(int64(1))
	authDataV, _ := resp.Get(int64(2))
	attStmtV, _ := resp.Get(int64(3))
	m := cbor.NewMap("fmt", fmtV, "authData", authDataV, "attStmt", attStmtV)
	return cbor.Encode(m)
}
