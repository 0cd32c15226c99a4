// Package ctap2 implements the CTAP2 command/response session: canonical
// CBOR framing over a CTAPHID transport, authenticatorGetInfo caching, and
// cooperative cancellation (spec §4.F).
package ctap2

import (
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"scauthcore/cbor"
	"scauthcore/ctaphid"
)

// Command codes, spec §6 / CTAP2 §6.1.
const (
	CmdMakeCredential     byte = 0x01
	CmdGetAssertion       byte = 0x02
	CmdGetInfo            byte = 0x04
	CmdClientPin          byte = 0x06
	CmdReset              byte = 0x07
	CmdGetNextAssertion   byte = 0x08
	CmdBioEnrollment      byte = 0x09
	CmdCredentialManagement byte = 0x0A
	CmdSelection          byte = 0x0B
	CmdLargeBlobs         byte = 0x0C
	CmdConfig             byte = 0x0D
)

// Status codes, spec §6.
const (
	StatusSuccess            byte = 0x00
	StatusInvalidCommand     byte = 0x01
	StatusRequestTooLarge    byte = 0x11
	StatusPinAuthInvalid     byte = 0x14
	StatusNoCredentials      byte = 0x2E
	StatusPinInvalid         byte = 0x31
	StatusPinBlocked         byte = 0x34
	StatusPinPolicyViolation byte = 0x35
	StatusPinRequired        byte = 0x36
	StatusKeepaliveCancel    byte = 0x27
)

// Error wraps a non-success CTAP2 status byte, spec §7 Ctap(u8).
type Error struct {
	Status byte
}

func (e *Error) Error() string {
	return "ctap2: authenticator status 0x" + hexByte(e.Status)
}

func hexByte(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xF]})
}

// Is reports whether err is a *Error with the given status, for use with
// errors.Is-style checks against the named status constants above.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	return ok && te.Status == e.Status
}

// ErrCancelled is returned when a command resolves because of an explicit
// CTAPHID_CANCEL, spec §4.F/§5.
var ErrCancelled = trace.BadParameter("ctap2: command cancelled")

// Info is the parsed authenticatorGetInfo result, spec §3 Ctap2InfoData.
// Only the fields this core consumes are modelled explicitly; everything
// else is reachable via Raw.
type Info struct {
	Versions                []string
	Extensions              []string
	AAGUID                   []byte
	Options                  map[string]bool
	MaxMsgSize               int64
	PinUvAuthProtocols       []int64
	MaxCredentialCountInList int64
	MaxCredentialIDLength    int64
	Transports               []string
	Algorithms               []cbor.Value
	MaxSerializedLargeBlobArray int64
	ForcePinChange           bool
	MinPinLength             int64
	MaxCredBlobLength        int64
	MaxRPIDsForSetMinPINLength int64
	RemainingDiscoverableCredentials int64
	Raw *cbor.Map
}

func parseInfo(m *cbor.Map) *Info {
	info := &Info{Raw: m, Options: map[string]bool{}}
	if v, ok := m.Get(1); ok {
		if arr, ok := v.([]cbor.Value); ok {
			for _, s := range arr {
				if str, ok := s.(string); ok {
					info.Versions = append(info.Versions, str)
				}
			}
		}
	}
	if v, ok := m.Get(2); ok {
		if arr, ok := v.([]cbor.Value); ok {
			for _, s := range arr {
				if str, ok := s.(string); ok {
					info.Extensions = append(info.Extensions, str)
				}
			}
		}
	}
	if v, ok := m.Get(3); ok {
		if b, ok := v.([]byte); ok {
			info.AAGUID = b
		}
	}
	if v, ok := m.Get(4); ok {
		if opts, ok := v.(*cbor.Map); ok {
			for _, e := range opts.Entries {
				if k, ok := e.Key.(string); ok {
					if b, ok := e.Val.(bool); ok {
						info.Options[k] = b
					}
				}
			}
		}
	}
	if v, ok := m.Get(5); ok {
		info.MaxMsgSize, _ = cbor.AsInt64(v)
	}
	if v, ok := m.Get(6); ok {
		if arr, ok := v.([]cbor.Value); ok {
			for _, p := range arr {
				n, _ := cbor.AsInt64(p)
				info.PinUvAuthProtocols = append(info.PinUvAuthProtocols, n)
			}
		}
	}
	if v, ok := m.Get(7); ok {
		info.MaxCredentialCountInList, _ = cbor.AsInt64(v)
	}
	if v, ok := m.Get(8); ok {
		info.MaxCredentialIDLength, _ = cbor.AsInt64(v)
	}
	if v, ok := m.Get(9); ok {
		if arr, ok := v.([]cbor.Value); ok {
			for _, t := range arr {
				if str, ok := t.(string); ok {
					info.Transports = append(info.Transports, str)
				}
			}
		}
	}
	if v, ok := m.Get(10); ok {
		if arr, ok := v.([]cbor.Value); ok {
			info.Algorithms = arr
		}
	}
	if v, ok := m.Get(11); ok {
		info.MaxSerializedLargeBlobArray, _ = cbor.AsInt64(v)
	}
	if v, ok := m.Get(12); ok {
		info.ForcePinChange, _ = v.(bool)
	}
	if v, ok := m.Get(13); ok {
		info.MinPinLength, _ = cbor.AsInt64(v)
	}
	if v, ok := m.Get(14); ok {
		info.MaxCredBlobLength, _ = cbor.AsInt64(v)
	}
	if v, ok := m.Get(15); ok {
		info.MaxRPIDsForSetMinPINLength, _ = cbor.AsInt64(v)
	}
	if v, ok := m.Get(20); ok {
		info.RemainingDiscoverableCredentials, _ = cbor.AsInt64(v)
	}
	return info
}

// Session is a CTAP2 command/response session over a CTAPHID device. It
// owns the GetInfo cache exclusively (spec §9 Session ownership); one
// session per device, not safe for concurrent use (spec §5).
type Session struct {
	dev ctaphid.Device
	cid uint32

	infoCache *Info
}

// NewSession wraps dev on CTAPHID channel cid.
func NewSession(dev ctaphid.Device, cid uint32) *Session {
	return &Session{dev: dev, cid: cid}
}

// Cancel sends CTAPHID_CANCEL on the session's channel; any command
// currently blocked in Send resolves as ErrCancelled (spec §4.F, §5).
func (s *Session) Cancel() error {
	logrus.Debug("ctap2: sending CTAPHID_CANCEL")
	return ctaphid.Cancel(s.dev, s.cid)
}

// Send submits a single CTAP2 command: serialise params (may be nil) via
// canonical CBOR, prepend the command byte, transmit, and parse the
// response's leading status byte, spec §4.F.
func (s *Session) Send(cmd byte, params *cbor.Map) (*cbor.Map, error) {
	payload := []byte{cmd}
	if params != nil {
		encoded, err := cbor.Encode(params)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		payload = append(payload, encoded...)
	}

	if err := ctaphid.SendMessage(s.dev, s.cid, ctaphid.CmdCbor, payload); err != nil {
		return nil, trace.Wrap(err)
	}

	respCmd, body, err := ctaphid.ReceiveMessage(s.dev)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if respCmd == ctaphid.CmdKeepAlive {
		return s.awaitAfterKeepalive()
	}
	return parseStatusBody(body)
}

// awaitAfterKeepalive keeps reading CTAPHID frames past keepalive markers
// until the real response or a cancel-acknowledging error status arrives.
func (s *Session) awaitAfterKeepalive() (*cbor.Map, error) {
	for {
		respCmd, body, err := ctaphid.ReceiveMessage(s.dev)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if respCmd == ctaphid.CmdKeepAlive {
			logrus.Debug("ctap2: authenticator sent keepalive, continuing to wait")
			continue
		}
		return parseStatusBody(body)
	}
}

func parseStatusBody(body []byte) (*cbor.Map, error) {
	if len(body) == 0 {
		return nil, trace.BadParameter("ctap2: empty response")
	}
	status := body[0]
	if status == StatusKeepaliveCancel {
		return nil, trace.Wrap(ErrCancelled)
	}
	if status != StatusSuccess {
		return nil, &Error{Status: status}
	}
	if len(body) == 1 {
		return cbor.NewMap(), nil
	}
	value, _, err := cbor.Decode(body[1:])
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m, ok := value.(*cbor.Map)
	if !ok {
		return nil, trace.BadParameter("ctap2: response body is not a CBOR map")
	}
	return m, nil
}

// GetInfo returns the cached authenticatorGetInfo result, fetching it on
// first call. Pass force=true to bypass the cache (spec §4.F).
func (s *Session) GetInfo(force bool) (*Info, error) {
	if s.infoCache != nil && !force {
		return s.infoCache, nil
	}
	resp, err := s.Send(CmdGetInfo, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	info := parseInfo(resp)
	s.infoCache = info
	return info, nil
}

// MakeCredential issues authenticatorMakeCredential with a pre-built
// parameter map (the webauthncli package owns assembling it per spec
// §4.H) and returns the raw response map.
func (s *Session) MakeCredential(params *cbor.Map) (*cbor.Map, error) {
	return s.Send(CmdMakeCredential, params)
}

// GetAssertion issues authenticatorGetAssertion.
func (s *Session) GetAssertion(params *cbor.Map) (*cbor.Map, error) {
	return s.Send(CmdGetAssertion, params)
}

// GetNextAssertion issues authenticatorGetNextAssertion (no parameters).
func (s *Session) GetNextAssertion() (*cbor.Map, error) {
	return s.Send(CmdGetNextAssertion, nil)
}

// ClientPin issues authenticatorClientPin with the given subcommand map.
func (s *Session) ClientPin(params *cbor.Map) (*cbor.Map, error) {
	return s.Send(CmdClientPin, params)
}

// Reset issues authenticatorReset.
func (s *Session) Reset() error {
	_, err := s.Send(CmdReset, nil)
	return trace.Wrap(err)
}

// CredentialManagement issues authenticatorCredentialManagement.
func (s *Session) CredentialManagement(params *cbor.Map) (*cbor.Map, error) {
	return s.Send(CmdCredentialManagement, params)
}

// BioEnrollment issues authenticatorBioEnrollment.
func (s *Session) BioEnrollment(params *cbor.Map) (*cbor.Map, error) {
	return s.Send(CmdBioEnrollment, params)
}

// Config issues authenticatorConfig.
func (s *Session) Config(params *cbor.Map) (*cbor.Map, error) {
	return s.Send(CmdConfig, params)
}

// LargeBlobs issues authenticatorLargeBlobs.
func (s *Session) LargeBlobs(params *cbor.Map) (*cbor.Map, error) {
	return s.Send(CmdLargeBlobs, params)
}

// Selection issues authenticatorSelection (no parameters).
func (s *Session) Selection() error {
	_, err := s.Send(CmdSelection, nil)
	return trace.Wrap(err)
}
