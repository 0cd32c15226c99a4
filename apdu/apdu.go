// Package apdu frames ISO 7816-4 command/response units and drives the
// short/extended-form retry rules (spec §4.C, §6). The transport itself
// (USB CCID, PC/SC, NFC) is an external collaborator: apdu only needs a
// byte-level Transport.
package apdu

import (
	"github.com/gravitational/trace"
)

// Transport is the byte-level request/response endpoint this package
// consumes (spec §1 scope, §6 external interfaces). A real implementation
// wraps a PC/SC or CCID reader; see the cmd/ demonstrator for one built on
// github.com/ebfe/scard.
type Transport interface {
	Transmit(apdu []byte) (response []byte, err error)
}

// Command is a single ISO 7816-4 command unit.
type Command struct {
	CLA, INS, P1, P2 byte
	Data             []byte
	Le               int // -1 means "no Le byte"
}

// Response is a parsed ISO 7816-4 response: body plus the two status bytes.
type Response struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// SW returns the status word as a single uint16.
func (r *Response) SW() uint16 { return uint16(r.SW1)<<8 | uint16(r.SW2) }

// IsSuccess reports whether SW == 0x9000.
func (r *Response) IsSuccess() bool { return r.SW1 == 0x90 && r.SW2 == 0x00 }

// HasMoreData reports SW1 == 0x61 ("more bytes available").
func (r *Response) HasMoreData() bool { return r.SW1 == 0x61 }

// NeedsRetryWithLe reports SW1 == 0x6C ("wrong Le").
func (r *Response) NeedsRetryWithLe() bool { return r.SW1 == 0x6C }

// Marshal encodes c as a short-form or extended-form APDU, per spec §4.C /
// §6 (lc is 1 or 3 bytes, le is 1, 2, or 3 bytes).
func (c *Command) Marshal() []byte {
	extended := len(c.Data) > 255 || c.Le > 256

	out := make([]byte, 0, 5+len(c.Data)+3)
	out = append(out, c.CLA, c.INS, c.P1, c.P2)

	if extended {
		if len(c.Data) > 0 {
			out = append(out, 0x00, byte(len(c.Data)>>8), byte(len(c.Data)))
			out = append(out, c.Data...)
		} else if c.Le >= 0 {
			out = append(out, 0x00)
		}
		if c.Le >= 0 {
			if len(c.Data) == 0 {
				out = append(out, byte(c.Le>>8), byte(c.Le))
			} else {
				out = append(out, byte(c.Le>>8), byte(c.Le))
			}
		}
		return out
	}

	if len(c.Data) > 0 {
		out = append(out, byte(len(c.Data)))
		out = append(out, c.Data...)
	}
	if c.Le >= 0 {
		if c.Le == 256 {
			out = append(out, 0x00)
		} else {
			out = append(out, byte(c.Le))
		}
	}
	return out
}

// ParseResponse splits a raw transport response into body + status word.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 2 {
		return nil, trace.BadParameter("apdu: response too short (%d bytes)", len(raw))
	}
	return &Response{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// Send transmits c over t and handles the chained-response (0x61 XX) and
// wrong-Le (0x6C XX) retry rules transparently, per spec §4.C/§7. All other
// status words are returned unchanged for the caller to interpret.
func Send(t Transport, c *Command) (*Response, error) {
	raw, err := t.Transmit(c.Marshal())
	if err != nil {
		return nil, trace.Wrap(err, "apdu: transmit failed")
	}
	resp, err := ParseResponse(raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if resp.NeedsRetryWithLe() {
		retry := *c
		retry.Le = int(resp.SW2)
		return Send(t, &retry)
	}

	if resp.HasMoreData() {
		full := append([]byte{}, resp.Data...)
		for resp.HasMoreData() {
			getResp := &Command{CLA: c.CLA & 0xFC, INS: 0xC0, Le: int(resp.SW2)}
			raw, err := t.Transmit(getResp.Marshal())
			if err != nil {
				return nil, trace.Wrap(err, "apdu: GET RESPONSE failed")
			}
			resp, err = ParseResponse(raw)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			full = append(full, resp.Data...)
		}
		resp.Data = full
	}

	return resp, nil
}

// Status words, spec §6.
const (
	SWSuccess                 uint16 = 0x9000
	SWMoreData                uint16 = 0x6310
	SWSecurityNotSatisfied    uint16 = 0x6982
	SWConditionsNotSatisfied  uint16 = 0x6985
	SWWrongData               uint16 = 0x6A80
	SWFileNotFound            uint16 = 0x6A82
	SWNotEnoughMemory         uint16 = 0x6A84
	SWWrongP1P2               uint16 = 0x6A86
	SWReferencedDataNotFound  uint16 = 0x6A88
	SWAuthBlocked             uint16 = 0x6983
)

// Error returns an error describing the response's status word, or nil if
// the response indicates success (0x9000).
func (r *Response) Error() error {
	if r.IsSuccess() {
		return nil
	}
	return trace.BadParameter("apdu: status word %04X (%s)", r.SW(), SWString(r.SW()))
}

// SWString renders a status word as a short human-readable description.
func SWString(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWSecurityNotSatisfied:
		return "security condition not satisfied"
	case SWConditionsNotSatisfied:
		return "conditions of use not satisfied"
	case SWWrongData:
		return "wrong data"
	case SWFileNotFound:
		return "file not found"
	case SWNotEnoughMemory:
		return "not enough memory"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWReferencedDataNotFound:
		return "referenced data not found"
	case SWAuthBlocked:
		return "authentication method blocked"
	default:
		switch byte(sw >> 8) {
		case 0x61:
			return "more data available"
		case 0x6C:
			return "wrong Le"
		}
		return "unknown status"
	}
}
