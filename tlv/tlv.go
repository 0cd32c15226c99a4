// Package tlv implements the BER-TLV subset used by GlobalPlatform SCP and
// the GP control-reference templates (spec §4.A, §6 tag list). It is not a
// general BER/DER parser: only the short/high-byte tag form and the
// short/1-byte/2-byte long length forms required by SCP are supported.
package tlv

import (
	"github.com/gravitational/trace"
)

// TLV is a single decoded (tag, value) record. Tag is stored as its full
// encoded form (1 or 2 bytes), e.g. 0x5F49 or 0x86.
type TLV struct {
	Tag   uint32
	Value []byte
}

// tagLen reports how many bytes the tag occupies given its first byte.
func tagLen(first byte) int {
	// Single-byte tag unless the low 5 bits are all set (0x1F) or the whole
	// byte is a "high tag number" class/constructed marker used by GP
	// (e.g. 0x5F, 0xBF, 0xFF prefixes all use 2-byte tags in this scheme).
	if first&0x1F == 0x1F {
		return 2
	}
	switch first {
	case 0x5F, 0xBF, 0xFF:
		return 2
	}
	return 1
}

func decodeTag(b []byte) (tag uint32, n int, err error) {
	if len(b) == 0 {
		return 0, 0, trace.BadParameter("tlv: empty tag")
	}
	n = tagLen(b[0])
	if len(b) < n {
		return 0, 0, trace.BadParameter("tlv: truncated tag")
	}
	for i := 0; i < n; i++ {
		tag = tag<<8 | uint32(b[i])
	}
	return tag, n, nil
}

func decodeLength(b []byte) (length, n int, err error) {
	if len(b) == 0 {
		return 0, 0, trace.BadParameter("tlv: empty length")
	}
	first := b[0]
	switch {
	case first <= 0x7F:
		return int(first), 1, nil
	case first == 0x81:
		if len(b) < 2 {
			return 0, 0, trace.BadParameter("tlv: truncated 1-byte long length")
		}
		return int(b[1]), 2, nil
	case first == 0x82:
		if len(b) < 3 {
			return 0, 0, trace.BadParameter("tlv: truncated 2-byte long length")
		}
		return int(b[1])<<8 | int(b[2]), 3, nil
	default:
		return 0, 0, trace.BadParameter("tlv: unsupported length form 0x%02x", first)
	}
}

// encodeLength chooses the minimal length form for n, per spec §4.A.
func encodeLength(n int) []byte {
	switch {
	case n <= 0x7F:
		return []byte{byte(n)}
	case n <= 0xFF:
		return []byte{0x81, byte(n)}
	default:
		return []byte{0x82, byte(n >> 8), byte(n)}
	}
}

func encodeTag(tag uint32) []byte {
	if tag <= 0xFF {
		return []byte{byte(tag)}
	}
	return []byte{byte(tag >> 8), byte(tag)}
}

// Encode renders a single TLV record with the minimal-length form.
func Encode(tag uint32, value []byte) []byte {
	out := make([]byte, 0, 4+len(value))
	out = append(out, encodeTag(tag)...)
	out = append(out, encodeLength(len(value))...)
	out = append(out, value...)
	return out
}

// Decode parses a concatenated sequence of TLV records, in encounter order.
func Decode(data []byte) ([]TLV, error) {
	var out []TLV
	for len(data) > 0 {
		tag, tn, err := decodeTag(data)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		data = data[tn:]
		length, ln, err := decodeLength(data)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		data = data[ln:]
		if len(data) < length {
			return nil, trace.BadParameter("tlv: value for tag 0x%x truncated: want %d have %d", tag, length, len(data))
		}
		out = append(out, TLV{Tag: tag, Value: data[:length]})
		data = data[length:]
	}
	return out, nil
}

// UnpackValue decodes a single leading TLV and requires it carry the
// expected tag, returning only its value. Used by SCP handshake parsing
// where a response is a single record.
func UnpackValue(expectedTag uint32, data []byte) ([]byte, error) {
	records, err := Decode(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(records) == 0 {
		return nil, trace.BadParameter("tlv: no records found, expected tag 0x%x", expectedTag)
	}
	if records[0].Tag != expectedTag {
		return nil, trace.BadParameter("tlv: unexpected tag 0x%x, expected 0x%x", records[0].Tag, expectedTag)
	}
	return records[0].Value, nil
}

// Find returns the value of the first record with the given tag.
func Find(records []TLV, tag uint32) ([]byte, bool) {
	for _, r := range records {
		if r.Tag == tag {
			return r.Value, true
		}
	}
	return nil, false
}

// Known SCP/GP tags, spec §6.
const (
	TagKeyInfo          = 0x90
	TagKeyUsage         = 0x95
	TagKeyType          = 0x80
	TagKeyLength        = 0x81
	TagReceipt          = 0x86
	TagControlReference = 0xA6
	TagECCPublicPoint   = 0x5F49
	TagCardRecognition  = 0x73
	TagKeyReference     = 0x83
	TagCertificateStore = 0xBF21
	TagKeyInformation   = 0xE0
	TagKLOCCAIDs        = 0xFF33
	TagKLCCCAIDs        = 0xFF34
	TagComponent        = 0xC0
	TagSerial           = 0x93
	TagSKI              = 0x42
	TagAllowList        = 0x70
	TagKIDFilter        = 0xD0
	TagKVNFilter        = 0xD2
	TagKeyTypeAES       = 0x88
	TagKeyTypeECCPublic = 0xB0
	TagKeyTypeECCPriv   = 0xB1
	TagKeyTypeECCParams = 0xF0
)
