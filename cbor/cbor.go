// Package cbor implements the CBOR subset required by CTAP2 (spec §4.A):
// unsigned/negative integers, byte strings, text strings, arrays, maps,
// booleans and null. Floats are rejected on both encode and decode.
//
// Encoding is always canonical: map keys are sorted by (major-type rank,
// encoded length, encoded bytes) as CTAP2 requires. Decoding accepts any
// key order but preserves the original encounter order in the returned
// Map, so round-trip tests can tell the two apart.
package cbor

import (
	"bytes"
	"math"
	"sort"

	"github.com/gravitational/trace"
)

// Value is any of: int64 (covers both CBOR major types 0 and 1, within
// int64 range), []byte, string, []Value, *Map, bool, nil.
type Value interface{}

// MapEntry is one key/value pair of a Map, in encounter (or, for values
// about to be encoded, caller-supplied) order.
type MapEntry struct {
	Key Value
	Val Value
}

// Map is an ordered CBOR map. Encode sorts a copy of Entries into canonical
// order; Decode preserves wire order in Entries.
type Map struct {
	Entries []MapEntry
}

// Get returns the value for key, if present.
func (m *Map) Get(key Value) (Value, bool) {
	for _, e := range m.Entries {
		if valuesEqual(e.Key, key) {
			return e.Val, true
		}
	}
	return nil, false
}

func valuesEqual(a, b Value) bool {
	if n, ok := a.(int); ok {
		a = int64(n)
	}
	if n, ok := b.(int); ok {
		b = int64(n)
	}
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	default:
		return false
	}
}

// majorType rank, per spec §4.A canonical-ordering rule: unsigned int,
// negative int, byte string, text string, false, true.
func majorRank(v Value) (int, error) {
	switch vv := v.(type) {
	case int64:
		if vv >= 0 {
			return 0, nil
		}
		return 1, nil
	case []byte:
		return 2, nil
	case string:
		return 3, nil
	case bool:
		if !vv {
			return 4, nil
		}
		return 5, nil
	default:
		return 0, trace.BadParameter("cbor: value of type %T cannot be a canonical map key", v)
	}
}

// Encode renders v as canonical CBOR.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteByte(0xf6)
	case bool:
		if vv {
			buf.WriteByte(0xf5)
		} else {
			buf.WriteByte(0xf4)
		}
	case int64:
		encodeInt(buf, vv)
	case int:
		encodeInt(buf, int64(vv))
	case uint64:
		encodeHead(buf, 0, vv)
	case []byte:
		encodeHead(buf, 2, uint64(len(vv)))
		buf.Write(vv)
	case string:
		encodeHead(buf, 3, uint64(len(vv)))
		buf.WriteString(vv)
	case []Value:
		encodeHead(buf, 4, uint64(len(vv)))
		for _, item := range vv {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
	case *Map:
		return encodeMap(buf, vv)
	case float32, float64:
		return trace.BadParameter("cbor: floats are rejected")
	default:
		return trace.BadParameter("cbor: unsupported value type %T", v)
	}
	return nil
}

func encodeInt(buf *bytes.Buffer, n int64) {
	if n >= 0 {
		encodeHead(buf, 0, uint64(n))
		return
	}
	encodeHead(buf, 1, uint64(-1-n))
}

// encodeHead writes a CBOR major-type/argument head using the smallest of
// {1, 2, 3, 5, 9} bytes, per spec §4.A.
func encodeHead(buf *bytes.Buffer, major byte, n uint64) {
	m := major << 5
	switch {
	case n < 24:
		buf.WriteByte(m | byte(n))
	case n <= 0xFF:
		buf.WriteByte(m | 24)
		buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		buf.WriteByte(m | 25)
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	case n <= 0xFFFFFFFF:
		buf.WriteByte(m | 26)
		buf.WriteByte(byte(n >> 24))
		buf.WriteByte(byte(n >> 16))
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(m | 27)
		for shift := 56; shift >= 0; shift -= 8 {
			buf.WriteByte(byte(n >> uint(shift)))
		}
	}
}

func encodeMap(buf *bytes.Buffer, m *Map) error {
	entries := make([]MapEntry, len(m.Entries))
	copy(entries, m.Entries)

	encodedKeys := make([][]byte, len(entries))
	ranks := make([]int, len(entries))
	for i, e := range entries {
		r, err := majorRank(e.Key)
		if err != nil {
			return err
		}
		ranks[i] = r
		kb, err := Encode(e.Key)
		if err != nil {
			return err
		}
		encodedKeys[i] = kb
	}

	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if ranks[ia] != ranks[ib] {
			return ranks[ia] < ranks[ib]
		}
		if len(encodedKeys[ia]) != len(encodedKeys[ib]) {
			return len(encodedKeys[ia]) < len(encodedKeys[ib])
		}
		return bytes.Compare(encodedKeys[ia], encodedKeys[ib]) < 0
	})

	encodeHead(buf, 5, uint64(len(entries)))
	for _, i := range idx {
		buf.Write(encodedKeys[i])
		if err := encodeValue(buf, entries[i].Val); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses a single CBOR value from data and returns it along with
// any trailing bytes.
func Decode(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return nil, nil, trace.BadParameter("cbor: empty input")
	}
	first := data[0]
	major := first >> 5
	info := first & 0x1F
	rest := data[1:]

	switch major {
	case 0: // unsigned int
		n, rest, err := decodeArg(info, rest)
		if err != nil {
			return nil, nil, err
		}
		if n > math.MaxInt64 {
			return nil, nil, trace.BadParameter("cbor: unsigned integer %d exceeds int64 range", n)
		}
		return int64(n), rest, nil
	case 1: // negative int
		n, rest, err := decodeArg(info, rest)
		if err != nil {
			return nil, nil, err
		}
		return -1 - int64(n), rest, nil
	case 2: // byte string
		n, rest, err := decodeArg(info, rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(rest)) < n {
			return nil, nil, trace.BadParameter("cbor: truncated byte string")
		}
		return append([]byte{}, rest[:n]...), rest[n:], nil
	case 3: // text string
		n, rest, err := decodeArg(info, rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(rest)) < n {
			return nil, nil, trace.BadParameter("cbor: truncated text string")
		}
		return string(rest[:n]), rest[n:], nil
	case 4: // array
		n, rest, err := decodeArg(info, rest)
		if err != nil {
			return nil, nil, err
		}
		items := make([]Value, 0, n)
		for i := uint64(0); i < n; i++ {
			var v Value
			var err error
			v, rest, err = Decode(rest)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, v)
		}
		return items, rest, nil
	case 5: // map
		n, rest, err := decodeArg(info, rest)
		if err != nil {
			return nil, nil, err
		}
		m := &Map{}
		for i := uint64(0); i < n; i++ {
			var k, v Value
			var err error
			k, rest, err = Decode(rest)
			if err != nil {
				return nil, nil, err
			}
			v, rest, err = Decode(rest)
			if err != nil {
				return nil, nil, err
			}
			m.Entries = append(m.Entries, MapEntry{Key: k, Val: v})
		}
		return m, rest, nil
	case 7: // simple/float
		switch info {
		case 20:
			return false, rest, nil
		case 21:
			return true, rest, nil
		case 22:
			return nil, rest, nil
		default:
			return nil, nil, trace.BadParameter("cbor: floats are rejected (simple value %d)", info)
		}
	default:
		return nil, nil, trace.BadParameter("cbor: unsupported major type %d", major)
	}
}

func decodeArg(info byte, data []byte) (uint64, []byte, error) {
	switch {
	case info < 24:
		return uint64(info), data, nil
	case info == 24:
		if len(data) < 1 {
			return 0, nil, trace.BadParameter("cbor: truncated 1-byte argument")
		}
		return uint64(data[0]), data[1:], nil
	case info == 25:
		if len(data) < 2 {
			return 0, nil, trace.BadParameter("cbor: truncated 2-byte argument")
		}
		return uint64(data[0])<<8 | uint64(data[1]), data[2:], nil
	case info == 26:
		if len(data) < 4 {
			return 0, nil, trace.BadParameter("cbor: truncated 4-byte argument")
		}
		return uint64(data[0])<<24 | uint64(data[1])<<16 | uint64(data[2])<<8 | uint64(data[3]), data[4:], nil
	case info == 27:
		if len(data) < 8 {
			return 0, nil, trace.BadParameter("cbor: truncated 8-byte argument")
		}
		var n uint64
		for i := 0; i < 8; i++ {
			n = n<<8 | uint64(data[i])
		}
		return n, data[8:], nil
	default:
		return 0, nil, trace.BadParameter("cbor: indefinite-length encoding not supported")
	}
}

// DecodeInt32 decodes a single value and requires it be an integer within
// the signed 32-bit range used throughout CTAP2 (spec §4.A). Callers that
// need the full int64 width (e.g. counters) should call Decode directly.
func DecodeInt32(data []byte) (int32, []byte, error) {
	v, rest, err := Decode(data)
	if err != nil {
		return 0, nil, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, nil, trace.BadParameter("cbor: expected integer, got %T", v)
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, nil, trace.BadParameter("cbor: integer %d does not fit in int32", n)
	}
	return int32(n), rest, nil
}
