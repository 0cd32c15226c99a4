package cbor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	enc, err := Encode(v)
	require.NoError(t, err)
	dec, rest, err := Decode(enc)
	require.NoError(t, err)
	require.Empty(t, rest)
	return dec
}

func TestIntegerRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, 23, 24, 255, 256, 65535, 65536, -1, -24, -25, -256, -65536} {
		got := roundTrip(t, n)
		require.Equal(t, n, got)
	}
}

func TestByteAndTextStringRoundTrip(t *testing.T) {
	require.Equal(t, []byte("hello"), roundTrip(t, []byte("hello")))
	require.Equal(t, "hello", roundTrip(t, "hello"))
}

func TestArrayRoundTrip(t *testing.T) {
	in := []Value{int64(1), "two", []byte{3}}
	got := roundTrip(t, in).([]Value)
	require.Equal(t, in, got)
}

func TestBoolAndNullRoundTrip(t *testing.T) {
	require.Equal(t, true, roundTrip(t, true))
	require.Equal(t, false, roundTrip(t, false))
	require.Nil(t, roundTrip(t, nil))
}

func TestFloatsRejected(t *testing.T) {
	_, err := Encode(float64(1.5))
	require.Error(t, err)

	// simple value 25 (half-float marker) must be rejected on decode too.
	_, _, err = Decode([]byte{0xf9, 0x3c, 0x00})
	require.Error(t, err)
}

func TestMapCanonicalOrdering(t *testing.T) {
	// Keys supplied out of canonical order; encoder must sort:
	// unsigned ints by value/length, then negative ints, byte strings, text
	// strings, false, true.
	m := NewMap(
		int64(2), "two",
		int64(1), "one",
		int64(-1), "neg-one",
		[]byte{0x01}, "bytes",
		"z", "text",
		false, "bool-false",
	)
	enc, err := Encode(m)
	require.NoError(t, err)

	// Re-encoding the decoded map must produce byte-identical output
	// (map canonicality law, spec §8.2).
	dec, rest, err := Decode(enc)
	require.NoError(t, err)
	require.Empty(t, rest)
	reenc, err := Encode(dec)
	require.NoError(t, err)
	require.Equal(t, enc, reenc)

	// First two map entries on the wire must be unsigned ints 1 then 2.
	decMap := dec.(*Map)
	require.Equal(t, int64(1), decMap.Entries[0].Key)
	require.Equal(t, int64(2), decMap.Entries[1].Key)
}

func TestDecodePreservesEncounterOrder(t *testing.T) {
	// Hand-build a map with non-canonical wire order (2 before 1) and make
	// sure Decode reports it back in the order found on the wire.
	var buf []byte
	buf = append(buf, 0xa2)       // map(2)
	buf = append(buf, 0x02, 0x61, 'b')
	buf = append(buf, 0x01, 0x61, 'a')

	v, rest, err := Decode(buf)
	require.NoError(t, err)
	require.Empty(t, rest)
	m := v.(*Map)
	require.Equal(t, int64(2), m.Entries[0].Key)
	require.Equal(t, int64(1), m.Entries[1].Key)
}

func TestDecodeInt32RejectsOutOfRange(t *testing.T) {
	enc, err := Encode(int64(1) << 40)
	require.NoError(t, err)
	_, _, err = DecodeInt32(enc)
	require.Error(t, err)
}
