package cbor

import (
	"testing"

	fxcbor "github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// TestMapEncodingMatchesCTAP2CanonicalReference cross-checks our
// hand-rolled canonical map sort against fxamacker/cbor's CTAP2 encoding
// mode, which implements the same key-ordering rule independently.
func TestMapEncodingMatchesCTAP2CanonicalReference(t *testing.T) {
	em, err := fxcbor.CTAP2EncOptions().EncMode()
	require.NoError(t, err)

	ours, err := Encode(NewMap(
		int64(3), "rp",
		int64(1), int64(7),
		int64(2), []byte{0xAA, 0xBB},
	))
	require.NoError(t, err)

	reference, err := em.Marshal(map[int]interface{}{
		3: "rp",
		1: int64(7),
		2: []byte{0xAA, 0xBB},
	})
	require.NoError(t, err)

	require.Equal(t, reference, ours)
}
