package webauthncli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreprocessDescriptorsKeepsWithinMaxLengthInOrder(t *testing.T) {
	descriptors := []Descriptor{
		{Type: "public-key", ID: make([]byte, 16), Transports: []string{"usb"}},
		{Type: "public-key", ID: make([]byte, 32), Transports: []string{"nfc"}},
		{Type: "public-key", ID: make([]byte, 64)},
		{Type: "public-key", ID: make([]byte, 128)},
	}
	max := int64(32)

	out := PreprocessDescriptors(descriptors, &max)

	require.Len(t, out, 2)
	require.Len(t, out[0].ID, 16)
	require.Len(t, out[1].ID, 32)
	for _, d := range out {
		require.Nil(t, d.Transports)
	}
}

func TestPreprocessDescriptorsDropsNonPublicKeyType(t *testing.T) {
	descriptors := []Descriptor{
		{Type: "public-key", ID: make([]byte, 8)},
		{Type: "other", ID: make([]byte, 8)},
	}
	out := PreprocessDescriptors(descriptors, nil)
	require.Len(t, out, 1)
}

func TestPreprocessDescriptorsNoBoundKeepsEverything(t *testing.T) {
	descriptors := []Descriptor{
		{Type: "public-key", ID: make([]byte, 256)},
	}
	out := PreprocessDescriptors(descriptors, nil)
	require.Len(t, out, 1)
}
