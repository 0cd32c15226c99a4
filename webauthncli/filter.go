package webauthncli

import (
	"errors"

	"github.com/gravitational/trace"

	"scauthcore/cbor"
	"scauthcore/ctap2"
)

// chunkAssertionFunc issues one authenticatorGetAssertion call restricted
// to the given allow-list slice (spec §4.H-Filter step 2a) and returns the
// authenticator's response map on success; resolveAllowList reads the
// credential descriptor out of its key 1.
type chunkAssertionFunc func(chunk []Descriptor) (*cbor.Map, error)

// resolveAllowList implements spec §4.H-Filter: when allowList exceeds
// maxCredentialCountInList, issue successive getAssertion calls over
// shrinking/advancing slices until one matches, retrying a too-large chunk
// at a smaller size before advancing the offset.
func resolveAllowList(allowList []Descriptor, maxCredentialCountInList int64, call chunkAssertionFunc) (*Descriptor, error) {
	max := int64(len(allowList))
	if maxCredentialCountInList > 0 && maxCredentialCountInList < max {
		max = maxCredentialCountInList
	}
	if max <= 0 {
		return nil, nil
	}

	chunkSize := max
	offset := int64(0)
	for offset < int64(len(allowList)) {
		end := offset + chunkSize
		if end > int64(len(allowList)) {
			end = int64(len(allowList))
		}
		chunk := allowList[offset:end]

		result, err := call(chunk)
		if err == nil {
			id, ok := result.Get(int64(1)) // authenticatorGetAssertion credential (descriptor map)
			if !ok {
				return nil, trace.BadParameter("webauthncli: assertion response missing credential")
			}
			credMap, ok := id.(*cbor.Map)
			if !ok {
				return nil, trace.BadParameter("webauthncli: assertion credential is not a map")
			}
			idv, ok := credMap.Get("id")
			if !ok {
				return nil, trace.BadParameter("webauthncli: assertion credential missing id")
			}
			idBytes, ok := idv.([]byte)
			if !ok {
				return nil, trace.BadParameter("webauthncli: assertion credential id is not bytes")
			}
			return &Descriptor{Type: "public-key", ID: idBytes}, nil
		}

		var ctapErr *ctap2.Error
		if errors.As(err, &ctapErr) {
			switch ctapErr.Status {
			case ctap2.StatusNoCredentials:
				offset += chunkSize
				chunkSize = max
				if offset+chunkSize > int64(len(allowList)) {
					chunkSize = int64(len(allowList)) - offset
				}
				continue
			case ctap2.StatusRequestTooLarge:
				chunkSize--
				if chunkSize <= 0 {
					return nil, trace.Wrap(err)
				}
				continue
			}
		}
		return nil, trace.Wrap(err)
	}
	return nil, nil
}
