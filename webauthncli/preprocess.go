package webauthncli

// PreprocessDescriptors implements spec §4.H-Preprocess: discard any
// descriptor whose type isn't "public-key", discard any whose ID exceeds
// maxCredentialIDLength when that bound is present (non-nil), drop the
// transports field from survivors, and preserve relative order.
func PreprocessDescriptors(descriptors []Descriptor, maxCredentialIDLength *int64) []Descriptor {
	out := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Type != "public-key" {
			continue
		}
		if maxCredentialIDLength != nil && int64(len(d.ID)) > *maxCredentialIDLength {
			continue
		}
		out = append(out, Descriptor{Type: d.Type, ID: d.ID})
	}
	return out
}
