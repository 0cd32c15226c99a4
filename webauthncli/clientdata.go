package webauthncli

import (
	"encoding/base64"
	"encoding/json"

	"github.com/gravitational/trace"

	"scauthcore/xcrypto"
)

type collectedClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin"`
}

// buildClientData renders CollectedClientData per WebAuthn §5.8.1 and
// returns it alongside its SHA-256 hash.
func buildClientData(typ, origin string, challenge []byte) (clientDataJSON []byte, hash []byte, err error) {
	doc := collectedClientData{
		Type:      typ,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    origin,
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return encoded, xcrypto.SHA256(encoded), nil
}
