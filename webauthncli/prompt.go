package webauthncli

import "scauthcore/cbor"

// Prompt drives the host application's PIN/touch/credential-picker UX.
// Grounded in teleport's webauthncli LoginPrompt/RegisterPrompt pattern
// (noopPrompt, pinCancelPrompt, simplePicker in that package's test
// suite): the core never hardcodes a UI, it calls back into whatever the
// embedding application supplies.
type Prompt interface {
	// PromptPIN asks the user for their authenticator PIN. Returning an
	// empty string aborts the PIN-token acquisition that requested it.
	PromptPIN() (string, error)

	// PromptTouch tells the user to present/touch the authenticator.
	// Client does not call it.
	PromptTouch()

	// PromptCredential picks one of several eligible credentials
	// (resident-key disambiguation) and returns the index of the chosen
	// one. Client does not call it; GetAssertion returns the first
	// assertion the authenticator sends.
	PromptCredential(descriptors []*cbor.Map) (int, error)
}

// NoopPrompt is a Prompt that never asks for a PIN, is silent on touch
// requests, and always resolves credential disambiguation to the first
// candidate — useful for non-interactive tests and CLI harnesses wired to
// a fixed PIN.
type NoopPrompt struct {
	PIN string
}

func (p NoopPrompt) PromptPIN() (string, error) { return p.PIN, nil }
func (p NoopPrompt) PromptTouch()                {}
func (p NoopPrompt) PromptCredential(descriptors []*cbor.Map) (int, error) {
	return 0, nil
}
