package webauthnadapter

import (
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"
)

func marshalCreation(c *protocol.CredentialCreation) ([]byte, error) {
	return json.Marshal(c)
}

func marshalAssertion(a *protocol.CredentialAssertion) ([]byte, error) {
	return json.Marshal(a)
}
