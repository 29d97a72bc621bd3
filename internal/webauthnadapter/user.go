package webauthnadapter

import "github.com/go-webauthn/webauthn/webauthn"

// adapterUser adapts a single identity plus its credential set to the
// go-webauthn User interface. Constructed fresh for each ceremony: the
// library only needs it for the duration of one Begin or Finish call.
type adapterUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *adapterUser) WebAuthnID() []byte                     { return u.id }
func (u *adapterUser) WebAuthnName() string                   { return u.name }
func (u *adapterUser) WebAuthnDisplayName() string             { return u.displayName }
func (u *adapterUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
