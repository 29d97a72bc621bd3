package auth

// AuthenticatorSelection carries WebAuthn authenticator selection
// criteria for a registration ceremony. Empty fields leave the
// underlying library's defaults in place.
type AuthenticatorSelection struct {
	ResidentKey      string // "", "discouraged", "preferred", "required"
	UserVerification string // "", "discouraged", "preferred", "required"
}

// CredentialRecord is the subset of a WebAuthn credential AuthService
// persists: the raw credential id, its public key, and its signature
// counter. Everything else (attestation, transports, …) stays inside the
// verifier boundary.
type CredentialRecord struct {
	ID        []byte
	PublicKey []byte
	Counter   uint32
}

// Verifier is the seam between AuthService and the WebAuthn ceremony
// library. AuthService depends only on this interface — never on a
// concrete library type — so the ceremony implementation
// (package webauthnadapter) can be swapped or faked in tests without
// touching business logic. See spec.md §6.
type Verifier interface {
	BeginRegistration(rpName, rpID string, userID []byte, userName string, sel AuthenticatorSelection) (challenge string, optionsJSON []byte, err error)
	FinishRegistration(expectedChallenge, expectedOrigin, expectedRPID string, raw []byte) (CredentialRecord, error)
	BeginLogin(rpID string, allowCredentials [][]byte) (challenge string, optionsJSON []byte, err error)
	FinishLogin(stored CredentialRecord, expectedChallenge, expectedOrigin, expectedRPID string, raw []byte) (newCounter uint32, err error)
}
