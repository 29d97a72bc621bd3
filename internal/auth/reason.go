package auth

import "github.com/wireterm/wireterm/server/internal/result"

// Fixed reason-code taxonomy an AuthService Failure carries. See spec.md §7.
const (
	ReasonInvalidSetupToken  result.Reason = "invalid-setup-token"
	ReasonInvalidChallenge   result.Reason = "invalid-challenge"
	ReasonUnknownCredential  result.Reason = "unknown-credential"
	ReasonNotSetup           result.Reason = "not-setup"
	ReasonVerificationFailed result.Reason = "verification-failed"
	ReasonLastCredential     result.Reason = "last-credential"
	ReasonLockTimeout        result.Reason = "lock-timeout"
	ReasonCorruptState       result.Reason = "corrupt-state"
	ReasonTokenNameInvalid   result.Reason = "token-name-invalid"
	ReasonTokenTooLong       result.Reason = "token-too-long"
	ReasonNotFound           result.Reason = "not-found"
	ReasonInternal           result.Reason = "internal-error"
)

// maxTokenNameLen bounds the Name field on credentials and setup tokens.
const maxTokenNameLen = 128
