// Package auth implements AuthService: the thin transactional wrappers
// that compose authstate, statestore, challenge, lockout, and the
// Verifier/SessionNotifier collaborators into the public operation set.
// Every operation runs inside statestore.WithStateLock. See spec.md §4.6.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/wireterm/wireterm/server/internal/authstate"
	"github.com/wireterm/wireterm/server/internal/challenge"
	"github.com/wireterm/wireterm/server/internal/lockout"
	"github.com/wireterm/wireterm/server/internal/result"
	"github.com/wireterm/wireterm/server/internal/statestore"
)

// Service is the entry point for every authentication and session
// operation the outer HTTP layer calls. It holds no exported fields;
// construct one with NewService.
type Service struct {
	store      *statestore.Store
	challenges *challenge.Store
	lockouts   *lockout.Tracker
	verifier   Verifier
	notifier   SessionNotifier

	sessionTTLMs              int64
	sessionRefreshThresholdMs int64
	setupTokenTTLMs           int64
}

// Options configures a Service.
type Options struct {
	Store                     *statestore.Store
	Challenges                *challenge.Store
	Lockouts                  *lockout.Tracker
	Verifier                  Verifier
	Notifier                  SessionNotifier
	SessionTTL                time.Duration
	SessionRefreshThreshold   time.Duration
	SetupTokenTTL             time.Duration
}

// NewService builds a Service from its collaborators. Notifier may be
// nil, in which case session-close notifications are silently discarded.
func NewService(opts Options) *Service {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		store:                     opts.Store,
		challenges:                opts.Challenges,
		lockouts:                  opts.Lockouts,
		verifier:                  opts.Verifier,
		notifier:                  notifier,
		sessionTTLMs:              opts.SessionTTL.Milliseconds(),
		sessionRefreshThresholdMs: opts.SessionRefreshThreshold.Milliseconds(),
		setupTokenTTLMs:           opts.SetupTokenTTL.Milliseconds(),
	}
}

// RegistrationOptions is returned by BeginRegistration.
type RegistrationOptions struct {
	Challenge   string
	OptionsJSON []byte
}

// LoginOptions is returned by BeginLogin.
type LoginOptions struct {
	Challenge   string
	OptionsJSON []byte
}

// SessionIssued describes a freshly created sign-in.
type SessionIssued struct {
	Token     string
	Expiry    int64
	CSRFToken string
}

// RegistrationResult is returned by FinishRegistration.
type RegistrationResult struct {
	Session      SessionIssued
	CredentialID string
}

// LoginResult is returned by FinishLogin.
type LoginResult struct {
	Session SessionIssued
}

// SetupTokenIssued is returned by CreateSetupToken. Token is the
// plaintext bearer string, returned exactly once — it is never stored
// and can never be retrieved again.
type SetupTokenIssued struct {
	ID        string
	Token     string
	Name      string
	ExpiresAt int64
}

// BeginRegistration generates WebAuthn credential creation options. If
// setupToken is non-empty, it is validated (constant-time lookup, not
// expired) before options are generated; if the system already has a
// credential and no setup token was presented, registration is refused
// with not-setup.
func (s *Service) BeginRegistration(ctx context.Context, rpName, rpID string, setupToken string) result.Result[RegistrationOptions] {
	type out struct {
		data RegistrationOptions
		fail *result.Result[RegistrationOptions]
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		now := nowMillis()

		var setupTok *authstate.SetupToken
		if setupToken != "" {
			found, ok := st.FindSetupToken(setupToken, now)
			if !ok {
				f := result.Fail[RegistrationOptions](ReasonInvalidSetupToken, "setup token is unknown or expired", 403, nil)
				return out{fail: &f}, nil, nil
			}
			setupTok = &found
		} else if st.HasCredentials() {
			f := result.Fail[RegistrationOptions](ReasonNotSetup, "registration requires a setup token once the system already has an owner", 400, nil)
			return out{fail: &f}, nil, nil
		}

		var userID string
		if st.User != nil {
			userID = st.User.ID
		} else {
			idBytes := make([]byte, 16)
			if _, rerr := rand.Read(idBytes); rerr != nil {
				return out{}, nil, fmt.Errorf("auth: generate user id: %w", rerr)
			}
			userID = base64.RawURLEncoding.EncodeToString(idBytes)
		}

		challengeStr, optionsJSON, verr := s.verifier.BeginRegistration(rpName, rpID, []byte(userID), userID, AuthenticatorSelection{})
		if verr != nil {
			return out{}, nil, fmt.Errorf("auth: begin registration: %w", verr)
		}

		s.challenges.Store(challengeStr)
		s.challenges.SetMeta(challengeStr, "userID", userID)
		if setupTok != nil {
			s.challenges.SetMeta(challengeStr, "setupToken", setupToken)
		}

		return out{data: RegistrationOptions{Challenge: challengeStr, OptionsJSON: optionsJSON}}, nil, nil
	})

	if err != nil {
		return mapLockErr[RegistrationOptions](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	return result.Success(res.data)
}

// FinishRegistration completes a registration ceremony begun by
// BeginRegistration: under lock, it re-validates any setup token
// attached to the challenge (closing the TOCTOU gap between options and
// verify), consumes the challenge, calls the verifier, then persists the
// new credential and a fresh session.
func (s *Service) FinishRegistration(ctx context.Context, challengeStr string, raw []byte, rpID, origin, userAgent, deviceName string) result.Result[RegistrationResult] {
	type out struct {
		data RegistrationResult
		fail *result.Result[RegistrationResult]
	}

	userIDMeta, _ := s.challenges.GetMeta(challengeStr, "userID")
	setupTokenMeta, hadSetupToken := s.challenges.GetMeta(challengeStr, "setupToken")

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		now := nowMillis()

		var setupTok *authstate.SetupToken
		if hadSetupToken {
			found, ok := st.FindSetupToken(setupTokenMeta, now)
			if !ok {
				f := result.Fail[RegistrationResult](ReasonInvalidSetupToken, "setup token is no longer valid", 403, nil)
				return out{fail: &f}, nil, nil
			}
			setupTok = &found
		}

		if !s.challenges.Consume(challengeStr) {
			f := result.Fail[RegistrationResult](ReasonInvalidChallenge, "challenge is unknown, already used, or expired", 400, nil)
			return out{fail: &f}, nil, nil
		}

		rec, verr := s.verifier.FinishRegistration(challengeStr, origin, rpID, raw)
		if verr != nil {
			f := result.Fail[RegistrationResult](ReasonVerificationFailed, "credential verification failed", 400, nil)
			return out{fail: &f}, nil, nil
		}

		next := st
		if next.User == nil {
			next = authstate.Empty(userIDMeta, "owner")
		}

		credID := hex.EncodeToString(rec.ID)
		var setupTokenID *string
		if setupTok != nil {
			id := setupTok.ID
			setupTokenID = &id
		}

		next = next.AddCredential(authstate.Credential{
			ID:           credID,
			PublicKey:    rec.PublicKey,
			Counter:      rec.Counter,
			Name:         deviceName,
			CreatedAt:    now,
			LastUsedAt:   now,
			UserAgent:    userAgent,
			SetupTokenID: setupTokenID,
		})

		if setupTok != nil {
			next = next.UpdateSetupToken(setupTok.ID, authstate.SetupTokenPatch{CredentialID: &credID, LastUsedAt: &now})
		}

		token := newRandomIDHex(32)
		csrf := newRandomIDHex(32)
		expiry := now + s.sessionTTLMs
		next = next.AddSession(token, expiry, credID, csrf, now)

		return out{data: RegistrationResult{
			Session:      SessionIssued{Token: token, Expiry: expiry, CSRFToken: csrf},
			CredentialID: credID,
		}}, &next, nil
	})

	if err != nil {
		return mapLockErr[RegistrationResult](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	return result.Success(res.data)
}

// BeginLogin generates WebAuthn credential request options scoped to the
// currently registered credentials.
func (s *Service) BeginLogin(ctx context.Context, rpID string) result.Result[LoginOptions] {
	type out struct {
		data LoginOptions
		fail *result.Result[LoginOptions]
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		if !st.HasCredentials() {
			f := result.Fail[LoginOptions](ReasonNotSetup, "no credential has been registered yet", 400, nil)
			return out{fail: &f}, nil, nil
		}

		allow := make([][]byte, 0, len(st.Credentials))
		for _, c := range st.Credentials {
			idBytes, err := hex.DecodeString(c.ID)
			if err != nil {
				continue
			}
			allow = append(allow, idBytes)
		}

		challengeStr, optionsJSON, verr := s.verifier.BeginLogin(rpID, allow)
		if verr != nil {
			return out{}, nil, fmt.Errorf("auth: begin login: %w", verr)
		}
		s.challenges.Store(challengeStr)

		return out{data: LoginOptions{Challenge: challengeStr, OptionsJSON: optionsJSON}}, nil, nil
	})

	if err != nil {
		return mapLockErr[LoginOptions](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	return result.Success(res.data)
}

// FinishLogin completes a login ceremony. The credential id is looked up
// BEFORE the challenge is consumed — this ordering is observable and
// specified: an unknown credential id fails with unknown-credential even
// if the challenge itself would also have been invalid.
func (s *Service) FinishLogin(ctx context.Context, challengeStr, credentialID string, raw []byte, rpID, origin, userAgent string) result.Result[LoginResult] {
	type out struct {
		data LoginResult
		fail *result.Result[LoginResult]
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		now := nowMillis()

		if lockStatus := s.lockouts.IsLocked(credentialID); lockStatus.Locked {
			f := result.Fail[LoginResult](ReasonVerificationFailed, "credential is temporarily locked out", 403, map[string]any{"retryAfterSec": lockStatus.RetryAfterSec})
			return out{fail: &f}, nil, nil
		}

		cred, ok := st.GetCredential(credentialID)
		if !ok {
			f := result.Fail[LoginResult](ReasonUnknownCredential, "credential id is not registered", 400, nil)
			return out{fail: &f}, nil, nil
		}

		if !s.challenges.Consume(challengeStr) {
			f := result.Fail[LoginResult](ReasonInvalidChallenge, "challenge is unknown, already used, or expired", 400, nil)
			return out{fail: &f}, nil, nil
		}

		credIDBytes, decErr := hex.DecodeString(credentialID)
		if decErr != nil {
			f := result.Fail[LoginResult](ReasonUnknownCredential, "credential id is malformed", 400, nil)
			return out{fail: &f}, nil, nil
		}

		newCounter, verr := s.verifier.FinishLogin(CredentialRecord{ID: credIDBytes, PublicKey: cred.PublicKey, Counter: cred.Counter}, challengeStr, origin, rpID, raw)
		if verr != nil {
			s.lockouts.RecordFailure(credentialID)
			f := result.Fail[LoginResult](ReasonVerificationFailed, "credential verification failed", 400, nil)
			return out{fail: &f}, nil, nil
		}
		s.lockouts.RecordSuccess(credentialID)

		next := st.PruneExpired(now).UpdateCredential(credentialID, authstate.CredentialPatch{Counter: &newCounter, LastUsedAt: &now, UserAgent: &userAgent})

		token := newRandomIDHex(32)
		csrf := newRandomIDHex(32)
		expiry := now + s.sessionTTLMs
		next = next.AddSession(token, expiry, credentialID, csrf, now)

		return out{data: LoginResult{Session: SessionIssued{Token: token, Expiry: expiry, CSRFToken: csrf}}}, &next, nil
	})

	if err != nil {
		return mapLockErr[LoginResult](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	return result.Success(res.data)
}

// Logout ends the session identified by token. If it was bound to a
// credential, that credential is removed too (cascading its other
// sessions and linked setup tokens); removing the last credential this
// way is only permitted for loopback requests.
func (s *Service) Logout(ctx context.Context, token string, isLocalRequest bool) result.Result[struct{}] {
	type out struct {
		fail *result.Result[struct{}]
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		endRes, endErr := st.EndSession(token, authstate.RemoveCredentialOptions{AllowRemoveLast: isLocalRequest})
		if endErr != nil {
			f := result.Fail[struct{}](ReasonLastCredential, "cannot remove the last credential", 403, nil)
			return out{fail: &f}, nil, nil
		}
		return out{}, &endRes.State, nil
	})

	if err != nil {
		return mapLockErr[struct{}](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	s.notifier.CloseSession(token)
	return result.Success(struct{}{})
}

// RevokeAll ends every session currently valid, then tells the
// connection registry to drop each of them.
func (s *Service) RevokeAll(ctx context.Context) result.Result[struct{}] {
	type out struct {
		tokens []string
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		tokens := st.GetValidSessions(nowMillis())
		next := st.RevokeAllSessions()
		return out{tokens: tokens}, &next, nil
	})

	if err != nil {
		return mapLockErr[struct{}](err)
	}
	if len(res.tokens) > 0 {
		s.notifier.CloseSessions(res.tokens)
	}
	return result.Success(struct{}{})
}

// ListCredentials returns every credential's display metadata.
func (s *Service) ListCredentials(ctx context.Context) result.Result[[]authstate.CredentialMetadata] {
	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) ([]authstate.CredentialMetadata, *authstate.State, error) {
		st := deref(current)
		return st.GetCredentialsWithMetadata(), nil, nil
	})
	if err != nil {
		return mapLockErr[[]authstate.CredentialMetadata](err)
	}
	return result.Success(res)
}

// RenameCredential updates a credential's display name.
func (s *Service) RenameCredential(ctx context.Context, credentialID, name string) result.Result[authstate.CredentialMetadata] {
	type out struct {
		data authstate.CredentialMetadata
		fail *result.Result[authstate.CredentialMetadata]
	}

	if len(name) > maxTokenNameLen {
		return result.Fail[authstate.CredentialMetadata](ReasonTokenTooLong, "name exceeds the maximum length", 400, nil)
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		if _, ok := st.GetCredential(credentialID); !ok {
			f := result.Fail[authstate.CredentialMetadata](ReasonNotFound, "credential not found", 404, nil)
			return out{fail: &f}, nil, nil
		}
		next := st.UpdateCredential(credentialID, authstate.CredentialPatch{Name: &name})
		updated, _ := next.GetCredential(credentialID)
		meta := authstate.CredentialMetadata{
			ID: updated.ID, DeviceID: updated.DeviceID, Name: updated.Name,
			CreatedAt: updated.CreatedAt, LastUsedAt: updated.LastUsedAt,
			UserAgent: updated.UserAgent, SetupTokenID: updated.SetupTokenID,
		}
		return out{data: meta}, &next, nil
	})

	if err != nil {
		return mapLockErr[authstate.CredentialMetadata](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	return result.Success(res.data)
}

// RemoveCredential deletes the credential identified by credentialID,
// cascading its sessions and linked setup tokens, and notifies the
// connection registry to close any sessions that were bound to it.
// Removing the last credential is only permitted for loopback requests.
func (s *Service) RemoveCredential(ctx context.Context, credentialID string, isLocalRequest bool) result.Result[struct{}] {
	type out struct {
		tokens []string
		fail   *result.Result[struct{}]
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		if _, ok := st.GetCredential(credentialID); !ok {
			f := result.Fail[struct{}](ReasonNotFound, "credential not found", 404, nil)
			return out{fail: &f}, nil, nil
		}

		var tokens []string
		for tok, sess := range st.Sessions {
			if sess.CredentialID == credentialID {
				tokens = append(tokens, tok)
			}
		}

		next, rerr := st.RemoveCredential(credentialID, authstate.RemoveCredentialOptions{AllowRemoveLast: isLocalRequest})
		if rerr != nil {
			f := result.Fail[struct{}](ReasonLastCredential, "cannot remove the last credential", 403, nil)
			return out{fail: &f}, nil, nil
		}
		return out{tokens: tokens}, &next, nil
	})

	if err != nil {
		return mapLockErr[struct{}](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	if len(res.tokens) > 0 {
		s.notifier.CloseSessions(res.tokens)
	}
	return result.Success(struct{}{})
}

// CreateSetupToken mints a new enrollment bearer token: an 8-random-byte
// hex id, a 16-random-byte hex plaintext token (returned exactly once),
// expiring 7 days (or the configured SetupTokenTTL) from now.
func (s *Service) CreateSetupToken(ctx context.Context, name string) result.Result[SetupTokenIssued] {
	if len(name) > maxTokenNameLen {
		return result.Fail[SetupTokenIssued](ReasonTokenTooLong, "name exceeds the maximum length", 400, nil)
	}

	id := newRandomIDHex(8)
	plaintext := newRandomIDHex(16)

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (SetupTokenIssued, *authstate.State, error) {
		st := deref(current)
		now := nowMillis()
		expiresAt := now + s.setupTokenTTLMs

		next, herr := st.AddSetupToken(authstate.NewSetupToken{
			ID: id, Token: plaintext, Name: name,
			CreatedAt: now, LastUsedAt: 0, ExpiresAt: expiresAt,
		})
		if herr != nil {
			return SetupTokenIssued{}, nil, fmt.Errorf("auth: hash setup token: %w", herr)
		}

		return SetupTokenIssued{ID: id, Token: plaintext, Name: name, ExpiresAt: expiresAt}, &next, nil
	})

	if err != nil {
		return mapLockErr[SetupTokenIssued](err)
	}
	return result.Success(res)
}

// SetupTokenMetadata projects a SetupToken without its hash/salt, for listing.
type SetupTokenMetadata struct {
	ID           string
	Name         string
	CreatedAt    int64
	LastUsedAt   int64
	ExpiresAt    int64
	CredentialID *string
}

// ListSetupTokens returns every live setup token's display metadata.
func (s *Service) ListSetupTokens(ctx context.Context) result.Result[[]SetupTokenMetadata] {
	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) ([]SetupTokenMetadata, *authstate.State, error) {
		st := deref(current)
		out := make([]SetupTokenMetadata, len(st.SetupTokens))
		for i, t := range st.SetupTokens {
			out[i] = SetupTokenMetadata{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt, LastUsedAt: t.LastUsedAt, ExpiresAt: t.ExpiresAt, CredentialID: t.CredentialID}
		}
		return out, nil, nil
	})
	if err != nil {
		return mapLockErr[[]SetupTokenMetadata](err)
	}
	return result.Success(res)
}

// RenameSetupToken updates a setup token's display name.
func (s *Service) RenameSetupToken(ctx context.Context, id, name string) result.Result[SetupTokenMetadata] {
	type out struct {
		data SetupTokenMetadata
		fail *result.Result[SetupTokenMetadata]
	}

	if len(name) > maxTokenNameLen {
		return result.Fail[SetupTokenMetadata](ReasonTokenTooLong, "name exceeds the maximum length", 400, nil)
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)
		found := false
		for _, t := range st.SetupTokens {
			if t.ID == id {
				found = true
				break
			}
		}
		if !found {
			f := result.Fail[SetupTokenMetadata](ReasonNotFound, "setup token not found", 404, nil)
			return out{fail: &f}, nil, nil
		}

		next := st.UpdateSetupToken(id, authstate.SetupTokenPatch{Name: &name})
		var meta SetupTokenMetadata
		for _, t := range next.SetupTokens {
			if t.ID == id {
				meta = SetupTokenMetadata{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt, LastUsedAt: t.LastUsedAt, ExpiresAt: t.ExpiresAt, CredentialID: t.CredentialID}
				break
			}
		}
		return out{data: meta}, &next, nil
	})

	if err != nil {
		return mapLockErr[SetupTokenMetadata](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	return result.Success(res.data)
}

// RevokeSetupToken removes a setup token. If it is already linked to a
// credential, revoking it also removes that credential (cascading its
// sessions), honoring the last-credential rule.
func (s *Service) RevokeSetupToken(ctx context.Context, id string, isLocalRequest bool) result.Result[struct{}] {
	type out struct {
		tokens []string
		fail   *result.Result[struct{}]
	}

	res, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (out, *authstate.State, error) {
		st := deref(current)

		var linkedCredentialID string
		found := false
		for _, t := range st.SetupTokens {
			if t.ID == id {
				found = true
				if t.CredentialID != nil {
					linkedCredentialID = *t.CredentialID
				}
				break
			}
		}
		if !found {
			f := result.Fail[struct{}](ReasonNotFound, "setup token not found", 404, nil)
			return out{fail: &f}, nil, nil
		}

		if linkedCredentialID == "" {
			next := st.RemoveSetupToken(id)
			return out{}, &next, nil
		}

		var tokens []string
		for tok, sess := range st.Sessions {
			if sess.CredentialID == linkedCredentialID {
				tokens = append(tokens, tok)
			}
		}

		next, rerr := st.RemoveCredential(linkedCredentialID, authstate.RemoveCredentialOptions{AllowRemoveLast: isLocalRequest})
		if rerr != nil {
			f := result.Fail[struct{}](ReasonLastCredential, "cannot remove the last credential", 403, nil)
			return out{fail: &f}, nil, nil
		}
		next = next.RemoveSetupToken(id)
		return out{tokens: tokens}, &next, nil
	})

	if err != nil {
		return mapLockErr[struct{}](err)
	}
	if res.fail != nil {
		return *res.fail
	}
	if len(res.tokens) > 0 {
		s.notifier.CloseSessions(res.tokens)
	}
	return result.Success(struct{}{})
}

// RefreshSessionActivity slides a session's expiry per spec.md §4.4's
// sliding-expiry rule. Called on every authenticated request; an invalid
// or unknown token is a silent no-op, never a failure.
func (s *Service) RefreshSessionActivity(ctx context.Context, token string) result.Result[struct{}] {
	_, err := statestore.WithStateLock(ctx, s.store, func(current *authstate.State) (struct{}, *authstate.State, error) {
		st := deref(current)
		now := nowMillis()
		if !st.IsValidSession(token, now) {
			return struct{}{}, nil, nil
		}
		next := st.UpdateSessionActivity(token, now, s.sessionRefreshThresholdMs, s.sessionTTLMs)
		return struct{}{}, &next, nil
	})
	if err != nil {
		return mapLockErr[struct{}](err)
	}
	return result.Success(struct{}{})
}

// deref returns the empty, ownerless state when current is nil (no state
// file exists yet), or the pointed-to state otherwise.
func deref(current *authstate.State) authstate.State {
	if current == nil {
		return authstate.Empty("", "")
	}
	return *current
}

// mapLockErr translates an error returned by statestore.WithStateLock
// into the corresponding Failure. A lock-acquisition timeout gets its own
// reason/status per spec.md §7; anything else is an opaque internal error.
func mapLockErr[T any](err error) result.Result[T] {
	if errors.Is(err, statestore.ErrLockTimeout) {
		return result.Fail[T](ReasonLockTimeout, "could not acquire the state lock in time", 503, nil)
	}
	return result.Fail[T](ReasonInternal, err.Error(), 500, nil)
}

// nowMillis is the Unix time in milliseconds, matching the epoch-ms
// convention used throughout authstate.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// newRandomIDHex returns n cryptographically random bytes, hex-encoded.
func newRandomIDHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
