// Package webauthnadapter implements auth.Verifier over the
// github.com/go-webauthn/webauthn ceremony library. See SPEC_FULL.md §6.
package webauthnadapter

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/wireterm/wireterm/server/internal/auth"
)

// pendingTTL bounds how long a SessionData waits for its matching Finish*
// call before the sweep drops it. Independent of (and looser than) the
// challenge.Store TTL the caller enforces on the challenge string itself.
const pendingTTL = 5 * time.Minute

type pendingCeremony struct {
	session   *webauthn.SessionData
	expiresAt time.Time
}

// Adapter implements auth.Verifier. Verifier's Finish* methods take
// expectedOrigin/expectedRPID as plain per-call strings, but the
// underlying library validates both through a webauthn.Config fixed at
// construction time; Adapter reconciles the two by building a fresh,
// throwaway *webauthn.WebAuthn scoped to exactly the caller-supplied pair
// on every call, rather than keeping one long-lived instance.
type Adapter struct {
	mu      sync.Mutex
	pending map[string]pendingCeremony

	stop chan struct{}
	once sync.Once
}

// New starts an Adapter and its background sweep of abandoned ceremonies.
func New() *Adapter {
	a := &Adapter{
		pending: make(map[string]pendingCeremony),
		stop:    make(chan struct{}),
	}
	go a.sweepLoop()
	return a
}

// Close stops the background sweep. Safe to call more than once.
func (a *Adapter) Close() {
	a.once.Do(func() { close(a.stop) })
}

func (a *Adapter) sweepLoop() {
	ticker := time.NewTicker(pendingTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-a.stop:
			return
		}
	}
}

func (a *Adapter) sweep() {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range a.pending {
		if now.After(v.expiresAt) {
			delete(a.pending, k)
		}
	}
}

// newInstance builds a throwaway webauthn.WebAuthn scoped to origin.
// RPOrigins must be non-empty for the library to accept the config; a
// Begin* call has no real origin to check yet, so it is given a
// placeholder derived from rpID that BeginRegistration/BeginLogin never
// actually compare against a request.
func newInstance(rpName, rpID, origin string) (*webauthn.WebAuthn, error) {
	if origin == "" {
		origin = "https://" + rpID
	}
	return webauthn.New(&webauthn.Config{
		RPDisplayName: rpName,
		RPID:          rpID,
		RPOrigins:     []string{origin},
	})
}

func sanitizeSelection(sel auth.AuthenticatorSelection) protocol.AuthenticatorSelection {
	return protocol.AuthenticatorSelection{
		ResidentKey:      protocol.ResidentKeyRequirement(sel.ResidentKey),
		UserVerification: protocol.UserVerificationRequirement(sel.UserVerification),
	}
}

// BeginRegistration implements auth.Verifier.
func (a *Adapter) BeginRegistration(rpName, rpID string, userID []byte, userName string, sel auth.AuthenticatorSelection) (string, []byte, error) {
	w, err := newInstance(rpName, rpID, "")
	if err != nil {
		return "", nil, fmt.Errorf("webauthnadapter: construct instance: %w", err)
	}

	user := &adapterUser{id: userID, name: userName, displayName: userName}

	var opts []webauthn.RegistrationOption
	if sel.ResidentKey != "" || sel.UserVerification != "" {
		opts = append(opts, webauthn.WithAuthenticatorSelection(sanitizeSelection(sel)))
	}

	creation, session, err := w.BeginRegistration(user, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("webauthnadapter: begin registration: %w", err)
	}

	optionsJSON, err := marshalCreation(creation)
	if err != nil {
		return "", nil, fmt.Errorf("webauthnadapter: marshal creation options: %w", err)
	}

	a.mu.Lock()
	a.pending[session.Challenge] = pendingCeremony{session: session, expiresAt: time.Now().Add(pendingTTL)}
	a.mu.Unlock()

	return session.Challenge, optionsJSON, nil
}

// FinishRegistration implements auth.Verifier.
func (a *Adapter) FinishRegistration(expectedChallenge, expectedOrigin, expectedRPID string, raw []byte) (auth.CredentialRecord, error) {
	a.mu.Lock()
	pending, ok := a.pending[expectedChallenge]
	delete(a.pending, expectedChallenge)
	a.mu.Unlock()
	if !ok {
		return auth.CredentialRecord{}, fmt.Errorf("webauthnadapter: no pending registration for this challenge")
	}

	w, err := newInstance("", expectedRPID, expectedOrigin)
	if err != nil {
		return auth.CredentialRecord{}, fmt.Errorf("webauthnadapter: construct instance: %w", err)
	}

	user := &adapterUser{id: pending.session.UserID}

	httpReq, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	if err != nil {
		return auth.CredentialRecord{}, fmt.Errorf("webauthnadapter: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	cred, err := w.FinishRegistration(user, *pending.session, httpReq)
	if err != nil {
		return auth.CredentialRecord{}, fmt.Errorf("webauthnadapter: finish registration: %w", err)
	}

	return auth.CredentialRecord{
		ID:        cred.ID,
		PublicKey: cred.PublicKey,
		Counter:   cred.Authenticator.SignCount,
	}, nil
}

// BeginLogin implements auth.Verifier. The user handed to the library
// carries only credential ids (no public key material) — BeginLogin only
// needs ids to build the allow-list; the stored public key and counter
// are supplied later, directly, to FinishLogin.
func (a *Adapter) BeginLogin(rpID string, allowCredentials [][]byte) (string, []byte, error) {
	w, err := newInstance("", rpID, "")
	if err != nil {
		return "", nil, fmt.Errorf("webauthnadapter: construct instance: %w", err)
	}

	creds := make([]webauthn.Credential, len(allowCredentials))
	for i, id := range allowCredentials {
		creds[i] = webauthn.Credential{ID: id}
	}
	user := &adapterUser{credentials: creds}

	assertion, session, err := w.BeginLogin(user)
	if err != nil {
		return "", nil, fmt.Errorf("webauthnadapter: begin login: %w", err)
	}

	optionsJSON, err := marshalAssertion(assertion)
	if err != nil {
		return "", nil, fmt.Errorf("webauthnadapter: marshal assertion options: %w", err)
	}

	a.mu.Lock()
	a.pending[session.Challenge] = pendingCeremony{session: session, expiresAt: time.Now().Add(pendingTTL)}
	a.mu.Unlock()

	return session.Challenge, optionsJSON, nil
}

// FinishLogin implements auth.Verifier. The caller's stored credential
// record becomes the library's sole allowed credential for this
// ceremony, so a successful verification can only match the exact
// credential the caller looked up.
func (a *Adapter) FinishLogin(stored auth.CredentialRecord, expectedChallenge, expectedOrigin, expectedRPID string, raw []byte) (uint32, error) {
	a.mu.Lock()
	pending, ok := a.pending[expectedChallenge]
	delete(a.pending, expectedChallenge)
	a.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("webauthnadapter: no pending login for this challenge")
	}

	w, err := newInstance("", expectedRPID, expectedOrigin)
	if err != nil {
		return 0, fmt.Errorf("webauthnadapter: construct instance: %w", err)
	}

	user := &adapterUser{
		id: pending.session.UserID,
		credentials: []webauthn.Credential{{
			ID:            stored.ID,
			PublicKey:     stored.PublicKey,
			Authenticator: webauthn.Authenticator{SignCount: stored.Counter},
		}},
	}

	httpReq, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("webauthnadapter: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	cred, err := w.FinishLogin(user, *pending.session, httpReq)
	if err != nil {
		return 0, fmt.Errorf("webauthnadapter: finish login: %w", err)
	}
	if cred.Authenticator.CloneWarning {
		return 0, fmt.Errorf("webauthnadapter: sign count did not increase, possible credential clone")
	}

	return cred.Authenticator.SignCount, nil
}
