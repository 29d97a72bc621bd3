package auth

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/wireterm/wireterm/server/internal/authstate"
	"github.com/wireterm/wireterm/server/internal/challenge"
	"github.com/wireterm/wireterm/server/internal/lockout"
	"github.com/wireterm/wireterm/server/internal/statestore"
)

// fakeVerifier is a scripted Verifier test double. BeginRegistration and
// BeginLogin echo back a caller-supplied challenge so tests can control
// exactly which challenge string reaches the Store; Finish* calls are
// driven by the failReg/failLogin switches and the counter to return.
type fakeVerifier struct {
	nextChallenge string
	failReg       bool
	failLogin     bool
	nextCredID    []byte
	nextPublicKey []byte
	returnCounter uint32

	finishRegCalls      int
	finishLoginCalls    int
	lastFinishLoginArgs struct {
		stored            CredentialRecord
		expectedChallenge string
		expectedOrigin    string
		expectedRPID      string
	}
}

func (f *fakeVerifier) BeginRegistration(rpName, rpID string, userID []byte, userName string, sel AuthenticatorSelection) (string, []byte, error) {
	return f.nextChallenge, []byte(`{"publicKey":{}}`), nil
}

func (f *fakeVerifier) FinishRegistration(expectedChallenge, expectedOrigin, expectedRPID string, raw []byte) (CredentialRecord, error) {
	f.finishRegCalls++
	if f.failReg {
		return CredentialRecord{}, errFakeVerify
	}
	return CredentialRecord{ID: f.nextCredID, PublicKey: f.nextPublicKey, Counter: f.returnCounter}, nil
}

func (f *fakeVerifier) BeginLogin(rpID string, allowCredentials [][]byte) (string, []byte, error) {
	return f.nextChallenge, []byte(`{"publicKey":{}}`), nil
}

func (f *fakeVerifier) FinishLogin(stored CredentialRecord, expectedChallenge, expectedOrigin, expectedRPID string, raw []byte) (uint32, error) {
	f.finishLoginCalls++
	f.lastFinishLoginArgs.stored = stored
	f.lastFinishLoginArgs.expectedChallenge = expectedChallenge
	f.lastFinishLoginArgs.expectedOrigin = expectedOrigin
	f.lastFinishLoginArgs.expectedRPID = expectedRPID
	if f.failLogin {
		return 0, errFakeVerify
	}
	return f.returnCounter, nil
}

type fakeVerifyError struct{}

func (fakeVerifyError) Error() string { return "fake verifier: rejected" }

var errFakeVerify error = fakeVerifyError{}

// fakeNotifier records every CloseSession/CloseSessions call it receives.
type fakeNotifier struct {
	closed      []string
	closedBatch [][]string
}

func (f *fakeNotifier) CloseSession(token string)     { f.closed = append(f.closed, token) }
func (f *fakeNotifier) CloseSessions(tokens []string) { f.closedBatch = append(f.closedBatch, tokens) }

type testHarness struct {
	svc      *Service
	verifier *fakeVerifier
	notifier *fakeNotifier
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	store, err := statestore.New(statestore.Options{DataDir: t.TempDir(), Name: "test", LockTimeoutMs: 2000})
	if err != nil {
		t.Fatalf("statestore.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	chal := challenge.New(time.Minute)
	t.Cleanup(chal.Close)

	lo := lockout.New(5, 30*time.Second, time.Hour)
	verifier := &fakeVerifier{}
	notifier := &fakeNotifier{}

	svc := NewService(Options{
		Store:                   store,
		Challenges:              chal,
		Lockouts:                lo,
		Verifier:                verifier,
		Notifier:                notifier,
		SessionTTL:              time.Hour,
		SessionRefreshThreshold: time.Minute,
		SetupTokenTTL:           7 * 24 * time.Hour,
	})

	return &testHarness{svc: svc, verifier: verifier, notifier: notifier}
}

func credBytes(b byte) []byte {
	return []byte{b, b, b, b, b, b, b, b}
}

// registerFirstOwner drives a full registration with no setup token, as
// the very first credential on an ownerless store.
func registerFirstOwner(t *testing.T, h *testHarness) RegistrationResult {
	t.Helper()
	h.verifier.nextChallenge = "chal-register-1"
	h.verifier.nextCredID = credBytes(0xAA)
	h.verifier.nextPublicKey = []byte("pubkey-1")
	h.verifier.returnCounter = 0

	begin := h.svc.BeginRegistration(context.Background(), "Test", "localhost", "")
	if !begin.IsOk() {
		t.Fatalf("BeginRegistration failed: %s", begin.Reason())
	}

	finish := h.svc.FinishRegistration(context.Background(), "chal-register-1", []byte("raw"), "localhost", "http://localhost", "ua-1", "Laptop")
	if !finish.IsOk() {
		t.Fatalf("FinishRegistration failed: %s", finish.Reason())
	}
	return finish.Unwrap()
}

// registerFirstOwnerID returns the credential id already registered by
// registerFirstOwner in this harness's store.
func registerFirstOwnerID(t *testing.T, h *testHarness) string {
	t.Helper()
	list := h.svc.ListCredentials(context.Background())
	if !list.IsOk() || len(list.Unwrap()) == 0 {
		t.Fatalf("no credential registered yet")
	}
	return list.Unwrap()[0].ID
}

func TestBeginRegistrationRefusesWithoutSetupTokenOnceOwnerExists(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)

	res := h.svc.BeginRegistration(context.Background(), "Test", "localhost", "")
	if res.IsOk() {
		t.Fatalf("BeginRegistration = ok, want Failure(not-setup)")
	}
	if res.Reason() != ReasonNotSetup {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonNotSetup)
	}
}

func TestBeginRegistrationRejectsUnknownSetupToken(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)

	res := h.svc.BeginRegistration(context.Background(), "Test", "localhost", "not-a-real-token")
	if res.IsOk() {
		t.Fatalf("BeginRegistration = ok, want Failure(invalid-setup-token)")
	}
	if res.Reason() != ReasonInvalidSetupToken {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonInvalidSetupToken)
	}
}

func TestFinishRegistrationFirstCredentialCreatesOwnerAndSession(t *testing.T) {
	h := newTestHarness(t)
	out := registerFirstOwner(t, h)

	if out.Session.Token == "" || out.Session.CSRFToken == "" {
		t.Fatalf("session not fully populated: %+v", out.Session)
	}
	if out.CredentialID != hex.EncodeToString(credBytes(0xAA)) {
		t.Errorf("CredentialID = %s, want %s", out.CredentialID, hex.EncodeToString(credBytes(0xAA)))
	}

	list := h.svc.ListCredentials(context.Background())
	if !list.IsOk() || len(list.Unwrap()) != 1 {
		t.Fatalf("ListCredentials = %+v", list)
	}
}

func TestFinishRegistrationRevalidatesSetupTokenAfterChallengeIssued(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)

	created := h.svc.CreateSetupToken(context.Background(), "Guest Laptop")
	if !created.IsOk() {
		t.Fatalf("CreateSetupToken failed: %s", created.Reason())
	}
	tok := created.Unwrap()

	begin := h.svc.BeginRegistration(context.Background(), "Test", "localhost", tok.Token)
	if !begin.IsOk() {
		t.Fatalf("BeginRegistration failed: %s", begin.Reason())
	}
	challengeStr := begin.Unwrap().Challenge

	// Revoke the setup token after BeginRegistration has already issued
	// the challenge bound to it. FinishRegistration must re-check the
	// token under lock rather than trusting the snapshot BeginRegistration
	// saw, closing the gap between the two calls.
	revoke := h.svc.RevokeSetupToken(context.Background(), tok.ID, true)
	if !revoke.IsOk() {
		t.Fatalf("RevokeSetupToken failed: %s", revoke.Reason())
	}

	h.verifier.nextCredID = credBytes(0xBB)
	h.verifier.nextPublicKey = []byte("pubkey-2")
	finish := h.svc.FinishRegistration(context.Background(), challengeStr, []byte("raw"), "localhost", "http://localhost", "ua-2", "Guest Laptop")
	if finish.IsOk() {
		t.Fatalf("FinishRegistration = ok, want Failure(invalid-setup-token)")
	}
	if finish.Reason() != ReasonInvalidSetupToken {
		t.Errorf("Reason = %s, want %s", finish.Reason(), ReasonInvalidSetupToken)
	}
}

func TestFinishRegistrationRejectsReusedChallenge(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)

	created := h.svc.CreateSetupToken(context.Background(), "Second Device")
	if !created.IsOk() {
		t.Fatalf("CreateSetupToken failed: %s", created.Reason())
	}
	begin := h.svc.BeginRegistration(context.Background(), "Test", "localhost", created.Unwrap().Token)
	if !begin.IsOk() {
		t.Fatalf("BeginRegistration failed: %s", begin.Reason())
	}
	challengeStr := begin.Unwrap().Challenge

	h.verifier.nextCredID = credBytes(0xCC)
	first := h.svc.FinishRegistration(context.Background(), challengeStr, []byte("raw"), "localhost", "http://localhost", "ua", "Second Device")
	if !first.IsOk() {
		t.Fatalf("first FinishRegistration failed: %s", first.Reason())
	}

	second := h.svc.FinishRegistration(context.Background(), challengeStr, []byte("raw"), "localhost", "http://localhost", "ua", "Second Device")
	if second.IsOk() {
		t.Fatalf("second FinishRegistration = ok, want Failure(invalid-challenge)")
	}
	if second.Reason() != ReasonInvalidChallenge {
		t.Errorf("Reason = %s, want %s", second.Reason(), ReasonInvalidChallenge)
	}
}

func TestBeginLoginFailsWithNoCredentials(t *testing.T) {
	h := newTestHarness(t)
	res := h.svc.BeginLogin(context.Background(), "localhost")
	if res.IsOk() {
		t.Fatalf("BeginLogin = ok, want Failure(not-setup)")
	}
	if res.Reason() != ReasonNotSetup {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonNotSetup)
	}
}

func TestFinishLoginChecksCredentialBeforeConsumingChallenge(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)
	credID := registerFirstOwnerID(t, h)

	h.verifier.nextChallenge = "chal-login-1"
	begin := h.svc.BeginLogin(context.Background(), "localhost")
	if !begin.IsOk() {
		t.Fatalf("BeginLogin failed: %s", begin.Reason())
	}
	challengeStr := begin.Unwrap().Challenge

	res := h.svc.FinishLogin(context.Background(), challengeStr, "unknown-credential-id", []byte("raw"), "localhost", "http://localhost", "ua")
	if res.IsOk() {
		t.Fatalf("FinishLogin = ok, want Failure(unknown-credential)")
	}
	if res.Reason() != ReasonUnknownCredential {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonUnknownCredential)
	}

	// The challenge must still be live: an unknown credential id fails
	// before Consume is reached, so a retry with a real credential id
	// against the same challenge should still be able to consume it.
	second := h.svc.FinishLogin(context.Background(), challengeStr, credID, []byte("raw"), "localhost", "http://localhost", "ua")
	if !second.IsOk() {
		t.Fatalf("FinishLogin (retry) failed: %s", second.Reason())
	}
}

func TestFinishLoginRejectsBadAssertionAndLocksOutAfterThreshold(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)
	credID := registerFirstOwnerID(t, h)

	h.verifier.failLogin = true
	for i := 0; i < 5; i++ {
		h.verifier.nextChallenge = "chal-fail"
		begin := h.svc.BeginLogin(context.Background(), "localhost")
		if !begin.IsOk() {
			t.Fatalf("BeginLogin failed: %s", begin.Reason())
		}
		res := h.svc.FinishLogin(context.Background(), begin.Unwrap().Challenge, credID, []byte("raw"), "localhost", "http://localhost", "ua")
		if res.IsOk() {
			t.Fatalf("FinishLogin(%d) = ok, want Failure(verification-failed)", i)
		}
	}

	h.verifier.failLogin = false
	h.verifier.nextChallenge = "chal-locked"
	begin := h.svc.BeginLogin(context.Background(), "localhost")
	if !begin.IsOk() {
		t.Fatalf("BeginLogin failed: %s", begin.Reason())
	}
	res := h.svc.FinishLogin(context.Background(), begin.Unwrap().Challenge, credID, []byte("raw"), "localhost", "http://localhost", "ua")
	if res.IsOk() {
		t.Fatalf("FinishLogin = ok after lockout threshold, want Failure(verification-failed)")
	}
	if res.Reason() != ReasonVerificationFailed {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonVerificationFailed)
	}
}

func TestFinishLoginSucceedsAndIssuesSession(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)
	credID := registerFirstOwnerID(t, h)

	h.verifier.nextChallenge = "chal-login-ok"
	begin := h.svc.BeginLogin(context.Background(), "localhost")
	if !begin.IsOk() {
		t.Fatalf("BeginLogin failed: %s", begin.Reason())
	}

	res := h.svc.FinishLogin(context.Background(), begin.Unwrap().Challenge, credID, []byte("raw"), "localhost", "http://localhost", "ua")
	if !res.IsOk() {
		t.Fatalf("FinishLogin failed: %s", res.Reason())
	}
	if res.Unwrap().Session.Token == "" {
		t.Errorf("FinishLogin returned empty session token")
	}
}

func TestLogoutRemovesCredentialAndNotifiesSession(t *testing.T) {
	h := newTestHarness(t)
	out := registerFirstOwner(t, h)

	res := h.svc.Logout(context.Background(), out.Session.Token, true)
	if !res.IsOk() {
		t.Fatalf("Logout failed: %s", res.Reason())
	}

	list := h.svc.ListCredentials(context.Background())
	if !list.IsOk() || len(list.Unwrap()) != 0 {
		t.Fatalf("ListCredentials after logout = %+v, want empty", list)
	}
	if len(h.notifier.closed) != 1 || h.notifier.closed[0] != out.Session.Token {
		t.Errorf("notifier.closed = %v, want [%s]", h.notifier.closed, out.Session.Token)
	}
}

func TestLogoutRefusesToRemoveLastCredentialWithoutLocalOverride(t *testing.T) {
	h := newTestHarness(t)
	out := registerFirstOwner(t, h)

	res := h.svc.Logout(context.Background(), out.Session.Token, false)
	if res.IsOk() {
		t.Fatalf("Logout = ok, want Failure(last-credential)")
	}
	if res.Reason() != ReasonLastCredential {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonLastCredential)
	}

	list := h.svc.ListCredentials(context.Background())
	if !list.IsOk() || len(list.Unwrap()) != 1 {
		t.Fatalf("ListCredentials after refused logout = %+v, want 1 credential still present", list)
	}
}

func TestRevokeAllClosesEverySessionAndKeepsCredentials(t *testing.T) {
	h := newTestHarness(t)
	out := registerFirstOwner(t, h)
	credID := registerFirstOwnerID(t, h)

	h.verifier.nextChallenge = "chal-second-session"
	begin := h.svc.BeginLogin(context.Background(), "localhost")
	second := h.svc.FinishLogin(context.Background(), begin.Unwrap().Challenge, credID, []byte("raw"), "localhost", "http://localhost", "ua")
	if !second.IsOk() {
		t.Fatalf("second FinishLogin failed: %s", second.Reason())
	}

	res := h.svc.RevokeAll(context.Background())
	if !res.IsOk() {
		t.Fatalf("RevokeAll failed: %s", res.Reason())
	}

	if len(h.notifier.closedBatch) != 1 {
		t.Fatalf("notifier.closedBatch = %v, want exactly one batch", h.notifier.closedBatch)
	}
	got := map[string]bool{}
	for _, tok := range h.notifier.closedBatch[0] {
		got[tok] = true
	}
	if !got[out.Session.Token] || !got[second.Unwrap().Session.Token] {
		t.Errorf("closedBatch = %v, want both sessions present", h.notifier.closedBatch[0])
	}

	list := h.svc.ListCredentials(context.Background())
	if !list.IsOk() || len(list.Unwrap()) != 1 {
		t.Fatalf("ListCredentials after RevokeAll = %+v, want credential retained", list)
	}
}

func TestRenameCredentialRejectsOverlongName(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)
	credID := registerFirstOwnerID(t, h)

	longName := make([]byte, maxTokenNameLen+1)
	for i := range longName {
		longName[i] = 'a'
	}

	res := h.svc.RenameCredential(context.Background(), credID, string(longName))
	if res.IsOk() {
		t.Fatalf("RenameCredential = ok, want Failure(token-too-long)")
	}
	if res.Reason() != ReasonTokenTooLong {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonTokenTooLong)
	}
}

func TestRenameCredentialUpdatesName(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)
	credID := registerFirstOwnerID(t, h)

	res := h.svc.RenameCredential(context.Background(), credID, "Renamed Device")
	if !res.IsOk() {
		t.Fatalf("RenameCredential failed: %s", res.Reason())
	}
	if res.Unwrap().Name != "Renamed Device" {
		t.Errorf("Name = %s, want Renamed Device", res.Unwrap().Name)
	}
}

func TestRemoveCredentialNotFound(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)

	res := h.svc.RemoveCredential(context.Background(), "does-not-exist", true)
	if res.IsOk() {
		t.Fatalf("RemoveCredential = ok, want Failure(not-found)")
	}
	if res.Reason() != ReasonNotFound {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonNotFound)
	}
}

func TestCreateSetupTokenThenListThenRename(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)

	created := h.svc.CreateSetupToken(context.Background(), "Front Door")
	if !created.IsOk() {
		t.Fatalf("CreateSetupToken failed: %s", created.Reason())
	}
	if created.Unwrap().Token == "" {
		t.Fatalf("CreateSetupToken returned empty plaintext token")
	}

	list := h.svc.ListSetupTokens(context.Background())
	if !list.IsOk() || len(list.Unwrap()) != 1 {
		t.Fatalf("ListSetupTokens = %+v, want exactly one token", list)
	}
	if list.Unwrap()[0].Name != "Front Door" {
		t.Errorf("Name = %s, want Front Door", list.Unwrap()[0].Name)
	}

	renamed := h.svc.RenameSetupToken(context.Background(), created.Unwrap().ID, "Back Door")
	if !renamed.IsOk() {
		t.Fatalf("RenameSetupToken failed: %s", renamed.Reason())
	}
	if renamed.Unwrap().Name != "Back Door" {
		t.Errorf("Name = %s, want Back Door", renamed.Unwrap().Name)
	}
}

func TestRevokeSetupTokenWithoutLinkedCredentialJustRemovesToken(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)

	created := h.svc.CreateSetupToken(context.Background(), "Unused Invite")
	if !created.IsOk() {
		t.Fatalf("CreateSetupToken failed: %s", created.Reason())
	}

	res := h.svc.RevokeSetupToken(context.Background(), created.Unwrap().ID, false)
	if !res.IsOk() {
		t.Fatalf("RevokeSetupToken failed: %s", res.Reason())
	}

	list := h.svc.ListSetupTokens(context.Background())
	if !list.IsOk() || len(list.Unwrap()) != 0 {
		t.Fatalf("ListSetupTokens after revoke = %+v, want empty", list)
	}
}

func TestRevokeSetupTokenLinkedToCredentialCascadesRemoval(t *testing.T) {
	h := newTestHarness(t)
	registerFirstOwner(t, h)

	created := h.svc.CreateSetupToken(context.Background(), "Guest")
	begin := h.svc.BeginRegistration(context.Background(), "Test", "localhost", created.Unwrap().Token)
	if !begin.IsOk() {
		t.Fatalf("BeginRegistration failed: %s", begin.Reason())
	}
	h.verifier.nextCredID = credBytes(0xDD)
	finish := h.svc.FinishRegistration(context.Background(), begin.Unwrap().Challenge, []byte("raw"), "localhost", "http://localhost", "ua", "Guest Device")
	if !finish.IsOk() {
		t.Fatalf("FinishRegistration failed: %s", finish.Reason())
	}

	res := h.svc.RevokeSetupToken(context.Background(), created.Unwrap().ID, true)
	if !res.IsOk() {
		t.Fatalf("RevokeSetupToken failed: %s", res.Reason())
	}

	list := h.svc.ListCredentials(context.Background())
	if !list.IsOk() {
		t.Fatalf("ListCredentials failed")
	}
	for _, c := range list.Unwrap() {
		if c.ID == finish.Unwrap().CredentialID {
			t.Fatalf("credential %s still present after linked setup token revoked", c.ID)
		}
	}
	if len(h.notifier.closedBatch) != 1 || len(h.notifier.closedBatch[0]) != 1 {
		t.Errorf("notifier.closedBatch = %v, want exactly one session closed", h.notifier.closedBatch)
	}
}

func TestRefreshSessionActivitySlidesExpiry(t *testing.T) {
	h := newTestHarness(t)
	out := registerFirstOwner(t, h)

	res := h.svc.RefreshSessionActivity(context.Background(), out.Session.Token)
	if !res.IsOk() {
		t.Fatalf("RefreshSessionActivity failed: %s", res.Reason())
	}
}

func TestRefreshSessionActivityIsNoOpForUnknownToken(t *testing.T) {
	h := newTestHarness(t)
	res := h.svc.RefreshSessionActivity(context.Background(), "not-a-real-token")
	if !res.IsOk() {
		t.Fatalf("RefreshSessionActivity failed: %s", res.Reason())
	}
}

func TestMapLockErrTranslatesLockTimeout(t *testing.T) {
	res := mapLockErr[struct{}](statestore.ErrLockTimeout)
	if res.IsOk() {
		t.Fatalf("mapLockErr(ErrLockTimeout) = ok, want Failure(lock-timeout)")
	}
	if res.Reason() != ReasonLockTimeout {
		t.Errorf("Reason = %s, want %s", res.Reason(), ReasonLockTimeout)
	}
	if res.Status() != 503 {
		t.Errorf("Status = %d, want 503", res.Status())
	}
}

func TestDerefReturnsEmptyStateForNil(t *testing.T) {
	s := deref(nil)
	if s.User != nil || s.HasCredentials() {
		t.Errorf("deref(nil) = %+v, want empty ownerless state", s)
	}
}

func TestDerefReturnsSameStateWhenNonNil(t *testing.T) {
	seed := authstate.Empty("user-1", "owner")
	s := deref(&seed)
	if s.User == nil || s.User.ID != "user-1" {
		t.Errorf("deref(&seed) = %+v, want seed preserved", s)
	}
}
