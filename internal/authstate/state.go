// Package authstate implements the immutable AuthState value object: a
// snapshot of {user, credentials, sessions, setupTokens} and the pure
// transitions that produce new snapshots. No method mutates its receiver;
// every mutation returns a new State built from shallow copies of the
// backing slice/map, which is safe because nothing outside this package
// holds interior references into a State's containers. See spec.md §4.4.
package authstate

import "errors"

// ErrLastCredential is returned by RemoveCredential when removing the
// credential would leave the owner with zero credentials and
// allowRemoveLast was not asserted. Distinguishable via errors.Is so the
// HTTP layer can map it to its own 403 response.
var ErrLastCredential = errors.New("authstate: cannot remove the last credential")

// User is the single owner of this state. Created at first successful
// registration; never mutated thereafter.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Credential is a registered passkey.
type Credential struct {
	ID           string  `json:"id"`
	PublicKey    []byte  `json:"publicKey"`
	Counter      uint32  `json:"counter"`
	DeviceID     *string `json:"deviceId"`
	Name         string  `json:"name"`
	CreatedAt    int64   `json:"createdAt"`
	LastUsedAt   int64   `json:"lastUsedAt"`
	UserAgent    string  `json:"userAgent"`
	SetupTokenID *string `json:"setupTokenId,omitempty"`
}

// CredentialMetadata is the projection of a Credential without its
// cryptographic material (PublicKey, Counter), suitable for listing.
type CredentialMetadata struct {
	ID           string  `json:"id"`
	DeviceID     *string `json:"deviceId"`
	Name         string  `json:"name"`
	CreatedAt    int64   `json:"createdAt"`
	LastUsedAt   int64   `json:"lastUsedAt"`
	UserAgent    string  `json:"userAgent"`
	SetupTokenID *string `json:"setupTokenId,omitempty"`
}

// Session is a live, bearer-token-addressed sign-in. Always expected to
// be bound to a live credential; IsValidSession is the authority on
// whether that still holds.
type Session struct {
	Expiry         int64  `json:"expiry"`
	CredentialID   string `json:"credentialId"`
	CSRFToken      string `json:"csrfToken"`
	LastActivityAt int64  `json:"lastActivityAt"`
}

// SetupToken is an enrollment bearer token. The plaintext token is never
// stored — only the salted Hash/Salt pair.
type SetupToken struct {
	ID           string  `json:"id"`
	Hash         string  `json:"hash"`
	Salt         string  `json:"salt"`
	Name         string  `json:"name"`
	CreatedAt    int64   `json:"createdAt"`
	LastUsedAt   int64   `json:"lastUsedAt"`
	ExpiresAt    int64   `json:"expiresAt"`
	CredentialID *string `json:"credentialId,omitempty"`
}

// State is the immutable snapshot. Zero value is a valid, empty state.
type State struct {
	User        *User
	Credentials []Credential
	Sessions    map[string]Session
	SetupTokens []SetupToken
}

// Empty returns a fresh State. If userID is non-empty, a User is created
// immediately (used by migrations backfilling an owner); otherwise the
// state starts ownerless, satisfying invariant 6 (user == nil iff
// credentials empty).
func Empty(userID, userName string) State {
	s := State{
		Sessions: make(map[string]Session),
	}
	if userID != "" {
		if userName == "" {
			userName = "owner"
		}
		s.User = &User{ID: userID, Name: userName}
	}
	return s
}

// clone returns a shallow copy of s with fresh backing containers, so
// that mutating the copy's containers never affects s's.
func (s State) clone() State {
	creds := make([]Credential, len(s.Credentials))
	copy(creds, s.Credentials)

	sessions := make(map[string]Session, len(s.Sessions))
	for k, v := range s.Sessions {
		sessions[k] = v
	}

	tokens := make([]SetupToken, len(s.SetupTokens))
	copy(tokens, s.SetupTokens)

	return State{
		User:        s.User,
		Credentials: creds,
		Sessions:    sessions,
		SetupTokens: tokens,
	}
}

// HasCredentials reports whether the state has at least one credential.
func (s State) HasCredentials() bool {
	return len(s.Credentials) > 0
}

// SessionCount returns the number of sessions currently stored, valid or not.
func (s State) SessionCount() int {
	return len(s.Sessions)
}

// pruneExpired removes sessions whose credential no longer exists and
// setup tokens past their TTL. The login data flow applies it before
// updating the credential and adding the new session.
func (s State) pruneExpired(now int64) State {
	next := s.clone()
	for token, sess := range next.Sessions {
		if sess.CredentialID == "" || !next.credentialExists(sess.CredentialID) {
			delete(next.Sessions, token)
		}
	}
	return next.PruneExpiredTokens(now)
}

func (s State) credentialExists(id string) bool {
	for _, c := range s.Credentials {
		if c.ID == id {
			return true
		}
	}
	return false
}

// PruneExpired is the exported form of pruneExpired, used by callers
// outside this package (AuthService's FinishLogin).
func (s State) PruneExpired(now int64) State {
	return s.pruneExpired(now)
}
