package authstate

// AddSession returns a new State with a session stored under token.
func (s State) AddSession(token string, expiry int64, credentialID, csrfToken string, lastActivityAt int64) State {
	next := s.clone()
	next.Sessions[token] = Session{
		Expiry:         expiry,
		CredentialID:   credentialID,
		CSRFToken:      csrfToken,
		LastActivityAt: lastActivityAt,
	}
	return next
}

// RemoveSession returns a new State with token's session removed, if present.
func (s State) RemoveSession(token string) State {
	next := s.clone()
	delete(next.Sessions, token)
	return next
}

// RevokeAllSessions returns a new State with every session removed.
func (s State) RevokeAllSessions() State {
	next := s.clone()
	next.Sessions = make(map[string]Session)
	return next
}

// UpdateSessionActivity sets the session's LastActivityAt to now. If the
// gap since the previous LastActivityAt exceeds refreshThresholdMs, the
// session's Expiry also slides forward to now + SESSION_TTL (sessionTTLMs),
// implementing sliding expiry (spec.md §4.4, §5: Expiry never decreases
// except by explicit revocation). A no-op (returns s unchanged) if token
// is not a known session.
func (s State) UpdateSessionActivity(token string, now int64, refreshThresholdMs, sessionTTLMs int64) State {
	sess, ok := s.Sessions[token]
	if !ok {
		return s
	}

	next := s.clone()
	if now-sess.LastActivityAt > refreshThresholdMs {
		sess.Expiry = now + sessionTTLMs
	}
	sess.LastActivityAt = now
	next.Sessions[token] = sess
	return next
}

// GetSession returns the raw session entry for token, and whether it
// exists. It applies none of IsValidSession's validity checks.
func (s State) GetSession(token string) (Session, bool) {
	sess, ok := s.Sessions[token]
	return sess, ok
}

// IsValidSession is the security gate: it returns true only if token is
// non-empty, the session exists, it has a non-empty CredentialID, it has
// not expired as of now, and a credential with that id currently exists.
func (s State) IsValidSession(token string, now int64) bool {
	if token == "" {
		return false
	}
	sess, ok := s.Sessions[token]
	if !ok {
		return false
	}
	if sess.CredentialID == "" {
		return false
	}
	if now >= sess.Expiry {
		return false
	}
	return s.credentialExists(sess.CredentialID)
}

// GetValidSessions returns every token whose session currently passes
// IsValidSession.
func (s State) GetValidSessions(now int64) []string {
	var tokens []string
	for token := range s.Sessions {
		if s.IsValidSession(token, now) {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// EndSessionResult is returned by EndSession.
type EndSessionResult struct {
	State             State
	RemovedCredentialID string // empty if the session was orphan or absent
}

// EndSession removes token's session and, if it was bound to a
// credential, removes that credential too (cascading sessions and linked
// setup tokens), honoring the same last-credential guard as
// RemoveCredential. If the session was orphan (no CredentialID) or
// already absent, only the session entry itself is removed and
// RemovedCredentialID is left empty.
func (s State) EndSession(token string, opts RemoveCredentialOptions) (EndSessionResult, error) {
	sess, ok := s.Sessions[token]
	if !ok || sess.CredentialID == "" {
		return EndSessionResult{State: s.RemoveSession(token)}, nil
	}

	next, err := s.RemoveCredential(sess.CredentialID, opts)
	if err != nil {
		return EndSessionResult{State: s}, err
	}
	return EndSessionResult{State: next, RemovedCredentialID: sess.CredentialID}, nil
}
