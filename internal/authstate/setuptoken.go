package authstate

import "github.com/wireterm/wireterm/server/internal/tokenhash"

// NewSetupToken carries the inputs to AddSetupToken. Token is the
// plaintext bearer string; it is hashed at the boundary and never stored.
type NewSetupToken struct {
	ID           string
	Token        string
	Name         string
	CreatedAt    int64
	LastUsedAt   int64
	ExpiresAt    int64
	CredentialID *string
}

// AddSetupToken hashes in.Token and appends the resulting SetupToken
// (hash+salt only, no plaintext) to the state. Returns an error only if
// the underlying hash derivation fails.
func (s State) AddSetupToken(in NewSetupToken) (State, error) {
	hashHex, saltHex, err := tokenhash.Hash(in.Token)
	if err != nil {
		return s, err
	}

	next := s.clone()
	next.SetupTokens = append(next.SetupTokens, SetupToken{
		ID:           in.ID,
		Hash:         hashHex,
		Salt:         saltHex,
		Name:         in.Name,
		CreatedAt:    in.CreatedAt,
		LastUsedAt:   in.LastUsedAt,
		ExpiresAt:    in.ExpiresAt,
		CredentialID: in.CredentialID,
	})
	return next, nil
}

// RemoveSetupToken returns a new State with the token identified by id removed.
func (s State) RemoveSetupToken(id string) State {
	next := s.clone()
	filtered := next.SetupTokens[:0:0]
	for _, t := range next.SetupTokens {
		if t.ID != id {
			filtered = append(filtered, t)
		}
	}
	next.SetupTokens = filtered
	return next
}

// SetupTokenPatch carries the subset of SetupToken fields UpdateSetupToken
// may change. A nil field leaves that attribute unchanged.
type SetupTokenPatch struct {
	Name         *string
	LastUsedAt   *int64
	CredentialID *string
}

// UpdateSetupToken applies patch to the setup token with the given id.
// If id is not found, the returned State is identical to s.
func (s State) UpdateSetupToken(id string, patch SetupTokenPatch) State {
	next := s.clone()
	for i, t := range next.SetupTokens {
		if t.ID != id {
			continue
		}
		if patch.Name != nil {
			t.Name = *patch.Name
		}
		if patch.LastUsedAt != nil {
			t.LastUsedAt = *patch.LastUsedAt
		}
		if patch.CredentialID != nil {
			t.CredentialID = patch.CredentialID
		}
		next.SetupTokens[i] = t
		break
	}
	return next
}

// FindSetupToken looks up the setup token matching plaintext. Per
// spec.md §4.4, it iterates over every setup token without
// short-circuiting on a hit — the first match is recorded but every
// remaining entry is still verified, so the cost of this call does not
// depend on where (or whether) a match occurs. After the full scan, the
// fail-closed expiry check is applied to the match, if any.
func (s State) FindSetupToken(plaintext string, now int64) (SetupToken, bool) {
	var found SetupToken
	foundOK := false
	for _, t := range s.SetupTokens {
		matched := tokenhash.Verify(plaintext, t.Salt, t.Hash)
		if matched && !foundOK {
			found = t
			foundOK = true
		}
	}
	if !foundOK {
		return SetupToken{}, false
	}
	if found.ExpiresAt <= now {
		return SetupToken{}, false
	}
	return found, true
}

// PruneExpiredTokens returns a new State with every setup token whose
// ExpiresAt is missing (zero) or has passed removed.
func (s State) PruneExpiredTokens(now int64) State {
	next := s.clone()
	filtered := next.SetupTokens[:0:0]
	for _, t := range next.SetupTokens {
		if t.ExpiresAt <= now {
			continue
		}
		filtered = append(filtered, t)
	}
	next.SetupTokens = filtered
	return next
}
