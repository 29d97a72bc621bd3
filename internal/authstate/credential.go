package authstate

// AddCredential returns a new State with c appended to Credentials. The
// caller is responsible for ensuring a User already exists (via Empty) —
// AddCredential never synthesizes one, preserving invariant 6 (user == nil
// iff credentials empty) as an invariant the caller upholds, not one this
// method repairs.
func (s State) AddCredential(c Credential) State {
	next := s.clone()
	next.Credentials = append(next.Credentials, c)
	return next
}

// CredentialPatch carries the subset of Credential fields UpdateCredential
// may change. A nil field leaves that attribute unchanged.
type CredentialPatch struct {
	Counter    *uint32
	Name       *string
	DeviceID   *string
	LastUsedAt *int64
	UserAgent  *string
}

// UpdateCredential applies patch to the credential with the given id,
// returning a new State. If id is not found, the returned State is
// identical to s.
func (s State) UpdateCredential(id string, patch CredentialPatch) State {
	next := s.clone()
	for i, c := range next.Credentials {
		if c.ID != id {
			continue
		}
		if patch.Counter != nil {
			c.Counter = *patch.Counter
		}
		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if patch.DeviceID != nil {
			c.DeviceID = patch.DeviceID
		}
		if patch.LastUsedAt != nil {
			c.LastUsedAt = *patch.LastUsedAt
		}
		if patch.UserAgent != nil {
			c.UserAgent = *patch.UserAgent
		}
		next.Credentials[i] = c
		break
	}
	return next
}

// RemoveCredentialOptions controls the last-credential guard.
type RemoveCredentialOptions struct {
	AllowRemoveLast bool
}

// RemoveCredential removes the credential with the given id, cascading to
// every session bound to it and every setup token linked to it (invariant
// 4). Removing the last remaining credential returns ErrLastCredential
// unless opts.AllowRemoveLast is set (granted only for loopback requests
// by the caller).
func (s State) RemoveCredential(id string, opts RemoveCredentialOptions) (State, error) {
	if len(s.Credentials) == 1 && s.Credentials[0].ID == id && !opts.AllowRemoveLast {
		return s, ErrLastCredential
	}

	next := s.clone()

	filtered := next.Credentials[:0:0]
	for _, c := range next.Credentials {
		if c.ID != id {
			filtered = append(filtered, c)
		}
	}
	next.Credentials = filtered

	for token, sess := range next.Sessions {
		if sess.CredentialID == id {
			delete(next.Sessions, token)
		}
	}

	tokens := next.SetupTokens[:0:0]
	for _, st := range next.SetupTokens {
		if st.CredentialID != nil && *st.CredentialID == id {
			continue
		}
		tokens = append(tokens, st)
	}
	next.SetupTokens = tokens

	return next, nil
}

// GetCredential returns the credential with the given id, and whether it
// was found.
func (s State) GetCredential(id string) (Credential, bool) {
	for _, c := range s.Credentials {
		if c.ID == id {
			return c, true
		}
	}
	return Credential{}, false
}

// GetCredentialsWithMetadata returns the metadata-only projection of every
// credential (no PublicKey/Counter), in registration order.
func (s State) GetCredentialsWithMetadata() []CredentialMetadata {
	out := make([]CredentialMetadata, len(s.Credentials))
	for i, c := range s.Credentials {
		out[i] = CredentialMetadata{
			ID:           c.ID,
			DeviceID:     c.DeviceID,
			Name:         c.Name,
			CreatedAt:    c.CreatedAt,
			LastUsedAt:   c.LastUsedAt,
			UserAgent:    c.UserAgent,
			SetupTokenID: c.SetupTokenID,
		}
	}
	return out
}
