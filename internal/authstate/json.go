package authstate

import "encoding/json"

// wireState mirrors the on-disk JSON shape from spec.md §6: top-level
// keys user, credentials, sessions, setupTokens, with credentials/
// setupTokens as arrays (never null) and sessions as an object (never
// null), even when empty.
type wireState struct {
	User        *User              `json:"user"`
	Credentials []Credential       `json:"credentials"`
	Sessions    map[string]Session `json:"sessions"`
	SetupTokens []SetupToken       `json:"setupTokens"`
}

// MarshalJSON renders s in the canonical on-disk shape.
func (s State) MarshalJSON() ([]byte, error) {
	w := wireState{
		User:        s.User,
		Credentials: s.Credentials,
		Sessions:    s.Sessions,
		SetupTokens: s.SetupTokens,
	}
	if w.Credentials == nil {
		w.Credentials = []Credential{}
	}
	if w.Sessions == nil {
		w.Sessions = map[string]Session{}
	}
	if w.SetupTokens == nil {
		w.SetupTokens = []SetupToken{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the canonical on-disk shape into s. Callers
// feeding in legacy/corrupt layouts should go through the migration
// chain (package statestore) first, not through this method directly.
func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.User = w.User
	s.Credentials = w.Credentials
	s.Sessions = w.Sessions
	if s.Sessions == nil {
		s.Sessions = map[string]Session{}
	}
	s.SetupTokens = w.SetupTokens
	return nil
}

// JSON returns the canonical on-disk JSON encoding of s.
func (s State) JSON() ([]byte, error) {
	return json.Marshal(s)
}
