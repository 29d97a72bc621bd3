package statestore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/wireterm/wireterm/server/internal/tokenhash"
)

// migrateRaw runs the full ordered migration chain over a loosely-typed
// JSON tree (decoded with encoding/json's default map[string]interface{}
// rules: numbers arrive as float64) and reports whether anything changed.
// Every step is idempotent: running the chain twice over its own output
// produces no further changes. See spec.md §4.5.1.
func migrateRaw(raw map[string]interface{}, now int64) (map[string]interface{}, bool) {
	changed := false
	if migrateScalarSetupToken(raw, now) {
		changed = true
	}
	if migratePlaintextSetupTokens(raw) {
		changed = true
	}
	if migrateCredentialMetadata(raw, now) {
		changed = true
	}
	if migrateOrphanedSessions(raw) {
		changed = true
	}
	if migrateSessionLastActivity(raw, now) {
		changed = true
	}
	if migrateSetupTokenExpiry(raw, now) {
		changed = true
	}
	return raw, changed
}

// migrateScalarSetupToken upgrades the old single-setupToken layout
// (key "setupToken", either a bare plaintext string or an object
// {id,name,createdAt,lastUsedAt,expiresAt,token}) into the current
// "setupTokens" array. The migrated entry's hash/salt are freshly random,
// never derived from the legacy plaintext, so it can never again be
// redeemed — callers see it purely for display (name/timestamps) until
// it ages out via migrateSetupTokenExpiry.
func migrateScalarSetupToken(raw map[string]interface{}, now int64) bool {
	legacy, ok := raw["setupToken"]
	if !ok {
		return false
	}
	delete(raw, "setupToken")

	// A legacy record carries no guarantee of its own expiry, so one that
	// doesn't specify an expiresAt is given a long display window rather
	// than being swept away by migrateSetupTokenExpiry in this same pass.
	const legacyDisplayWindowMs = int64(10) * 365 * 24 * 60 * 60 * 1000
	entry := map[string]interface{}{
		"id":         randomHex(4),
		"name":       "Legacy Setup Token",
		"createdAt":  float64(now),
		"lastUsedAt": float64(now),
		"expiresAt":  float64(now + legacyDisplayWindowMs),
	}
	if obj, ok := legacy.(map[string]interface{}); ok {
		for _, key := range []string{"id", "name", "createdAt", "lastUsedAt", "expiresAt"} {
			if v, present := obj[key]; present {
				entry[key] = v
			}
		}
	}
	hashHex, saltHex, err := tokenhash.Hash(randomHex(16))
	if err == nil {
		entry["hash"] = hashHex
		entry["salt"] = saltHex
	}

	tokens, _ := raw["setupTokens"].([]interface{})
	raw["setupTokens"] = append(tokens, entry)
	return true
}

// migratePlaintextSetupTokens hashes any setup token entry that still
// carries a plaintext "token" field instead of hash/salt.
func migratePlaintextSetupTokens(raw map[string]interface{}) bool {
	tokens, ok := raw["setupTokens"].([]interface{})
	if !ok {
		return false
	}
	changed := false
	for _, item := range tokens {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		plaintext, hasPlain := entry["token"].(string)
		if !hasPlain {
			continue
		}
		if hashHex, saltHex, err := tokenhash.Hash(plaintext); err == nil {
			entry["hash"] = hashHex
			entry["salt"] = saltHex
		}
		delete(entry, "token")
		changed = true
	}
	return changed
}

// migrateCredentialMetadata backfills display metadata (name, device id,
// timestamps, user agent) on credentials persisted before that metadata
// existed, naming each "Device N" by its 1-based position.
func migrateCredentialMetadata(raw map[string]interface{}, now int64) bool {
	creds, ok := raw["credentials"].([]interface{})
	if !ok {
		return false
	}
	changed := false
	for i, item := range creds {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if _, present := entry["name"]; !present {
			entry["name"] = fmt.Sprintf("Device %d", i+1)
			changed = true
		}
		if _, present := entry["deviceId"]; !present {
			entry["deviceId"] = nil
			changed = true
		}
		if _, present := entry["createdAt"]; !present {
			entry["createdAt"] = float64(now)
			changed = true
		}
		if _, present := entry["lastUsedAt"]; !present {
			entry["lastUsedAt"] = float64(now)
			changed = true
		}
		if _, present := entry["userAgent"]; !present {
			entry["userAgent"] = "Unknown"
			changed = true
		}
	}
	return changed
}

// migrateOrphanedSessions removes any session entry that is not a proper
// object, has no credentialId, or points at a credential id that no
// longer exists. This is what closes the gap a manually-edited or
// partially-written state file could otherwise leave: a session that
// would pass IsValidSession's shape checks but reference nothing.
func migrateOrphanedSessions(raw map[string]interface{}) bool {
	sessions, ok := raw["sessions"].(map[string]interface{})
	if !ok {
		return false
	}

	knownCreds := map[string]bool{}
	if creds, ok := raw["credentials"].([]interface{}); ok {
		for _, item := range creds {
			if entry, ok := item.(map[string]interface{}); ok {
				if id, _ := entry["id"].(string); id != "" {
					knownCreds[id] = true
				}
			}
		}
	}

	changed := false
	for token, v := range sessions {
		entry, ok := v.(map[string]interface{})
		if !ok {
			delete(sessions, token)
			changed = true
			continue
		}
		credID, _ := entry["credentialId"].(string)
		if credID == "" || !knownCreds[credID] {
			delete(sessions, token)
			changed = true
		}
	}
	return changed
}

// migrateSessionLastActivity backfills lastActivityAt on sessions
// persisted before the sliding-expiry feature existed, setting it to now.
func migrateSessionLastActivity(raw map[string]interface{}, now int64) bool {
	sessions, ok := raw["sessions"].(map[string]interface{})
	if !ok {
		return false
	}
	changed := false
	for _, v := range sessions {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if _, present := entry["lastActivityAt"]; !present {
			entry["lastActivityAt"] = float64(now)
			changed = true
		}
	}
	return changed
}

// migrateSetupTokenExpiry drops any setup token whose expiresAt is
// missing or already in the past, mirroring the fail-closed rule
// FindSetupToken applies to live lookups.
func migrateSetupTokenExpiry(raw map[string]interface{}, now int64) bool {
	tokens, ok := raw["setupTokens"].([]interface{})
	if !ok {
		return false
	}
	kept := tokens[:0]
	changed := false
	for _, item := range tokens {
		entry, ok := item.(map[string]interface{})
		if !ok {
			changed = true
			continue
		}
		expiresAt, _ := entry["expiresAt"].(float64)
		if expiresAt <= float64(now) {
			changed = true
			continue
		}
		kept = append(kept, item)
	}
	raw["setupTokens"] = kept
	return changed
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
