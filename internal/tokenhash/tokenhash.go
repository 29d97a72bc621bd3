// Package tokenhash implements fixed-cost salted hashing for setup-token
// strings, suitable for offline brute-force resistance. See spec.md §4.1.
package tokenhash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// saltBytes is the number of random bytes generated for each hash.
	saltBytes = 16
	// keyLen is the output length of the derived key, in bytes.
	keyLen = 64

	// Cost parameters held constant across the codebase. N is a power of
	// two CPU/memory cost factor; r and p are block size and
	// parallelization factors.
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// Hash derives a salted hash of plaintext, returning hex-encoded hash and
// salt suitable for storage in a SetupToken record.
func Hash(plaintext string) (hashHex, saltHex string, err error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("tokenhash: generate salt: %w", err)
	}

	derived, err := scrypt.Key([]byte(plaintext), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return "", "", fmt.Errorf("tokenhash: derive key: %w", err)
	}

	return hex.EncodeToString(derived), hex.EncodeToString(salt), nil
}

// Verify re-derives the hash of plaintext using the stored salt and
// compares it against the stored hash in constant time. A malformed
// saltHex/hashHex, or a length mismatch between the derived and stored
// hash, still executes a dummy comparison of the full hash length so
// that lookup latency does not leak which stored entry was examined.
func Verify(plaintext, saltHex, hashHex string) bool {
	salt, saltErr := hex.DecodeString(saltHex)
	want, hashErr := hex.DecodeString(hashHex)

	dummy := make([]byte, keyLen)
	if saltErr != nil || hashErr != nil {
		subtle.ConstantTimeCompare(dummy, dummy)
		return false
	}

	derived, err := scrypt.Key([]byte(plaintext), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		subtle.ConstantTimeCompare(dummy, dummy)
		return false
	}

	if len(derived) != len(want) {
		subtle.ConstantTimeCompare(dummy, dummy)
		return false
	}

	return subtle.ConstantTimeCompare(derived, want) == 1
}
