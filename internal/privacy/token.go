package privacy

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// NewToken returns a cryptographically random opaque token (192 bits,
// hex-encoded). Tokens are mailed as bearer secrets and only their
// pseudonyms are persisted.
func NewToken() string {
	b := make([]byte, 24)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// SecureCompare reports whether a and b are equal without leaking timing.
// Empty or length-mismatched inputs compare false. Every secret comparison
// (unsubscribe signatures, the cron bearer token) goes through this.
func SecureCompare(a, b string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
