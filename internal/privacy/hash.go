// Package privacy implements the pseudonymization and encryption layer for
// subscriber data. Email addresses, client IPs, user agents, and bearer
// tokens are only ever persisted as keyed one-way hashes; the real email
// address is stored as an authenticated-encrypted blob and decrypted at
// send time only.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Hash purposes. Each purpose yields an independent HMAC key, so the same
// value hashed for two purposes is unlinkable.
const (
	PurposeEmail       = "email"
	PurposeIP          = "ip"
	PurposeUserAgent   = "ua"
	PurposeToken       = "token"
	PurposeUnsubscribe = "unsubscribe"
)

// Hasher produces deterministic keyed pseudonyms of personal data.
type Hasher struct {
	secret string
}

// NewHasher creates a Hasher. The secret must be non-empty; callers are
// expected to treat a failure here as fatal at startup.
func NewHasher(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, errors.New("privacy: hash secret is required")
	}
	return &Hasher{secret: secret}, nil
}

// Hash returns the hex HMAC-SHA256 digest of value, domain-separated by
// purpose.
func (h *Hasher) Hash(purpose, value string) string {
	mac := hmac.New(sha256.New, []byte(purpose+":"+h.secret))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashEmail normalizes the address before hashing so that lookups are
// case- and whitespace-insensitive.
func (h *Hasher) HashEmail(email string) string {
	return h.Hash(PurposeEmail, NormalizeEmail(email))
}

// HashToken pseudonymizes a confirmation token for storage.
func (h *Hasher) HashToken(token string) string {
	return h.Hash(PurposeToken, token)
}

// HashIP pseudonymizes a client IP for consent records and rate limiting.
func (h *Hasher) HashIP(ip string) string {
	return h.Hash(PurposeIP, ip)
}

// HashUserAgent pseudonymizes a user agent string.
func (h *Hasher) HashUserAgent(ua string) string {
	return h.Hash(PurposeUserAgent, ua)
}

// NormalizeEmail lowercases and trims an email address. All email hashing
// and storage goes through this so one inbox maps to one subscriber row.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
