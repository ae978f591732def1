package newsletter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zachwright/daily-drops/internal/privacy"
)

// TokenSigner issues and verifies unsubscribe tokens. A token is
// "<subscriberId>.<signature>" where the signature is the keyed pseudonym
// of "<subscriberId>:<emailHash>". Binding the signature to the current
// email pseudonym means re-signing up under the same address keeps old
// unsubscribe links valid, because the pseudonym is deterministic.
type TokenSigner struct {
	hasher *privacy.Hasher
}

// NewTokenSigner creates a TokenSigner on the shared hasher.
func NewTokenSigner(hasher *privacy.Hasher) *TokenSigner {
	return &TokenSigner{hasher: hasher}
}

// UnsubscribeToken builds the signed unsubscribe token for a subscriber.
func (t *TokenSigner) UnsubscribeToken(subscriberID int64, emailHash string) string {
	return fmt.Sprintf("%d.%s", subscriberID, t.sign(subscriberID, emailHash))
}

// ParseUnsubscribeToken splits a raw token into subscriber id and
// signature. Malformed tokens (wrong separator count, non-numeric or
// non-positive id) are rejected here, before any database lookup.
func (t *TokenSigner) ParseUnsubscribeToken(raw string) (int64, string, bool) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 {
		return 0, "", false
	}
	if parts[0] == "" || parts[0][0] < '0' || parts[0][0] > '9' {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, parts[1], true
}

// VerifyUnsubscribeSignature recomputes the signature from the
// subscriber's current email pseudonym and compares in constant time.
func (t *TokenSigner) VerifyUnsubscribeSignature(subscriberID int64, emailHash, signature string) bool {
	return privacy.SecureCompare(t.sign(subscriberID, emailHash), signature)
}

func (t *TokenSigner) sign(subscriberID int64, emailHash string) string {
	return t.hasher.Hash(privacy.PurposeUnsubscribe, fmt.Sprintf("%d:%s", subscriberID, emailHash))
}
