// Package newsletter implements the subscriber lifecycle for the Daily
// Drops mailing list: double-opt-in signup, confirmation, unsubscribe,
// signup-abuse rate limiting, and the periodic issue dispatch.
package newsletter

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subscriber statuses. Transitions: pending → active via confirmation,
// any → unsubscribed via the signed unsubscribe token, and re-signup
// forces active/unsubscribed back to pending (confirmation restarts).
const (
	StatusPending      = "pending"
	StatusActive       = "active"
	StatusUnsubscribed = "unsubscribed"
)

// Send log statuses.
const (
	SendStatusSent   = "sent"
	SendStatusFailed = "failed"
	SendStatusDryRun = "dry-run"
)

// Subscriber is one row per pseudonymous email identity. The raw address
// only exists inside EmailCiphertext; every lookup key is an HMAC
// pseudonym.
type Subscriber struct {
	ID              int64
	EmailHash       string
	EmailCiphertext string
	Status          string
	VerifyTokenHash *string
	Source          string
	ConsentIPHash   string
	UserAgentHash   string
	CreatedAt       time.Time
	VerifiedAt      *time.Time
	UnsubscribedAt  *time.Time
	LastSentSlug    *string
	LastSentAt      *time.Time
}

// Signup carries the already-pseudonymized values for one signup event.
// Provenance fields are write-once per signup.
type Signup struct {
	EmailHash       string
	EmailCiphertext string
	TokenHash       string
	Source          string
	ConsentIPHash   string
	UserAgentHash   string
}

// SendLogEntry records one dispatch attempt for audit purposes.
type SendLogEntry struct {
	ID           uuid.UUID
	SubscriberID int64
	Slug         string
	Status       string
	MessageID    string
}

const maxEmailLength = 320

// ValidateEmail performs basic shape validation on an already-normalized
// address. Deliverability is proven by the double-opt-in confirmation,
// not here.
func ValidateEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	local, domain := parts[0], parts[1]
	if local == "" || domain == "" {
		return false
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" {
			return false
		}
	}
	return true
}
