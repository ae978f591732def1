package newsletter

import (
	"context"
	"time"
)

// Rate-limit windows and thresholds for signup attempts per hashed IP.
const (
	ShortWindow      = 15 * time.Minute
	ShortWindowLimit = 12
	DayWindow        = 24 * time.Hour
	DayWindowLimit   = 120
)

// Limiter is a sliding-window abuse control keyed by hashed IP. Every
// attempt is recorded before counting — rejected attempts still widen the
// window — and the insert and counts are not one transaction, so under a
// concurrent burst from one IP the verdict can be off by a request or
// two. That slack is accepted; the store's unique constraints keep the
// data itself safe.
type Limiter struct {
	store *Store
	now   func() time.Time
}

// NewLimiter creates a Limiter on top of the subscriber store.
func NewLimiter(store *Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// RecordAndCheck inserts an attempt record for the hashed IP/user agent,
// then reports whether the IP has exceeded either window threshold.
func (l *Limiter) RecordAndCheck(ctx context.Context, ipHash, uaHash string) (bool, error) {
	if err := l.store.RecordAttempt(ctx, ipHash, uaHash); err != nil {
		return false, err
	}

	now := l.now()
	recent, err := l.store.CountAttempts(ctx, ipHash, now.Add(-ShortWindow))
	if err != nil {
		return false, err
	}
	daily, err := l.store.CountAttempts(ctx, ipHash, now.Add(-DayWindow))
	if err != nil {
		return false, err
	}

	return recent > ShortWindowLimit || daily > DayWindowLimit, nil
}
