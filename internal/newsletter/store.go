package newsletter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for subscriber rows, signup-attempt
// audit records, and the dispatch send log. It owns the subscriber status
// state machine; callers never write status values directly.
type Store struct {
	db *sql.DB
}

// NewStore creates a new subscriber store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const subscriberColumns = `id, email_hash, email_ciphertext, status, verify_token_hash,
	source, consent_ip_hash, user_agent_hash, created_at, verified_at,
	unsubscribed_at, last_sent_slug, last_sent_at`

func scanSubscriber(row *sql.Row) (*Subscriber, error) {
	sub := &Subscriber{}
	err := row.Scan(
		&sub.ID, &sub.EmailHash, &sub.EmailCiphertext, &sub.Status, &sub.VerifyTokenHash,
		&sub.Source, &sub.ConsentIPHash, &sub.UserAgentHash, &sub.CreatedAt, &sub.VerifiedAt,
		&sub.UnsubscribedAt, &sub.LastSentSlug, &sub.LastSentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// FindByEmailHash looks up a subscriber by email pseudonym. Returns
// (nil, nil) when no row exists.
func (s *Store) FindByEmailHash(ctx context.Context, emailHash string) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + `
		FROM newsletter_subscribers WHERE email_hash = $1`
	return scanSubscriber(s.db.QueryRowContext(ctx, query, emailHash))
}

// FindByID looks up a subscriber by id. Returns (nil, nil) when no row
// exists.
func (s *Store) FindByID(ctx context.Context, id int64) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + `
		FROM newsletter_subscribers WHERE id = $1`
	return scanSubscriber(s.db.QueryRowContext(ctx, query, id))
}

// UpsertSignup inserts a pending subscriber row, or overwrites the
// ciphertext, token, and provenance of an existing pending/unsubscribed
// row while forcing the status back to pending and clearing
// unsubscribed_at. Rows that are already active are left untouched (the
// guard on the conflict update), so a concurrent confirm cannot be undone
// by a racing signup. The single statement makes retries on duplicate
// delivery safe, modulo each retry carrying a freshly minted token.
func (s *Store) UpsertSignup(ctx context.Context, signup Signup) error {
	query := `INSERT INTO newsletter_subscribers (
			email_hash, email_ciphertext, status, verify_token_hash,
			source, consent_ip_hash, user_agent_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email_hash) DO UPDATE SET
			email_ciphertext = EXCLUDED.email_ciphertext,
			status = EXCLUDED.status,
			verify_token_hash = EXCLUDED.verify_token_hash,
			source = EXCLUDED.source,
			consent_ip_hash = EXCLUDED.consent_ip_hash,
			user_agent_hash = EXCLUDED.user_agent_hash,
			unsubscribed_at = NULL
		WHERE newsletter_subscribers.status <> $8`

	_, err := s.db.ExecContext(ctx, query,
		signup.EmailHash, signup.EmailCiphertext, StatusPending, signup.TokenHash,
		signup.Source, signup.ConsentIPHash, signup.UserAgentHash, StatusActive)
	if err != nil {
		return fmt.Errorf("upsert signup: %w", err)
	}
	return nil
}

// Confirm atomically activates the unique row holding the given token
// pseudonym: status becomes active, the token is consumed, verified_at is
// set once and never cleared, unsubscribed_at is cleared. Returns the
// affected row, or (nil, nil) when no row matches — possession of the
// matching token is the sole authorization check.
func (s *Store) Confirm(ctx context.Context, tokenHash string) (*Subscriber, error) {
	query := `UPDATE newsletter_subscribers SET
			status = $1,
			verify_token_hash = NULL,
			verified_at = COALESCE(verified_at, NOW()),
			unsubscribed_at = NULL
		WHERE verify_token_hash = $2
		RETURNING id, email_hash, email_ciphertext`

	sub := &Subscriber{Status: StatusActive}
	err := s.db.QueryRowContext(ctx, query, StatusActive, tokenHash).
		Scan(&sub.ID, &sub.EmailHash, &sub.EmailCiphertext)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("confirm: %w", err)
	}
	return sub, nil
}

// Unsubscribe marks a subscriber unsubscribed, consuming any outstanding
// confirmation token. Returns false when the id does not exist. Signature
// verification happens before this is called.
func (s *Store) Unsubscribe(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE newsletter_subscribers SET
			status = $1,
			verify_token_hash = NULL,
			unsubscribed_at = NOW()
		WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, StatusUnsubscribed, id)
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SendableBatch selects up to limit active subscribers that have not yet
// received the given item, oldest-verified first (FIFO delivery order,
// never-verified rows sorted last).
func (s *Store) SendableBatch(ctx context.Context, slug string, limit int) ([]*Subscriber, error) {
	query := `SELECT id, email_hash, email_ciphertext
		FROM newsletter_subscribers
		WHERE status = $1
		  AND (last_sent_slug IS NULL OR last_sent_slug <> $2)
		ORDER BY verified_at ASC NULLS LAST, created_at ASC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, StatusActive, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("select sendable batch: %w", err)
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub := &Subscriber{Status: StatusActive}
		if err := rows.Scan(&sub.ID, &sub.EmailHash, &sub.EmailCiphertext); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// MarkSent records the dedupe marker for the most recent dispatched item.
func (s *Store) MarkSent(ctx context.Context, id int64, slug string) error {
	query := `UPDATE newsletter_subscribers SET
			last_sent_slug = $1,
			last_sent_at = NOW()
		WHERE id = $2`

	_, err := s.db.ExecContext(ctx, query, slug, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// RecordAttempt appends one signup-attempt audit row. Attempts are
// recorded unconditionally, including ones that end up rejected, so the
// rate-limit windows reflect true abuse velocity. Retention is an
// external concern.
func (s *Store) RecordAttempt(ctx context.Context, ipHash, uaHash string) error {
	query := `INSERT INTO newsletter_signup_attempts (ip_hash, user_agent_hash)
		VALUES ($1, $2)`

	_, err := s.db.ExecContext(ctx, query, ipHash, uaHash)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// CountAttempts counts signup attempts for an ip pseudonym since the
// given cutoff.
func (s *Store) CountAttempts(ctx context.Context, ipHash string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM newsletter_signup_attempts
		WHERE ip_hash = $1 AND created_at > $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, ipHash, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// LogSend records one dispatch attempt in the send log.
func (s *Store) LogSend(ctx context.Context, entry SendLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `INSERT INTO newsletter_send_log (id, subscriber_id, slug, status, message_id)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.SubscriberID, entry.Slug, entry.Status, entry.MessageID)
	if err != nil {
		return fmt.Errorf("log send: %w", err)
	}
	return nil
}
