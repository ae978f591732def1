package newsletter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/zachwright/daily-drops/internal/config"
	"github.com/zachwright/daily-drops/internal/mailer"
	"github.com/zachwright/daily-drops/internal/pkg/logger"
	"github.com/zachwright/daily-drops/internal/privacy"
	"github.com/zachwright/daily-drops/internal/updates"
)

// Dispatcher sends one newsletter issue to a batch of active subscribers.
// Each run handles at most one batch; the cron caller invokes it repeatedly
// until the sendable set drains. There are no automatic retries: a failed
// subscriber is logged and picked up again by a later run because its
// dedupe marker was never advanced.
type Dispatcher struct {
	store   *Store
	cipher  *privacy.Cipher
	tokens  *TokenSigner
	mailer  mailer.Mailer
	baseURL string
}

// NewDispatcher creates a dispatcher. baseURL is the public site base used
// to build read and unsubscribe links.
func NewDispatcher(store *Store, cipher *privacy.Cipher, tokens *TokenSigner, m mailer.Mailer, baseURL string) *Dispatcher {
	return &Dispatcher{
		store:   store,
		cipher:  cipher,
		tokens:  tokens,
		mailer:  m,
		baseURL: baseURL,
	}
}

// Report summarizes one dispatch run.
type Report struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// RunBatch selects the next batch of subscribers who have not yet received
// the given item and sends to each in turn. Failures are isolated per
// subscriber: a decrypt or provider error is logged and counted, and the
// run continues. In dry-run mode nothing is sent and no dedupe markers
// move, but the send log records what would have happened.
func (d *Dispatcher) RunBatch(ctx context.Context, item *updates.Item, batchSize int, dryRun bool) (*Report, error) {
	if batchSize < config.MinBatchSize || batchSize > config.MaxBatchSize {
		batchSize = config.DefaultBatchSize
	}

	subs, err := d.store.SendableBatch(ctx, item.Slug, batchSize)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", item.Slug, err)
	}

	report := &Report{}
	readURL := fmt.Sprintf("%s/updates/%s", d.baseURL, item.Slug)

	for _, sub := range subs {
		report.Attempted++

		email, err := d.cipher.Decrypt(sub.EmailCiphertext)
		if err != nil {
			report.Failed++
			logger.Error("failed to decrypt subscriber email",
				"subscriber_id", sub.ID, "slug", item.Slug, "error", err)
			d.logSend(ctx, sub.ID, item.Slug, SendStatusFailed, "")
			continue
		}

		token := d.tokens.UnsubscribeToken(sub.ID, sub.EmailHash)
		unsubURL := fmt.Sprintf("%s/newsletter/unsubscribe?token=%s", d.baseURL, url.QueryEscape(token))
		msg := mailer.IssueMessage(email, item.Title, item.Preview, readURL, unsubURL)

		if dryRun {
			report.Sent++
			d.logSend(ctx, sub.ID, item.Slug, SendStatusDryRun, "")
			continue
		}

		res, err := d.mailer.Send(ctx, msg)
		if err != nil {
			report.Failed++
			logger.Error("failed to send issue",
				"subscriber_id", sub.ID, "slug", item.Slug, "error", err)
			d.logSend(ctx, sub.ID, item.Slug, SendStatusFailed, "")
			continue
		}
		report.Sent++

		// The provider accepted the mail before the marker moves, so a
		// crash between the two can double-send to this subscriber on the
		// next run. That is the chosen trade-off; the reverse ordering
		// would silently drop subscribers instead.
		if err := d.store.MarkSent(ctx, sub.ID, item.Slug); err != nil {
			logger.Error("failed to mark subscriber sent",
				"subscriber_id", sub.ID, "slug", item.Slug, "error", err)
		}
		d.logSend(ctx, sub.ID, item.Slug, SendStatusSent, res.MessageID)
	}

	logger.Info("dispatch batch complete",
		"slug", item.Slug, "dry_run", dryRun,
		"attempted", report.Attempted, "sent", report.Sent, "failed", report.Failed)

	return report, nil
}

// logSend appends to the audit log; logging failures never fail a send.
func (d *Dispatcher) logSend(ctx context.Context, subscriberID int64, slug, status, messageID string) {
	err := d.store.LogSend(ctx, SendLogEntry{
		SubscriberID: subscriberID,
		Slug:         slug,
		Status:       status,
		MessageID:    messageID,
	})
	if err != nil {
		logger.Error("failed to write send log", "subscriber_id", subscriberID, "error", err)
	}
}
