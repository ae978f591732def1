// Package mailer delivers transactional email for the newsletter flow
// through an outbound sending API. The address going in and a provider
// delivery id coming out is the whole contract; bounce handling and
// retries live with the provider.
package mailer

import (
	"context"
	"fmt"

	"github.com/zachwright/daily-drops/internal/config"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Result reports a successful delivery handoff.
type Result struct {
	MessageID string
}

// Mailer sends a single message. A non-nil error means the provider did
// not accept the message; callers decide whether that aborts the request
// or is swallowed.
type Mailer interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// New builds the configured Mailer implementation.
func New(ctx context.Context, cfg config.MailerConfig, from string) (Mailer, error) {
	switch cfg.Provider {
	case "resend":
		return NewResendMailer(cfg, from), nil
	case "ses":
		return NewSESMailer(ctx, cfg.SES, from)
	default:
		return nil, fmt.Errorf("mailer: unknown provider %q", cfg.Provider)
	}
}
