package mailer

import (
	"fmt"
	"html"
	"strings"
)

// ConfirmationMessage builds the double-opt-in confirmation email.
func ConfirmationMessage(to, confirmURL string) *Message {
	htmlBody := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; color: #0f1720; line-height: 1.6;">
	<h2 style="margin: 0 0 12px;">Confirm your Daily Drops subscription</h2>
	<p style="margin: 0 0 14px;">Click the button below to confirm you want the daily newsletter.</p>
	<p style="margin: 20px 0;">
		<a href="%s" style="display: inline-block; background: #0f7b7d; color: #ffffff; text-decoration: none; padding: 12px 16px; border-radius: 8px; font-weight: 700;">Confirm Subscription</a>
	</p>
	<p style="margin: 0 0 8px; color: #3a4a5d;">If you did not request this, you can ignore this email.</p>
</div>`, confirmURL)

	text := strings.Join([]string{
		"Confirm your Daily Drops subscription.",
		"",
		fmt.Sprintf("Open this link to confirm: %s", confirmURL),
		"",
		"If you did not request this, ignore this email.",
	}, "\n")

	return &Message{
		To:      to,
		Subject: "Confirm your Daily Drops subscription",
		HTML:    htmlBody,
		Text:    text,
	}
}

// WelcomeMessage builds the post-confirmation welcome email carrying the
// subscriber's unsubscribe link.
func WelcomeMessage(to, unsubscribeURL string) *Message {
	htmlBody := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; color: #0f1720; line-height: 1.6;">
	<h2 style="margin: 0 0 12px;">You are subscribed</h2>
	<p style="margin: 0 0 14px;">You will now receive Daily Drops at this email.</p>
	<p style="margin: 0 0 14px;">Unsubscribe any time: <a href="%s">%s</a></p>
</div>`, unsubscribeURL, unsubscribeURL)

	text := strings.Join([]string{
		"Your Daily Drops subscription is now confirmed.",
		"",
		fmt.Sprintf("Unsubscribe any time: %s", unsubscribeURL),
	}, "\n")

	return &Message{
		To:      to,
		Subject: "Daily Drops subscription confirmed",
		HTML:    htmlBody,
		Text:    text,
	}
}

// IssueMessage builds the newsletter email for one published update.
// Title and preview come from the feed and are escaped before landing in
// markup.
func IssueMessage(to, title, preview, readURL, unsubscribeURL string) *Message {
	if preview == "" {
		preview = "Today's update is live."
	}

	htmlBody := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; color: #101928; line-height: 1.62;">
	<p style="font-size: 12px; color: #5d7189; text-transform: uppercase; letter-spacing: 0.08em; margin: 0 0 10px;">Daily Drops</p>
	<h2 style="margin: 0 0 12px;">%s</h2>
	<p style="margin: 0 0 16px;">%s</p>
	<p style="margin: 0 0 18px;">
		<a href="%s" style="display: inline-block; background: #0f7b7d; color: #ffffff; text-decoration: none; padding: 11px 15px; border-radius: 8px; font-weight: 700;">Read Update</a>
	</p>
	<p style="margin: 0; color: #63758b; font-size: 13px;">Unsubscribe: <a href="%s">%s</a></p>
</div>`, html.EscapeString(title), html.EscapeString(preview), readURL, unsubscribeURL, unsubscribeURL)

	text := strings.Join([]string{
		"Daily Drops",
		"",
		title,
		preview,
		"",
		fmt.Sprintf("Read: %s", readURL),
		"",
		fmt.Sprintf("Unsubscribe: %s", unsubscribeURL),
	}, "\n")

	return &Message{
		To:      to,
		Subject: fmt.Sprintf("Daily Drops: %s", title),
		HTML:    htmlBody,
		Text:    text,
	}
}
