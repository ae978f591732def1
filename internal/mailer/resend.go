package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/zachwright/daily-drops/internal/config"
)

// ResendMailer sends through the Resend transactional API. No automatic
// retries: a failed send is reported and the caller's re-invocation
// policy decides what happens next.
type ResendMailer struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewResendMailer creates a Resend API client.
func NewResendMailer(cfg config.MailerConfig, from string) *ResendMailer {
	return &ResendMailer{
		baseURL: cfg.ResendBaseURL,
		apiKey:  cfg.ResendAPIKey,
		from:    from,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

type resendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// Send posts one message to the Resend API. Any non-2xx status is an
// error carrying the status and response body detail.
func (m *ResendMailer) Send(ctx context.Context, msg *Message) (*Result, error) {
	payload := resendPayload{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("resend API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed resendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &Result{MessageID: parsed.ID}, nil
}
