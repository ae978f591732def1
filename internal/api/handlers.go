package api

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/zachwright/daily-drops/internal/config"
	"github.com/zachwright/daily-drops/internal/mailer"
	"github.com/zachwright/daily-drops/internal/newsletter"
	"github.com/zachwright/daily-drops/internal/pkg/httputil"
	"github.com/zachwright/daily-drops/internal/pkg/logger"
	"github.com/zachwright/daily-drops/internal/privacy"
)

// maxSourceLen caps the free-form signup source tag before it reaches
// the database.
const maxSourceLen = 120

// Handlers contains the HTTP handlers and their dependencies.
type Handlers struct {
	cfg  config.NewsletterConfig
	deps Deps
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(cfg config.NewsletterConfig, deps Deps) *Handlers {
	return &Handlers{cfg: cfg, deps: deps}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

type signupRequest struct {
	Email  string `json:"email"`
	Source string `json:"source"`
	// Honeypot fields. Real browsers leave them empty; bots that fill
	// every input reveal themselves.
	Website string `json:"website"`
	Company string `json:"company"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Signup handles POST /newsletter/signup: validates the address, applies
// the per-IP rate limit, stores a pending pseudonymized row, and sends
// the confirmation email.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(r, origin) {
		httputil.Error(w, http.StatusForbidden, "Origin not allowed.")
		return
	}

	var req signupRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	// Honeypot trip: answer exactly like a success so the bot learns
	// nothing, and skip every side effect.
	if req.Website != "" || req.Company != "" {
		httputil.OK(w, messageResponse{Message: "Check your inbox to confirm your subscription."})
		return
	}

	email := privacy.NormalizeEmail(req.Email)
	if !newsletter.ValidateEmail(email) {
		httputil.BadRequest(w, "Please provide a valid email address.")
		return
	}

	ipHash := h.deps.Hasher.HashIP(clientIP(r))
	uaHash := h.deps.Hasher.HashUserAgent(r.UserAgent())

	limited, err := h.deps.Limiter.RecordAndCheck(r.Context(), ipHash, uaHash)
	if err != nil {
		httputil.InternalError(w, err, "Something went wrong. Please try again.")
		return
	}
	if limited {
		httputil.Error(w, http.StatusTooManyRequests, "Too many signup attempts. Please try again later.")
		return
	}

	emailHash := h.deps.Hasher.HashEmail(email)
	existing, err := h.deps.Store.FindByEmailHash(r.Context(), emailHash)
	if err != nil {
		httputil.InternalError(w, err, "Something went wrong. Please try again.")
		return
	}
	if existing != nil && existing.Status == newsletter.StatusActive {
		httputil.OK(w, messageResponse{Message: "You are already subscribed to Daily Drops."})
		return
	}

	token := privacy.NewToken()
	ciphertext, err := h.deps.Cipher.Encrypt(email)
	if err != nil {
		httputil.InternalError(w, err, "Something went wrong. Please try again.")
		return
	}

	source := req.Source
	if source == "" {
		source = "website"
	}
	if len(source) > maxSourceLen {
		source = source[:maxSourceLen]
	}
	err = h.deps.Store.UpsertSignup(r.Context(), newsletter.Signup{
		EmailHash:       emailHash,
		EmailCiphertext: ciphertext,
		TokenHash:       h.deps.Hasher.HashToken(token),
		Source:          source,
		ConsentIPHash:   ipHash,
		UserAgentHash:   uaHash,
	})
	if err != nil {
		httputil.InternalError(w, err, "Something went wrong. Please try again.")
		return
	}

	confirmURL := fmt.Sprintf("%s/newsletter/confirm?token=%s", h.cfg.SiteBaseURL, url.QueryEscape(token))
	if _, err := h.deps.Mailer.Send(r.Context(), mailer.ConfirmationMessage(email, confirmURL)); err != nil {
		logger.Error("failed to send confirmation email", "email", email, "error", err)
		httputil.InternalError(w, err, "Failed to send confirmation email. Please try again.")
		return
	}

	logger.Info("signup accepted", "email_hash", emailHash, "source", source)
	httputil.OK(w, messageResponse{Message: "Check your inbox to confirm your subscription."})
}

// Confirm handles GET /newsletter/confirm: consumes the emailed token and
// activates the subscriber, then redirects back to the site. The welcome
// email is best effort; the confirmation already committed.
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.Redirect(w, h.siteRedirect("invalid-token"))
		return
	}

	sub, err := h.deps.Store.Confirm(r.Context(), h.deps.Hasher.HashToken(token))
	if err != nil {
		httputil.InternalError(w, err, "Something went wrong. Please try again.")
		return
	}
	if sub == nil {
		httputil.Redirect(w, h.siteRedirect("invalid-token"))
		return
	}

	if email, err := h.deps.Cipher.Decrypt(sub.EmailCiphertext); err != nil {
		logger.Error("failed to decrypt confirmed subscriber", "subscriber_id", sub.ID, "error", err)
	} else {
		unsubToken := h.deps.Tokens.UnsubscribeToken(sub.ID, sub.EmailHash)
		unsubURL := fmt.Sprintf("%s/newsletter/unsubscribe?token=%s", h.cfg.SiteBaseURL, url.QueryEscape(unsubToken))
		if _, err := h.deps.Mailer.Send(r.Context(), mailer.WelcomeMessage(email, unsubURL)); err != nil {
			logger.Error("failed to send welcome email", "subscriber_id", sub.ID, "error", err)
		}
	}

	logger.Info("subscription confirmed", "subscriber_id", sub.ID)
	httputil.Redirect(w, h.siteRedirect("confirmed"))
}

// Unsubscribe handles GET /newsletter/unsubscribe: verifies the signed
// token and marks the subscriber unsubscribed, then redirects back to
// the site.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, sig, ok := h.deps.Tokens.ParseUnsubscribeToken(r.URL.Query().Get("token"))
	if !ok {
		httputil.Redirect(w, h.siteRedirect("invalid-token"))
		return
	}

	sub, err := h.deps.Store.FindByID(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err, "Something went wrong. Please try again.")
		return
	}
	if sub == nil || !h.deps.Tokens.VerifyUnsubscribeSignature(id, sub.EmailHash, sig) {
		httputil.Redirect(w, h.siteRedirect("invalid-token"))
		return
	}

	if _, err := h.deps.Store.Unsubscribe(r.Context(), id); err != nil {
		httputil.InternalError(w, err, "Something went wrong. Please try again.")
		return
	}

	logger.Info("subscriber unsubscribed", "subscriber_id", id)
	httputil.Redirect(w, h.siteRedirect("unsubscribed"))
}

type sendResponse struct {
	OK        bool   `json:"ok"`
	DryRun    bool   `json:"dryRun"`
	Update    string `json:"update"`
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
}

// Send handles the cron-triggered dispatch run. It is gated by the shared
// cron secret and serialized by a distributed lock so overlapping cron
// fires cannot double-send.
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedCron(r) {
		httputil.Error(w, http.StatusUnauthorized, "Unauthorized.")
		return
	}

	dryRun := isTruthy(r.URL.Query().Get("dryRun")) || isTruthy(r.URL.Query().Get("dry_run"))

	item, err := h.deps.Updates.Latest(r.Context())
	if err != nil {
		httputil.InternalError(w, err, "Failed to load updates.")
		return
	}
	if item == nil {
		httputil.Error(w, http.StatusInternalServerError, "No update found.")
		return
	}

	acquired, err := h.deps.SendLock.Acquire(r.Context())
	if err != nil {
		httputil.InternalError(w, err, "Something went wrong. Please try again.")
		return
	}
	if !acquired {
		httputil.Error(w, http.StatusConflict, "A dispatch run is already in progress.")
		return
	}
	defer func() {
		if err := h.deps.SendLock.Release(r.Context()); err != nil {
			logger.Error("failed to release dispatch lock", "error", err)
		}
	}()

	report, err := h.deps.Dispatcher.RunBatch(r.Context(), item, h.cfg.ClampedBatchSize(), dryRun)
	if err != nil {
		httputil.InternalError(w, err, "Dispatch failed.")
		return
	}

	httputil.OK(w, sendResponse{
		OK:        true,
		DryRun:    dryRun,
		Update:    item.Slug,
		Attempted: report.Attempted,
		Sent:      report.Sent,
		Failed:    report.Failed,
	})
}

func (h *Handlers) authorizedCron(r *http.Request) bool {
	secret := h.cfg.CronSecret
	if secret == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	bearer := strings.TrimPrefix(auth, "Bearer ")
	// Header only: query-string secrets end up in access logs and proxies.
	return bearer != auth && privacy.SecureCompare(secret, bearer)
}

// originAllowed checks the Origin header against the configured allow-list.
// With no list configured it falls back to a same-origin comparison built
// from the forwarded proto and host, so a bare deployment behind a proxy
// still accepts its own site.
func (h *Handlers) originAllowed(r *http.Request, origin string) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return strings.EqualFold(requestOrigin(r), origin)
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func requestOrigin(r *http.Request) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return proto + "://" + host
}

func (h *Handlers) siteRedirect(status string) string {
	return fmt.Sprintf("%s/?newsletter=%s#signup", h.cfg.SiteBaseURL, status)
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// clientIP extracts the caller's address. The RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
