package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachwright/daily-drops/internal/config"
	"github.com/zachwright/daily-drops/internal/mailer"
	"github.com/zachwright/daily-drops/internal/newsletter"
	"github.com/zachwright/daily-drops/internal/privacy"
	"github.com/zachwright/daily-drops/internal/updates"
)

type fakeMailer struct {
	sent []*mailer.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg *mailer.Message) (*mailer.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &mailer.Result{MessageID: "msg-1"}, nil
}

type fakeSource struct {
	item *updates.Item
	err  error
}

func (f *fakeSource) Latest(ctx context.Context) (*updates.Item, error) {
	return f.item, f.err
}

type fakeLock struct {
	held     bool
	acquires int
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) {
	f.acquires++
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.held = false
	return nil
}

type testEnv struct {
	handler http.Handler
	mock    sqlmock.Sqlmock
	mailer  *fakeMailer
	source  *fakeSource
	lock    *fakeLock
	hasher  *privacy.Hasher
	cipher  *privacy.Cipher
	tokens  *newsletter.TokenSigner
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	return setupEnvOrigins(t, []string{"https://example.com"})
}

func setupEnvOrigins(t *testing.T, origins []string) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hasher, err := privacy.NewHasher("api-test-secret")
	require.NoError(t, err)
	key, err := privacy.ParseKey(strings.Repeat("cd", 32))
	require.NoError(t, err)
	cipher, err := privacy.NewCipher(key)
	require.NoError(t, err)

	store := newsletter.NewStore(db)
	tokens := newsletter.NewTokenSigner(hasher)
	fm := &fakeMailer{}
	source := &fakeSource{}
	lock := &fakeLock{}

	cfg := config.NewsletterConfig{
		AllowedOrigins: origins,
		SiteBaseURL:    "https://example.com",
		CronSecret:     "cron-secret",
		FromEmail:      "drops@example.com",
		BatchSize:      120,
	}

	server := NewServer(cfg, Deps{
		Store:      store,
		Limiter:    newsletter.NewLimiter(store),
		Dispatcher: newsletter.NewDispatcher(store, cipher, tokens, fm, cfg.SiteBaseURL),
		Hasher:     hasher,
		Cipher:     cipher,
		Tokens:     tokens,
		Mailer:     fm,
		Updates:    source,
		SendLock:   lock,
	})

	return &testEnv{
		handler: server.Handler(),
		mock:    mock,
		mailer:  fm,
		source:  source,
		lock:    lock,
		hasher:  hasher,
		cipher:  cipher,
		tokens:  tokens,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func subscriberRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email_hash", "email_ciphertext", "status", "verify_token_hash",
		"source", "consent_ip_hash", "user_agent_hash", "created_at", "verified_at",
		"unsubscribed_at", "last_sent_slug", "last_sent_at",
	})
}

func (e *testEnv) expectRateLimitPass() {
	e.mock.ExpectExec("INSERT INTO newsletter_signup_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))
	e.mock.ExpectQuery("SELECT COUNT(.+) FROM newsletter_signup_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	e.mock.ExpectQuery("SELECT COUNT(.+) FROM newsletter_signup_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
}

func TestSignupSuccess(t *testing.T) {
	env := setupEnv(t)

	env.expectRateLimitPass()
	env.mock.ExpectQuery("SELECT (.+) FROM newsletter_subscribers WHERE email_hash").
		WillReturnRows(subscriberRows())
	env.mock.ExpectExec("INSERT INTO newsletter_subscribers (.+) ON CONFLICT").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := env.do(t, http.MethodPost, "/newsletter/signup", map[string]string{
		"email": "Reader@Example.COM",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Check your inbox")
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "reader@example.com", env.mailer.sent[0].To)
	assert.Contains(t, env.mailer.sent[0].HTML, "https://example.com/newsletter/confirm?token=")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSignupInvalidEmail(t *testing.T) {
	env := setupEnv(t)

	for _, email := range []string{"", "not-an-email", "a@b", "two@@example.com", "has space@example.com"} {
		rec := env.do(t, http.MethodPost, "/newsletter/signup", map[string]string{"email": email})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "email %q", email)
	}
	assert.Empty(t, env.mailer.sent)
}

func TestSignupHoneypot(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodPost, "/newsletter/signup", map[string]string{
		"email":   "bot@example.com",
		"website": "https://spam.example",
	})

	// Indistinguishable from a success, but nothing happened.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Check your inbox")
	assert.Empty(t, env.mailer.sent)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSignupRateLimited(t *testing.T) {
	env := setupEnv(t)

	env.mock.ExpectExec("INSERT INTO newsletter_signup_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))
	env.mock.ExpectQuery("SELECT COUNT(.+) FROM newsletter_signup_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(13))
	env.mock.ExpectQuery("SELECT COUNT(.+) FROM newsletter_signup_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(13))

	rec := env.do(t, http.MethodPost, "/newsletter/signup", map[string]string{
		"email": "reader@example.com",
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, env.mailer.sent)
}

func TestSignupAlreadyActive(t *testing.T) {
	env := setupEnv(t)

	env.expectRateLimitPass()
	env.mock.ExpectQuery("SELECT (.+) FROM newsletter_subscribers WHERE email_hash").
		WillReturnRows(subscriberRows().AddRow(
			int64(1), "hash", "ct", newsletter.StatusActive, nil,
			"website", "iph", "uah", time.Now(), nil,
			nil, nil, nil,
		))

	rec := env.do(t, http.MethodPost, "/newsletter/signup", map[string]string{
		"email": "reader@example.com",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already subscribed")
	assert.Empty(t, env.mailer.sent)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSignupDisallowedOrigin(t *testing.T) {
	env := setupEnv(t)

	body, _ := json.Marshal(map[string]string{"email": "reader@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/newsletter/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSignupSameOriginWithoutAllowList(t *testing.T) {
	// No allow-list configured: the handler compares the Origin against
	// the origin the request itself arrived on.
	env := setupEnvOrigins(t, nil)

	body, _ := json.Marshal(map[string]string{"email": "not-an-email"})
	req := httptest.NewRequest(http.MethodPost, "https://drops.example/newsletter/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "drops.example")
	req.Header.Set("Origin", "https://drops.example")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	// Past the origin gate; the bad email is what gets rejected.
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "https://drops.example/newsletter/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "drops.example")
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSignupSourceTruncated(t *testing.T) {
	env := setupEnv(t)

	long := strings.Repeat("c", 300)
	want := long[:120]

	env.expectRateLimitPass()
	env.mock.ExpectQuery("SELECT (.+) FROM newsletter_subscribers WHERE email_hash").
		WillReturnRows(subscriberRows())
	env.mock.ExpectExec("INSERT INTO newsletter_subscribers (.+) ON CONFLICT").
		WithArgs(
			sqlmock.AnyArg(), sqlmock.AnyArg(), newsletter.StatusPending,
			sqlmock.AnyArg(), want, sqlmock.AnyArg(), sqlmock.AnyArg(),
			newsletter.StatusActive,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := env.do(t, http.MethodPost, "/newsletter/signup", map[string]string{
		"email":  "reader@example.com",
		"source": long,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestConfirmSuccess(t *testing.T) {
	env := setupEnv(t)

	ciphertext, err := env.cipher.Encrypt("reader@example.com")
	require.NoError(t, err)

	env.mock.ExpectQuery("UPDATE newsletter_subscribers SET(.+)RETURNING").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email_hash", "email_ciphertext"}).
			AddRow(int64(9), "hash9", ciphertext))

	rec := env.do(t, http.MethodGet, "/newsletter/confirm?token=abc123", nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/?newsletter=confirmed#signup", rec.Header().Get("Location"))
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "reader@example.com", env.mailer.sent[0].To)
	assert.Contains(t, env.mailer.sent[0].Text, "/newsletter/unsubscribe?token=9.")
}

func TestConfirmWelcomeFailureStillRedirects(t *testing.T) {
	env := setupEnv(t)
	env.mailer.err = errors.New("provider down")

	ciphertext, err := env.cipher.Encrypt("reader@example.com")
	require.NoError(t, err)

	env.mock.ExpectQuery("UPDATE newsletter_subscribers SET(.+)RETURNING").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email_hash", "email_ciphertext"}).
			AddRow(int64(9), "hash9", ciphertext))

	rec := env.do(t, http.MethodGet, "/newsletter/confirm?token=abc123", nil)

	// The activation committed; a lost welcome mail does not undo it.
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/?newsletter=confirmed#signup", rec.Header().Get("Location"))
}

func TestConfirmInvalidToken(t *testing.T) {
	env := setupEnv(t)

	env.mock.ExpectQuery("UPDATE newsletter_subscribers SET(.+)RETURNING").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email_hash", "email_ciphertext"}))

	rec := env.do(t, http.MethodGet, "/newsletter/confirm?token=unknown", nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/?newsletter=invalid-token#signup", rec.Header().Get("Location"))
}

func TestConfirmStoreError(t *testing.T) {
	env := setupEnv(t)

	env.mock.ExpectQuery("UPDATE newsletter_subscribers SET(.+)RETURNING").
		WillReturnError(errors.New("connection reset"))

	rec := env.do(t, http.MethodGet, "/newsletter/confirm?token=abc123", nil)

	// A database failure is not an invalid token; surface it instead of
	// redirecting the reader to a misleading error page.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, env.mailer.sent)
}

func TestConfirmMissingToken(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodGet, "/newsletter/confirm", nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/?newsletter=invalid-token#signup", rec.Header().Get("Location"))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUnsubscribeSuccess(t *testing.T) {
	env := setupEnv(t)

	token := env.tokens.UnsubscribeToken(5, "hash5")

	env.mock.ExpectQuery("SELECT (.+) FROM newsletter_subscribers WHERE id").
		WillReturnRows(subscriberRows().AddRow(
			int64(5), "hash5", "ct", newsletter.StatusActive, nil,
			"website", "iph", "uah", time.Now(), nil,
			nil, nil, nil,
		))
	env.mock.ExpectExec("UPDATE newsletter_subscribers SET(.+)unsubscribed_at = NOW").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(t, http.MethodGet, "/newsletter/unsubscribe?token="+token, nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/?newsletter=unsubscribed#signup", rec.Header().Get("Location"))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUnsubscribeTamperedSignature(t *testing.T) {
	env := setupEnv(t)

	env.mock.ExpectQuery("SELECT (.+) FROM newsletter_subscribers WHERE id").
		WillReturnRows(subscriberRows().AddRow(
			int64(5), "hash5", "ct", newsletter.StatusActive, nil,
			"website", "iph", "uah", time.Now(), nil,
			nil, nil, nil,
		))

	rec := env.do(t, http.MethodGet, "/newsletter/unsubscribe?token=5.deadbeef", nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/?newsletter=invalid-token#signup", rec.Header().Get("Location"))
}

func TestUnsubscribeMalformedToken(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodGet, "/newsletter/unsubscribe?token=garbage", nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/?newsletter=invalid-token#signup", rec.Header().Get("Location"))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSendUnauthorized(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodPost, "/newsletter/send", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/newsletter/send", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendRejectsQueryStringSecret(t *testing.T) {
	env := setupEnv(t)
	env.source.item = &updates.Item{Slug: "todays-post", Title: "Today's Post"}

	// The shared secret is accepted from the Authorization header only;
	// a query parameter would leak it into access logs.
	rec := env.do(t, http.MethodPost, "/newsletter/send?secret=cron-secret", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, env.lock.acquires)
	assert.Empty(t, env.mailer.sent)
}

func sendRequest(t *testing.T, env *testEnv, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func TestSendDispatchesBatch(t *testing.T) {
	env := setupEnv(t)
	env.source.item = &updates.Item{Slug: "todays-post", Title: "Today's Post", Preview: "p"}

	ciphertext, err := env.cipher.Encrypt("reader@example.com")
	require.NoError(t, err)

	env.mock.ExpectQuery("SELECT id, email_hash, email_ciphertext(.+)LIMIT").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email_hash", "email_ciphertext"}).
			AddRow(int64(1), "h1", ciphertext))
	env.mock.ExpectExec("UPDATE newsletter_subscribers SET(.+)last_sent_slug").
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO newsletter_send_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := sendRequest(t, env, "/newsletter/send")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		OK        bool   `json:"ok"`
		DryRun    bool   `json:"dryRun"`
		Update    string `json:"update"`
		Attempted int    `json:"attempted"`
		Sent      int    `json:"sent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.False(t, resp.DryRun)
	assert.Equal(t, "todays-post", resp.Update)
	assert.Equal(t, 1, resp.Attempted)
	assert.Equal(t, 1, resp.Sent)
	require.Len(t, env.mailer.sent, 1)
	assert.False(t, env.lock.held, "lock must be released after the run")
}

func TestSendDryRun(t *testing.T) {
	env := setupEnv(t)
	env.source.item = &updates.Item{Slug: "todays-post", Title: "Today's Post"}

	ciphertext, err := env.cipher.Encrypt("reader@example.com")
	require.NoError(t, err)

	env.mock.ExpectQuery("SELECT id, email_hash, email_ciphertext(.+)LIMIT").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email_hash", "email_ciphertext"}).
			AddRow(int64(1), "h1", ciphertext))
	env.mock.ExpectExec("INSERT INTO newsletter_send_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := sendRequest(t, env, "/newsletter/send?dryRun=1")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, env.mailer.sent)
	assert.Contains(t, rec.Body.String(), `"dryRun":true`)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSendNoUpdate(t *testing.T) {
	env := setupEnv(t)

	rec := sendRequest(t, env, "/newsletter/send")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "No update found")
	assert.Equal(t, 0, env.lock.acquires, "the lock is not taken when there is nothing to send")
}

func TestSendLockContention(t *testing.T) {
	env := setupEnv(t)
	env.source.item = &updates.Item{Slug: "todays-post", Title: "Today's Post"}
	env.lock.held = true

	rec := sendRequest(t, env, "/newsletter/send")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, env.mailer.sent)
}

func TestHealthCheck(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodDelete, "/newsletter/signup", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
