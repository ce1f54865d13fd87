package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stockroom-app/stockroom/internal/app"
	"github.com/stockroom-app/stockroom/internal/auth"
	"github.com/stockroom-app/stockroom/internal/items"
	"github.com/stockroom-app/stockroom/internal/observability"
	"github.com/stockroom-app/stockroom/internal/shared"
	"github.com/stockroom-app/stockroom/internal/view"
	_ "github.com/stockroom-app/stockroom/testing"
)

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type stack struct {
	server *httptest.Server
	users  *auth.MemoryRepository
	items  *items.MemoryRepository
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := &app.Config{
		AppEnv:             "test",
		AppRequestTimeout:  5 * time.Second,
		RateLimitPerMinute: 0,
	}
	users := auth.NewMemoryRepository()
	tokens := auth.NewTokenIssuer("jwt-secret", time.Hour)
	authService := auth.NewService(users, auth.NewHasher(bcrypt.MinCost), tokens)
	sessions := shared.NewSessionManager(shared.NewMemorySessionStore(), "stockroom_session", time.Hour, false, shared.WithCookieSecret("session-secret"))
	csrf := shared.NewCSRFManager("csrf-secret")
	templates, err := view.NewEngine()
	require.NoError(t, err)
	metrics := observability.NewMetrics()

	uploadDir := t.TempDir()
	images, err := items.NewDiskStore(uploadDir, "/uploads/")
	require.NoError(t, err)
	itemRepo := items.NewMemoryRepository()
	itemService := items.NewService(itemRepo, images, nil, nil, metrics)

	sessionGuard := auth.NewSessionGuard("/login", nil)
	tokenGuard := auth.NewTokenGuard(tokens, nil)

	router := app.NewRouter(app.RouterParams{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:          cfg,
		SessionManager:  sessions,
		CSRFManager:     csrf,
		Metrics:         metrics,
		AuthHandler:     auth.NewHandler(nil, authService, templates, sessions, csrf, metrics, sessionGuard),
		AuthAPIHandler:  auth.NewAPIHandler(nil, authService, tokenGuard, metrics, false),
		ItemsHandler:    items.NewHandler(nil, itemService, templates, csrf, sessionGuard),
		ItemsAPIHandler: items.NewAPIHandler(nil, itemService, tokenGuard, items.WithIdempotency(shared.NewMemoryIdempotencyStore())),
		UploadDir:       uploadDir,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &stack{server: server, users: users, items: itemRepo}
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (s *stack) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: s.server.URL, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	res, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(b.t, err)
	return res, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

// csrfToken loads page and returns the token embedded in its form.
func (b *browser) csrfToken(page string) string {
	b.t.Helper()
	res, body := b.get(page)
	require.Equal(b.t, http.StatusOK, res.StatusCode)
	match := csrfPattern.FindStringSubmatch(body)
	require.Len(b.t, match, 2, "no csrf token on %s", page)
	return match[1]
}

func (b *browser) postForm(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postJSON(path, token string, payload any) (*http.Response, string) {
	b.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(b.t, err)
	req, err := http.NewRequest(http.MethodPost, b.base+path, bytes.NewReader(raw))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return b.do(req)
}

func TestAliceRegistersLogsInAndReachesGuardedPages(t *testing.T) {
	s := newStack(t)
	alice := s.browser(t)

	token := alice.csrfToken("/signup")
	res, _ := alice.postForm("/signup", url.Values{
		"csrf_token": {token},
		"name":       {"Alice"},
		"email":      {"alice@example.com"},
		"password":   {"secret"},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))
	require.Equal(t, 1, s.users.Count())

	stored, err := s.users.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", stored.PasswordHash)

	token = alice.csrfToken("/login")
	res, body := alice.postForm("/login", url.Values{"csrf_token": {token}, "email": {"alice@example.com"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, body, "Incorrect password.")

	res, body = alice.postForm("/login", url.Values{"csrf_token": {token}, "email": {"bob@example.com"}, "password": {"secret"}})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, body, "Email not found.")

	res, _ = alice.get("/")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))

	res, _ = alice.postForm("/login", url.Values{"csrf_token": {token}, "email": {"alice@example.com"}, "password": {"secret"}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/", res.Header.Get("Location"))

	res, body = alice.get("/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Welcome back, Alice.")

	res, body = alice.get("/home")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Alice")

	token = alice.csrfToken("/add")
	res, _ = alice.postForm("/add", url.Values{"csrf_token": {token}, "name": {"Widget"}, "price": {"9.99"}, "quantity": {"3"}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, 1, s.items.Count())

	res, body = alice.get("/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Item added successfully!")
	assert.Contains(t, body, "Widget")

	res, _ = alice.get("/logout")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))

	res, _ = alice.get("/")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
}

func TestPageFormsRequireCSRFToken(t *testing.T) {
	s := newStack(t)
	b := s.browser(t)

	b.csrfToken("/signup")
	res, _ := b.postForm("/signup", url.Values{"name": {"Alice"}, "email": {"alice@example.com"}, "password": {"secret"}})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = b.postForm("/signup", url.Values{"csrf_token": {"forged"}, "name": {"Alice"}, "email": {"alice@example.com"}, "password": {"secret"}})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Zero(t, s.users.Count())
}

func TestAnonymousRequestsNeverReachItemHandlers(t *testing.T) {
	s := newStack(t)
	b := s.browser(t)

	token := b.csrfToken("/login")
	res, _ := b.postForm("/add", url.Values{"csrf_token": {token}, "name": {"Widget"}, "price": {"1"}, "quantity": {"1"}})
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))

	res, body := b.postJSON("/api/items", "", map[string]any{"name": "Widget", "price": "1", "quantity": 1})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.JSONEq(t, `{"message":"Access denied. No token provided."}`, body)

	res, body = b.postJSON("/api/items", "not-a-token", map[string]any{"name": "Widget", "price": "1", "quantity": 1})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.JSONEq(t, `{"message":"Invalid token."}`, body)

	assert.Zero(t, s.items.Count())
}

func TestTokenFlowThroughRouter(t *testing.T) {
	s := newStack(t)
	c := s.browser(t)

	res, _ := c.postJSON("/api/register", "", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret"})
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, _ = c.postJSON("/auth/register", "", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := c.postJSON("/auth/login", "", map[string]string{"email": "alice@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &login))
	require.NotEmpty(t, login.Token)

	res, body = c.postJSON("/api/items", login.Token, map[string]any{"name": "Gadget", "price": "4.50", "quantity": 2})
	require.Equal(t, http.StatusCreated, res.StatusCode, body)
	assert.Equal(t, 1, s.items.Count())

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/auth/dashboard", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	res, body = c.do(req)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "alice@example.com")
}

func TestUploadedImagesAreServed(t *testing.T) {
	s := newStack(t)
	b := s.browser(t)

	token := b.csrfToken("/signup")
	res, _ := b.postForm("/signup", url.Values{"csrf_token": {token}, "name": {"Alice"}, "email": {"alice@example.com"}, "password": {"secret"}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	res, _ = b.postForm("/login", url.Values{"csrf_token": {token}, "email": {"alice@example.com"}, "password": {"secret"}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("csrf_token", b.csrfToken("/add")))
	require.NoError(t, mw.WriteField("name", "Lamp"))
	require.NoError(t, mw.WriteField("price", "12"))
	require.NoError(t, mw.WriteField("quantity", "1"))
	part, err := mw.CreateFormFile("image", "lamp.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/add", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res, _ = b.do(req)
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	list, err := s.items.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotEmpty(t, list[0].Image)

	res, body := b.get("/uploads/" + list[0].Image)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "\x89PNG\r\n\x1a\nfake", body)

	res, _ = b.get("/uploads/")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newStack(t)
	b := s.browser(t)

	res, body := b.get("/healthz")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	res, body = b.get("/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "stockroom_http_requests_total")
}
