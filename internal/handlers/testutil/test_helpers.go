package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/usermanager/internal/api"
	"github.com/charlesng35/usermanager/internal/app"
	iauth "github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/auth/providers"
	"github.com/charlesng35/usermanager/internal/cache"
	sharedtestutil "github.com/charlesng35/usermanager/internal/database/testutil"
	"github.com/charlesng35/usermanager/internal/middleware"
	"github.com/charlesng35/usermanager/internal/notifications"
	"github.com/charlesng35/usermanager/internal/services"
	"github.com/charlesng35/usermanager/internal/store"
	"github.com/charlesng35/usermanager/pkg/response"
)

const (
	FrontendURL = "https://app.example.com"
	PublicURL   = "https://api.example.com"
)

var resetTokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T       *testing.T
	DB      *gorm.DB
	Router  *gin.Engine
	JWT     *iauth.JWTService
	Bridge  *iauth.FederationBridge
	Mail    *Mailbox
	Config  *app.Config
	cookies map[string]*http.Cookie
}

// Option customises the environment before the router is built.
type Option func(*envOptions)

type envOptions struct {
	provider  providers.Provider
	fedConfig iauth.FederationConfig
	rateLimit int
}

// WithFederation enables external sign-in against the given provider.
func WithFederation(provider providers.Provider, cfg iauth.FederationConfig) Option {
	return func(o *envOptions) {
		o.provider = provider
		o.fedConfig = cfg
	}
}

// WithRateLimit overrides the per-IP request budget.
func WithRateLimit(requests int) Option {
	return func(o *envOptions) {
		o.rateLimit = requests
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	options := envOptions{rateLimit: 1000}
	for _, opt := range opts {
		opt(&options)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Server: app.ServerConfig{
			FrontendURL: FrontendURL,
			RateLimit:   app.RateLimitConfig{Requests: options.rateLimit, Window: time.Minute},
		},
		Auth: app.AuthConfig{
			Session: app.SessionSettings{
				Secret:     "test-suite-super-secret-key-32-bytes!!",
				Issuer:     "test-suite",
				TTL:        30 * time.Minute,
				CookieName: middleware.DefaultSessionCookie,
			},
			Reset: app.ResetSettings{TokenTTL: 24 * time.Hour, TokenBytes: 32},
			Federation: app.FederationSettings{
				PublicURL:    PublicURL,
				CallbackPath: "/api/users/google-callback",
			},
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	accounts, err := store.NewGormAccountStore(db)
	require.NoError(t, err)

	mailbox := &Mailbox{}
	credentials, err := services.NewCredentialService(accounts, mailbox, cfg.Auth.CredentialOptions(cfg.Server.FrontendURL)...)
	require.NoError(t, err)

	var bridge *iauth.FederationBridge
	if options.provider != nil {
		codec, err := iauth.NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), time.Minute, nil)
		require.NoError(t, err)
		bridge, err = iauth.NewFederationBridge(options.provider, codec, accounts, cache.NewDatabaseStore(db), mailbox, options.fedConfig)
		require.NoError(t, err)
		t.Cleanup(bridge.Wait)
	}

	router, err := api.NewRouter(api.Dependencies{
		DB:          db,
		JWT:         jwtSvc,
		Credentials: credentials,
		Federation:  bridge,
		RateStore:   middleware.NewMemoryRateStore(),
		Config:      cfg,
	})
	require.NoError(t, err)

	return &Env{
		T:       t,
		DB:      db,
		Router:  router,
		JWT:     jwtSvc,
		Bridge:  bridge,
		Mail:    mailbox,
		Config:  cfg,
		cookies: map[string]*http.Cookie{},
	}
}

// Mailbox records queued email jobs instead of delivering them.
type Mailbox struct {
	mu   sync.Mutex
	jobs []notifications.Job
	err  error
}

func (m *Mailbox) Enqueue(job notifications.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

// FailWith makes every later Enqueue return err. Pass nil to accept jobs again.
func (m *Mailbox) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Jobs returns a snapshot of every queued job.
func (m *Mailbox) Jobs() []notifications.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifications.Job(nil), m.jobs...)
}

// ByKind filters queued jobs by kind.
func (m *Mailbox) ByKind(kind string) []notifications.Job {
	var out []notifications.Job
	for _, job := range m.Jobs() {
		if job.Kind == kind {
			out = append(out, job)
		}
	}
	return out
}

// LastResetToken extracts the raw token from the most recent reset email.
func (m *Mailbox) LastResetToken(t *testing.T) string {
	t.Helper()
	jobs := m.ByKind(notifications.KindPasswordReset)
	require.NotEmpty(t, jobs, "no password reset email queued")
	match := resetTokenPattern.FindStringSubmatch(jobs[len(jobs)-1].HTMLBody)
	require.Len(t, match, 2)
	return match[1]
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router. Cookies set by earlier
// responses are replayed, like a browser would.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, cookie := range e.cookies {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	e.captureCookies(w.Result())
	return w
}

// Cookie returns the live cookie with the given name, if any.
func (e *Env) Cookie(name string) *http.Cookie {
	return e.cookies[name]
}

// ClearCookies forgets every stored cookie.
func (e *Env) ClearCookies() {
	e.cookies = map[string]*http.Cookie{}
}

func (e *Env) captureCookies(resp *http.Response) {
	if resp == nil {
		return
	}
	for _, cookie := range resp.Cookies() {
		if cookie.MaxAge < 0 || cookie.Value == "" {
			delete(e.cookies, cookie.Name)
			continue
		}
		e.cookies[cookie.Name] = &http.Cookie{Name: cookie.Name, Value: cookie.Value}
	}
}

// Register creates a password account through the API.
func (e *Env) Register(username, email, password string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.Request(http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, "")
}

// LoginResult bundles the JSON response from POST /api/users/login.
type LoginResult struct {
	User      iauth.SessionIdentity `json:"user"`
	Token     string                `json:"token"`
	ExpiresIn int                   `json:"expires_in"`
}

// Login authenticates with email and password and returns the issued session.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/users/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Token)
	require.Greater(e.T, result.ExpiresIn, 0)
	return result
}
