package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/usermanager/internal/app"
	iauth "github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/database/testutil"
	"github.com/charlesng35/usermanager/internal/notifications"
	"github.com/charlesng35/usermanager/internal/services"
	"github.com/charlesng35/usermanager/internal/store"
)

type discardMail struct{}

func (discardMail) Enqueue(notifications.Job) error { return nil }

func testDependencies(t *testing.T, requests int) Dependencies {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-test-secret", Issuer: "test", SessionTTL: time.Minute})
	require.NoError(t, err)

	accounts, err := store.NewGormAccountStore(db)
	require.NoError(t, err)
	credentials, err := services.NewCredentialService(accounts, discardMail{})
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Server.RateLimit = app.RateLimitConfig{Requests: requests, Window: time.Minute}

	return Dependencies{DB: db, JWT: jwtSvc, Credentials: credentials, Config: cfg}
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	deps := testDependencies(t, 100)

	missing := []func(d *Dependencies){
		func(d *Dependencies) { d.DB = nil },
		func(d *Dependencies) { d.JWT = nil },
		func(d *Dependencies) { d.Credentials = nil },
		func(d *Dependencies) { d.Config = nil },
	}
	for _, strip := range missing {
		d := deps
		strip(&d)
		_, err := NewRouter(d)
		require.Error(t, err)
	}
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	router, err := NewRouter(testDependencies(t, 100))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/users/test").Code)
	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/users/current").Code)

	// Federation is off without a bridge.
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/api/users/google-login").Code)

	missing := serve(router, http.MethodGet, "/api/nope")
	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Contains(t, missing.Body.String(), "NOT_FOUND")
}

func TestRouterSecurityHeaders(t *testing.T) {
	router, err := NewRouter(testDependencies(t, 100))
	require.NoError(t, err)

	rec := serve(router, http.MethodGet, "/api/users/test")
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestRouterRateLimitsPerClient(t *testing.T) {
	router, err := NewRouter(testDependencies(t, 2))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/users/test").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/users/test").Code)

	limited := serve(router, http.MethodGet, "/api/users/test")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.NotEmpty(t, limited.Header().Get("Retry-After"))
	require.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, err := NewRouter(testDependencies(t, 100))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)

	rec := serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(),
		`usermanager_api_latency_seconds_count{method="GET",path="/health",status="200"}`), rec.Body.String())
}
