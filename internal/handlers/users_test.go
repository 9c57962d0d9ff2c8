package handlers_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/usermanager/internal/handlers/testutil"
	"github.com/charlesng35/usermanager/internal/middleware"
	"github.com/charlesng35/usermanager/internal/models"
	"github.com/charlesng35/usermanager/internal/notifications"
)

func TestUserHandler_RegisterLoginCurrentLogout(t *testing.T) {
	env := testutil.NewEnv(t)

	reg := env.Register("alice", "Alice@Example.com", "secret1")
	require.Equal(t, http.StatusCreated, reg.Code, reg.Body.String())
	var created struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, reg).Data, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "Alice@Example.com", created.Email)
	require.Equal(t, "alice", created.Username)

	login := env.Login("alice@example.com", "secret1")
	require.Equal(t, created.ID, login.User.AccountID)
	require.Equal(t, "local", login.User.Provider)
	require.True(t, login.User.Authenticated)
	require.NotNil(t, env.Cookie(middleware.DefaultSessionCookie))

	// The session cookie alone authenticates.
	current := env.Request(http.MethodGet, "/api/users/current", nil, "")
	require.Equal(t, http.StatusOK, current.Code, current.Body.String())
	var identity map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, current).Data, &identity)
	require.Equal(t, created.ID, identity["id"])
	require.Equal(t, "alice", identity["name"])

	logout := env.Request(http.MethodPost, "/api/users/logout", nil, "")
	require.Equal(t, http.StatusOK, logout.Code)
	require.Nil(t, env.Cookie(middleware.DefaultSessionCookie))

	unauth := env.Request(http.MethodGet, "/api/users/current", nil, "")
	require.Equal(t, http.StatusUnauthorized, unauth.Code)

	// The bearer header still works for API clients.
	bearer := env.Request(http.MethodGet, "/api/users/current", nil, login.Token)
	require.Equal(t, http.StatusOK, bearer.Code)
}

func TestUserHandler_RegisterRejectsDuplicateEmail(t *testing.T) {
	env := testutil.NewEnv(t)

	require.Equal(t, http.StatusCreated, env.Register("alice", "a@x.com", "secret1").Code)

	dup := env.Register("alice2", "A@X.COM", "secret2")
	require.Equal(t, http.StatusConflict, dup.Code, dup.Body.String())
	resp := testutil.DecodeResponse(t, dup)
	require.False(t, resp.Success)
	require.Equal(t, "ALREADY_REGISTERED", resp.Error.Code)

	var count int64
	require.NoError(t, env.DB.Model(&models.Account{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestUserHandler_RegisterValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	cases := []struct {
		name     string
		username string
		email    string
		password string
		message  string
	}{
		{"short password", "bob", "b@x.com", "12345", "password must be at least 6 characters"},
		{"bad email", "bob", "not-an-email", "secret1", "email must be a valid email address"},
		{"blank username", "   ", "b@x.com", "secret1", "username is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.Register(tc.username, tc.email, tc.password)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := testutil.DecodeResponse(t, w)
			require.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
			require.Equal(t, tc.message, resp.Error.Message)
		})
	}
}

func TestUserHandler_LoginFailuresAreIndistinguishable(t *testing.T) {
	env := testutil.NewEnv(t)
	require.Equal(t, http.StatusCreated, env.Register("alice", "a@x.com", "secret1").Code)

	wrongPassword := env.Request(http.MethodPost, "/api/users/login", map[string]string{"email": "a@x.com", "password": "nope12"}, "")
	unknownEmail := env.Request(http.MethodPost, "/api/users/login", map[string]string{"email": "z@x.com", "password": "nope12"}, "")

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	require.JSONEq(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	require.Nil(t, env.Cookie(middleware.DefaultSessionCookie))
}

func TestUserHandler_LoginRejectsMalformedJSON(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/users/login", "not-an-object", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", testutil.DecodeResponse(t, w).Error.Code)
}

func TestUserHandler_ForgotPasswordQueueFailureIsGeneric(t *testing.T) {
	env := testutil.NewEnv(t)
	require.Equal(t, http.StatusCreated, env.Register("alice", "a@x.com", "secret1").Code)

	env.Mail.FailWith(fmt.Errorf("dispatcher: %w", &notifications.RateLimitedError{RetryAfter: time.Minute, Err: errors.New("queue full")}))

	w := env.Request(http.MethodPost, "/api/users/forgot-password", map[string]string{"email": "a@x.com"}, "")
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
	require.Empty(t, w.Header().Get("Retry-After"))

	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "INTERNAL_SERVER_ERROR", resp.Error.Code)

	invalid := env.Request(http.MethodPost, "/api/users/forgot-password", map[string]string{"email": "not-an-email"}, "")
	require.Equal(t, http.StatusBadRequest, invalid.Code)
	require.Equal(t, "VALIDATION_ERROR", testutil.DecodeResponse(t, invalid).Error.Code)
}

func TestUserHandler_PasswordResetFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	require.Equal(t, http.StatusCreated, env.Register("alice", "a@x.com", "secret1").Code)

	unknown := env.Request(http.MethodPost, "/api/users/forgot-password", map[string]string{"email": "nobody@x.com"}, "")
	known := env.Request(http.MethodPost, "/api/users/forgot-password", map[string]string{"email": "a@x.com"}, "")
	require.Equal(t, http.StatusOK, unknown.Code)
	require.Equal(t, http.StatusOK, known.Code)
	require.JSONEq(t, unknown.Body.String(), known.Body.String())

	jobs := env.Mail.ByKind(notifications.KindPasswordReset)
	require.Len(t, jobs, 1)
	require.Equal(t, "a@x.com", jobs[0].To)
	require.Contains(t, jobs[0].HTMLBody, testutil.FrontendURL+"/reset-password?token=")

	token := env.Mail.LastResetToken(t)

	weak := env.Request(http.MethodPost, "/api/users/reset-password", map[string]string{"token": token, "password": "123"}, "")
	require.Equal(t, http.StatusBadRequest, weak.Code)
	require.Equal(t, "VALIDATION_ERROR", testutil.DecodeResponse(t, weak).Error.Code)

	ok := env.Request(http.MethodPost, "/api/users/reset-password", map[string]string{"token": token, "password": "newsecret"}, "")
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	reused := env.Request(http.MethodPost, "/api/users/reset-password", map[string]string{"token": token, "password": "another1"}, "")
	require.Equal(t, http.StatusBadRequest, reused.Code)
	require.Equal(t, "RESET_TOKEN_INVALID", testutil.DecodeResponse(t, reused).Error.Code)

	env.Login("a@x.com", "newsecret")
	old := env.Request(http.MethodPost, "/api/users/login", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	require.Equal(t, http.StatusUnauthorized, old.Code)
}

func TestUserHandler_ResetPasswordRequiresToken(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/users/reset-password", map[string]string{"password": "newsecret"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	require.Equal(t, "token is required", resp.Error.Message)
}

func TestUserHandler_TestEndpoint(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/users/test", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &body)
	require.Equal(t, "API is working", body["message"])
}

func TestHealth(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, testutil.DecodeResponse(t, w).Success)
}
