package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/auth/providers"
	"github.com/charlesng35/usermanager/internal/handlers/testutil"
	"github.com/charlesng35/usermanager/internal/middleware"
	"github.com/charlesng35/usermanager/internal/notifications"
)

type fakeProvider struct {
	state    string
	identity *providers.Identity
	err      error
}

func (p *fakeProvider) Name() string { return iauth.ProviderGoogle }

func (p *fakeProvider) Begin(_ context.Context, req providers.BeginAuthRequest) (*providers.BeginAuthResponse, error) {
	p.state = req.State
	return &providers.BeginAuthResponse{
		RedirectURL: "https://accounts.example/auth?state=" + url.QueryEscape(req.State),
		State:       req.State,
	}, nil
}

func (p *fakeProvider) Callback(context.Context, providers.CallbackRequest) (*providers.Identity, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.identity, nil
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{identity: &providers.Identity{
		Provider:    iauth.ProviderGoogle,
		Subject:     "subject-1",
		Email:       "bob@x.com",
		DisplayName: "Bob",
		AvatarURL:   "https://img.example/bob.png",
	}}
}

func redirectQuery(t *testing.T, location string) url.Values {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	require.Equal(t, "/login", u.Path)
	return u.Query()
}

func TestFederationHandler_DisabledAnswersNotFound(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, path := range []string{"/api/users/google-url", "/api/users/google-login", "/api/users/google-callback"} {
		w := env.Request(http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusNotFound, w.Code, path)
		require.Equal(t, "FEDERATION_DISABLED", testutil.DecodeResponse(t, w).Error.Code)
	}
}

func TestFederationHandler_LoginURL(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithFederation(newFakeProvider(), iauth.FederationConfig{}))

	w := env.Request(http.MethodGet, "/api/users/google-url", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &body)
	require.Equal(t, testutil.PublicURL+"/api/users/google-login", body["url"])
}

func TestFederationHandler_RoundTrip(t *testing.T) {
	provider := newFakeProvider()
	env := testutil.NewEnv(t, testutil.WithFederation(provider, iauth.FederationConfig{}))

	begin := env.Request(http.MethodGet, "/api/users/google-login", nil, "")
	require.Equal(t, http.StatusFound, begin.Code)
	require.Contains(t, begin.Header().Get("Location"), "https://accounts.example/auth")
	require.NotNil(t, env.Cookie(middleware.FlowCookieName))
	require.NotEmpty(t, provider.state)

	cb := env.Request(http.MethodGet, "/api/users/google-callback?code=abc&state="+url.QueryEscape(provider.state), nil, "")
	require.Equal(t, http.StatusFound, cb.Code)
	location := cb.Header().Get("Location")
	require.Contains(t, location, testutil.FrontendURL+"/login?")

	query := redirectQuery(t, location)
	require.Empty(t, query.Get("error"))
	var info iauth.SessionIdentity
	require.NoError(t, json.Unmarshal([]byte(query.Get("userInfo")), &info))
	require.Equal(t, "bob@x.com", info.Email)
	require.Equal(t, "Bob", info.DisplayName)
	require.Equal(t, iauth.ProviderGoogle, info.Provider)
	require.True(t, info.Authenticated)

	current := env.Request(http.MethodGet, "/api/users/current", nil, "")
	require.Equal(t, http.StatusOK, current.Code, current.Body.String())

	env.Bridge.Wait()
	jobs := env.Mail.ByKind(notifications.KindLoginNotification)
	require.Len(t, jobs, 1)
	require.Equal(t, "bob@x.com", jobs[0].To)
}

func TestFederationHandler_CallbackFromAnotherBrowserFails(t *testing.T) {
	provider := newFakeProvider()
	env := testutil.NewEnv(t, testutil.WithFederation(provider, iauth.FederationConfig{}))

	begin := env.Request(http.MethodGet, "/api/users/google-login", nil, "")
	require.Equal(t, http.StatusFound, begin.Code)

	env.ClearCookies()
	cb := env.Request(http.MethodGet, "/api/users/google-callback?code=abc&state="+url.QueryEscape(provider.state), nil, "")
	require.Equal(t, http.StatusFound, cb.Code)
	require.Equal(t, string(iauth.FederationErrStateInvalid), redirectQuery(t, cb.Header().Get("Location")).Get("error"))
	require.Nil(t, env.Cookie(middleware.DefaultSessionCookie))

	env.Bridge.Wait()
	require.Empty(t, env.Mail.Jobs())
}

func TestFederationHandler_ProviderErrorRedirects(t *testing.T) {
	provider := newFakeProvider()
	provider.err = errors.New("access_denied")
	env := testutil.NewEnv(t, testutil.WithFederation(provider, iauth.FederationConfig{}))

	require.Equal(t, http.StatusFound, env.Request(http.MethodGet, "/api/users/google-login", nil, "").Code)
	cb := env.Request(http.MethodGet, "/api/users/google-callback?error=access_denied&state="+url.QueryEscape(provider.state), nil, "")
	require.Equal(t, http.StatusFound, cb.Code)
	require.Equal(t, string(iauth.FederationErrProvider), redirectQuery(t, cb.Header().Get("Location")).Get("error"))
}

func TestFederationHandler_MissingEmailRedirects(t *testing.T) {
	provider := newFakeProvider()
	provider.identity.Email = ""
	env := testutil.NewEnv(t, testutil.WithFederation(provider, iauth.FederationConfig{}))

	require.Equal(t, http.StatusFound, env.Request(http.MethodGet, "/api/users/google-login", nil, "").Code)
	cb := env.Request(http.MethodGet, "/api/users/google-callback?code=abc&state="+url.QueryEscape(provider.state), nil, "")
	require.Equal(t, string(iauth.FederationErrEmailMissing), redirectQuery(t, cb.Header().Get("Location")).Get("error"))
}
