package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCSettings configures the OpenID Connect provider.
type OIDCSettings struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OIDCOptions configures transport behaviour of the OIDC provider implementation.
type OIDCOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

type oidcProvider struct {
	name        string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client
	timeout     time.Duration
}

// NewOIDCProvider performs issuer discovery and returns a ready provider.
func NewOIDCProvider(ctx context.Context, settings OIDCSettings, opts OIDCOptions) (Provider, error) {
	if strings.TrimSpace(settings.Issuer) == "" {
		return nil, errors.New("oidc provider: issuer is required")
	}
	if strings.TrimSpace(settings.ClientID) == "" {
		return nil, errors.New("oidc provider: client id is required")
	}
	if strings.TrimSpace(settings.ClientSecret) == "" {
		return nil, errors.New("oidc provider: client secret is required")
	}
	if strings.TrimSpace(settings.RedirectURL) == "" {
		return nil, errors.New("oidc provider: redirect url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	scopes := settings.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	name := strings.ToLower(strings.TrimSpace(settings.Name))
	if name == "" {
		name = "oidc"
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if opts.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, opts.HTTPClient)
	}

	discoverCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	issuer, err := oidc.NewProvider(discoverCtx, settings.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: discovery failed: %w", err)
	}

	return &oidcProvider{
		name: name,
		oauthConfig: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			Endpoint:     issuer.Endpoint(),
			RedirectURL:  settings.RedirectURL,
			Scopes:       scopes,
		},
		verifier:   issuer.Verifier(&oidc.Config{ClientID: settings.ClientID}),
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
	}, nil
}

func (p *oidcProvider) Name() string {
	return p.name
}

func (p *oidcProvider) Begin(ctx context.Context, req BeginAuthRequest) (*BeginAuthResponse, error) {
	if strings.TrimSpace(req.State) == "" {
		return nil, errors.New("oidc provider: state is required")
	}
	if strings.TrimSpace(req.Nonce) == "" {
		return nil, errors.New("oidc provider: nonce is required")
	}
	if strings.TrimSpace(req.PKCEChallenge) == "" {
		return nil, errors.New("oidc provider: pkce challenge is required")
	}

	authOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(req.Nonce),
		oauth2.SetAuthURLParam("code_challenge", req.PKCEChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if req.Prompt != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}

	return &BeginAuthResponse{
		RedirectURL: p.oauthConfig.AuthCodeURL(req.State, authOpts...),
		State:       req.State,
	}, nil
}

func (p *oidcProvider) Callback(ctx context.Context, req CallbackRequest) (*Identity, error) {
	if req.RawHTTPRequest == nil {
		return nil, errors.New("oidc provider: request is required")
	}
	query := req.RawHTTPRequest.URL.Query()
	if errStr := query.Get("error"); errStr != "" {
		return nil, fmt.Errorf("oidc provider: authorization error: %s", errStr)
	}
	code := query.Get("code")
	if code == "" {
		return nil, errors.New("oidc provider: authorization code missing")
	}
	if strings.TrimSpace(req.PKCEVerifier) == "" {
		return nil, errors.New("oidc provider: pkce verifier is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	tokenCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token, err := p.oauthConfig.Exchange(tokenCtx, code, oauth2.VerifierOption(req.PKCEVerifier))
	if err != nil {
		return nil, fmt.Errorf("oidc provider: exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("oidc provider: id token missing")
	}

	idToken, err := p.verifier.Verify(tokenCtx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: verify id token: %w", err)
	}
	if req.ExpectedNonce != "" && idToken.Nonce != req.ExpectedNonce {
		return nil, errors.New("oidc provider: nonce mismatch")
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc provider: decode claims: %w", err)
	}

	return &Identity{
		Provider:      p.name,
		Subject:       idToken.Subject,
		Email:         strings.TrimSpace(stringValue(claims, "email")),
		EmailVerified: boolValue(claims, "email_verified"),
		DisplayName:   stringValue(claims, "name"),
		AvatarURL:     stringValue(claims, "picture"),
		RawClaims:     claims,
	}, nil
}

func stringValue(claims map[string]any, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolValue(claims map[string]any, key string) bool {
	if v, ok := claims[key]; ok {
		switch val := v.(type) {
		case bool:
			return val
		case string:
			return strings.EqualFold(val, "true")
		}
	}
	return false
}
