package providers

import (
	"context"
	"net/http"
)

// BeginAuthRequest captures what is required to start the authorization-code flow.
type BeginAuthRequest struct {
	State         string
	Nonce         string
	PKCEChallenge string
	Prompt        string
}

// BeginAuthResponse contains the provider authorization URL the user agent is sent to.
type BeginAuthResponse struct {
	RedirectURL string
	State       string
}

// CallbackRequest carries the raw callback request plus the values remembered from Begin.
type CallbackRequest struct {
	PKCEVerifier   string
	ExpectedNonce  string
	RawHTTPRequest *http.Request
}

// Identity represents the claims returned from the external provider.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	DisplayName   string
	AvatarURL     string
	RawClaims     map[string]any
}

// Provider is a redirect-based external identity provider.
type Provider interface {
	Name() string
	Begin(ctx context.Context, req BeginAuthRequest) (*BeginAuthResponse, error)
	Callback(ctx context.Context, req CallbackRequest) (*Identity, error)
}
