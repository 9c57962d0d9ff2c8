package app

import (
	"net/url"
	"strings"
	"time"

	"github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/auth/providers"
	"github.com/charlesng35/usermanager/internal/services"
)

const (
	defaultStateTTL          = 10 * time.Minute
	defaultFederationTimeout = 10 * time.Second
	federationLoginPath      = "/api/users/google-login"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.Session.TTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}

	return auth.JWTConfig{
		Secret:     c.Session.Secret,
		Issuer:     c.Session.Issuer,
		SessionTTL: ttl,
	}
}

// OIDCSettings converts the federation block into provider settings.
func (c AuthConfig) OIDCSettings() providers.OIDCSettings {
	return providers.OIDCSettings{
		Name:         auth.ProviderGoogle,
		Issuer:       strings.TrimSpace(c.Federation.Issuer),
		ClientID:     strings.TrimSpace(c.Federation.ClientID),
		ClientSecret: c.Federation.ClientSecret,
		RedirectURL:  joinURL(c.Federation.PublicURL, c.Federation.CallbackPath),
		Scopes:       c.Federation.Scopes,
	}
}

// OIDCOptions returns transport settings for the provider.
func (c AuthConfig) OIDCOptions() providers.OIDCOptions {
	timeout := c.Federation.Timeout
	if timeout <= 0 {
		timeout = defaultFederationTimeout
	}
	return providers.OIDCOptions{Timeout: timeout}
}

// StateTTL bounds how long a federation round trip may take.
func (c AuthConfig) StateTTL() time.Duration {
	if c.Federation.StateTTL <= 0 {
		return defaultStateTTL
	}
	return c.Federation.StateTTL
}

// FederationConfig converts the federation block into bridge settings.
func (c AuthConfig) FederationConfig() auth.FederationConfig {
	return auth.FederationConfig{
		AutoProvision:   c.Federation.AutoProvision,
		NotificationTTL: c.Federation.NotificationTTL,
	}
}

// FederationLoginURL is the public address of the endpoint that starts federation.
func (c AuthConfig) FederationLoginURL() string {
	return joinURL(c.Federation.PublicURL, federationLoginPath)
}

// CredentialOptions converts AuthConfig into CredentialService options.
func (c AuthConfig) CredentialOptions(frontendURL string) []services.CredentialOption {
	return []services.CredentialOption{
		services.WithResetTokenTTL(c.Reset.TokenTTL),
		services.WithResetTokenBytes(c.Reset.TokenBytes),
		services.WithFrontendURL(frontendURL),
		services.WithWelcomeEmail(c.Local.SendWelcomeEmail),
	}
}

func joinURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = strings.TrimSpace(path)
	if path == "" {
		return base
	}
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	return base + "/" + strings.TrimLeft(path, "/")
}
