package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/charlesng35/usermanager/internal/auth/providers"
	"github.com/charlesng35/usermanager/internal/models"
	"github.com/charlesng35/usermanager/internal/notifications"
	"github.com/charlesng35/usermanager/internal/store"
	"github.com/charlesng35/usermanager/pkg/crypto"
	"github.com/charlesng35/usermanager/pkg/logger"
	"github.com/charlesng35/usermanager/pkg/metrics"
)

// FederationState tracks one round trip through the external provider.
type FederationState string

const (
	FederationUnauthenticated  FederationState = "unauthenticated"
	FederationRedirected       FederationState = "redirected"
	FederationCallbackReceived FederationState = "callback_received"
	FederationAuthenticated    FederationState = "authenticated"
	FederationFailed           FederationState = "failed"
)

// FederationErrorCode is the non-sensitive reason shown to the end user after a failure.
type FederationErrorCode string

const (
	FederationErrStateInvalid       FederationErrorCode = "state_invalid"
	FederationErrProvider           FederationErrorCode = "provider_error"
	FederationErrEmailMissing       FederationErrorCode = "email_missing"
	FederationErrProvisioningFailed FederationErrorCode = "provisioning_failed"
)

// DefaultNotificationTTL bounds how long a (session, email) pair is remembered as notified.
const DefaultNotificationTTL = 24 * time.Hour

// FederationError reports a failed callback together with its user-facing code.
type FederationError struct {
	Code FederationErrorCode
	Err  error
}

func (e *FederationError) Error() string {
	return fmt.Sprintf("federation: %s: %v", e.Code, e.Err)
}

func (e *FederationError) Unwrap() error { return e.Err }

// InitiateRequest starts a federation round trip for the given transport session.
type InitiateRequest struct {
	SessionKey string
	ReturnURL  string
}

// InitiateResult holds the provider authorization URL.
type InitiateResult struct {
	RedirectURL string
	State       FederationState
}

// CallbackRequest carries the provider callback plus the session it arrived on.
type CallbackRequest struct {
	SessionKey     string
	State          string
	RawHTTPRequest *http.Request
}

// FederationResult is the outcome of Complete.
type FederationResult struct {
	State     FederationState
	Identity  *SessionIdentity
	ReturnURL string
	ErrorCode FederationErrorCode
}

// NotificationMarker remembers which sessions were already notified.
type NotificationMarker interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// FederationConfig controls optional bridge behaviour.
type FederationConfig struct {
	// AutoProvision creates an Account for federated emails that have none.
	AutoProvision   bool
	NotificationTTL time.Duration
}

// FederationOption customises a FederationBridge.
type FederationOption func(*FederationBridge)

// WithFederationClock overrides the time source.
func WithFederationClock(now func() time.Time) FederationOption {
	return func(b *FederationBridge) {
		if now != nil {
			b.now = now
		}
	}
}

// FederationBridge exchanges an external identity assertion for a SessionIdentity.
type FederationBridge struct {
	provider providers.Provider
	codec    *StateCodec
	accounts store.AccountStore
	markers  NotificationMarker
	mail     notifications.Enqueuer
	cfg      FederationConfig
	now      func() time.Time
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewFederationBridge wires the bridge. accounts may be nil when AutoProvision is off;
// markers and mail may be nil to disable the login notification.
func NewFederationBridge(provider providers.Provider, codec *StateCodec, accounts store.AccountStore, markers NotificationMarker, mail notifications.Enqueuer, cfg FederationConfig, opts ...FederationOption) (*FederationBridge, error) {
	if provider == nil {
		return nil, errors.New("federation: provider is required")
	}
	if codec == nil {
		return nil, errors.New("federation: state codec is required")
	}
	if cfg.AutoProvision && accounts == nil {
		return nil, errors.New("federation: account store is required for auto provisioning")
	}
	if cfg.NotificationTTL <= 0 {
		cfg.NotificationTTL = DefaultNotificationTTL
	}

	b := &FederationBridge{
		provider: provider,
		codec:    codec,
		accounts: accounts,
		markers:  markers,
		mail:     mail,
		cfg:      cfg,
		now:      time.Now,
		log:      logger.WithModule("federation"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// ProviderName reports the configured provider identifier.
func (b *FederationBridge) ProviderName() string {
	return b.provider.Name()
}

// Initiate builds the provider redirect. The encrypted state binds the flow to
// req.SessionKey and carries the nonce and PKCE verifier.
func (b *FederationBridge) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if strings.TrimSpace(req.SessionKey) == "" {
		return nil, errors.New("federation: session key is required")
	}

	nonce, err := crypto.GenerateToken(24)
	if err != nil {
		return nil, fmt.Errorf("federation: generate nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	state, err := b.codec.Encode(StatePayload{
		Provider:   b.provider.Name(),
		SessionKey: req.SessionKey,
		ReturnURL:  req.ReturnURL,
		Nonce:      nonce,
		PKCE:       verifier,
	})
	if err != nil {
		return nil, err
	}

	resp, err := b.provider.Begin(ctx, providers.BeginAuthRequest{
		State:         state,
		Nonce:         nonce,
		PKCEChallenge: oauth2.S256ChallengeFromVerifier(verifier),
	})
	if err != nil {
		return nil, fmt.Errorf("federation: begin: %w", err)
	}

	return &InitiateResult{RedirectURL: resp.RedirectURL, State: FederationRedirected}, nil
}

// Complete validates the callback and returns the authenticated identity. On failure
// the result carries FederationFailed and a FederationErrorCode, and the error is a
// *FederationError.
func (b *FederationBridge) Complete(ctx context.Context, req CallbackRequest) (*FederationResult, error) {
	payload, err := b.codec.Decode(req.State)
	if err != nil {
		return b.fail(FederationErrStateInvalid, err)
	}
	if !strings.EqualFold(payload.Provider, b.provider.Name()) {
		return b.fail(FederationErrStateInvalid, fmt.Errorf("state issued for provider %q", payload.Provider))
	}
	if subtle.ConstantTimeCompare([]byte(payload.SessionKey), []byte(req.SessionKey)) != 1 {
		return b.fail(FederationErrStateInvalid, errors.New("state does not belong to this session"))
	}

	external, err := b.provider.Callback(ctx, providers.CallbackRequest{
		PKCEVerifier:   payload.PKCE,
		ExpectedNonce:  payload.Nonce,
		RawHTTPRequest: req.RawHTTPRequest,
	})
	if err != nil {
		return b.fail(FederationErrProvider, err)
	}

	email := strings.TrimSpace(external.Email)
	if email == "" {
		return b.fail(FederationErrEmailMissing, errors.New("provider returned no email claim"))
	}

	identity := &SessionIdentity{
		Email:         email,
		DisplayName:   displayName(external.DisplayName, email),
		AvatarURL:     external.AvatarURL,
		Provider:      b.provider.Name(),
		Authenticated: true,
	}

	if err := b.attachAccount(ctx, identity, external.EmailVerified); err != nil {
		return b.fail(FederationErrProvisioningFailed, err)
	}

	metrics.AuthAttempts.WithLabelValues("federation", "success").Inc()
	b.log.Info("federated login succeeded", zap.String("email", email), zap.String("provider", identity.Provider))

	b.notifyOnce(payload.SessionKey, identity)

	return &FederationResult{
		State:     FederationAuthenticated,
		Identity:  identity,
		ReturnURL: payload.ReturnURL,
	}, nil
}

// Wait blocks until pending login notifications have been handed off.
func (b *FederationBridge) Wait() {
	b.wg.Wait()
}

func (b *FederationBridge) fail(code FederationErrorCode, err error) (*FederationResult, error) {
	metrics.AuthAttempts.WithLabelValues("federation", "failure").Inc()
	b.log.Warn("federated login failed", zap.String("code", string(code)), zap.Error(err))
	return &FederationResult{State: FederationFailed, ErrorCode: code}, &FederationError{Code: code, Err: err}
}

// attachAccount links the identity to an existing account, creating one only when
// auto provisioning is enabled. Only provider-verified addresses are linked.
func (b *FederationBridge) attachAccount(ctx context.Context, identity *SessionIdentity, verified bool) error {
	if b.accounts == nil {
		return nil
	}
	if !verified {
		b.log.Info("federated email not verified, session left unlinked",
			zap.String("email", identity.Email), zap.String("provider", identity.Provider))
		return nil
	}

	account, err := b.accounts.FindByEmail(ctx, identity.Email)
	if err != nil {
		if !b.cfg.AutoProvision {
			b.log.Warn("account lookup failed, session left unlinked", zap.String("email", identity.Email), zap.Error(err))
			return nil
		}
		return err
	}
	if account != nil {
		identity.AccountID = account.ID
		return nil
	}
	if !b.cfg.AutoProvision {
		return nil
	}

	// The random credential is never disclosed, so password login stays closed until a reset.
	secret, err := crypto.GenerateToken(32)
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword(secret)
	if err != nil {
		return err
	}

	id, err := b.accounts.Create(ctx, &models.Account{
		Username: truncate(identity.DisplayName, 100),
		Email:    identity.Email,
		Password: hash,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		existing, findErr := b.accounts.FindByEmail(ctx, identity.Email)
		if findErr != nil || existing == nil {
			return err
		}
		identity.AccountID = existing.ID
		return nil
	}
	if err != nil {
		return err
	}

	b.log.Info("provisioned account for federated identity", zap.String("email", identity.Email))
	identity.AccountID = id
	return nil
}

// notifyOnce enqueues the login notice in the background. Failures are logged and
// never reach the authentication result.
func (b *FederationBridge) notifyOnce(sessionKey string, identity *SessionIdentity) {
	if b.markers == nil || b.mail == nil {
		return
	}

	at := b.now()
	key := "federation:notified:" + crypto.HashToken(sessionKey+"|"+models.EmailKey(identity.Email))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		first, err := b.markers.SetIfAbsent(ctx, key, []byte(at.UTC().Format(time.RFC3339)), b.cfg.NotificationTTL)
		if err != nil {
			b.log.Warn("login notification marker failed", zap.String("email", identity.Email), zap.Error(err))
			return
		}
		if !first {
			return
		}

		job, err := notifications.LoginNotificationJob(identity.Email, identity.DisplayName, b.provider.Name(), at)
		if err == nil {
			err = b.mail.Enqueue(job)
		}
		if err != nil {
			b.log.Warn("login notification not queued", zap.String("email", identity.Email), zap.Error(err))
		}
	}()
}

func displayName(name, email string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
