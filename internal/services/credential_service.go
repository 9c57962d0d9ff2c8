package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/models"
	"github.com/charlesng35/usermanager/internal/notifications"
	"github.com/charlesng35/usermanager/internal/store"
	"github.com/charlesng35/usermanager/pkg/crypto"
	"github.com/charlesng35/usermanager/pkg/logger"
	"github.com/charlesng35/usermanager/pkg/metrics"
	"github.com/charlesng35/usermanager/pkg/validator"
)

const (
	defaultResetTokenTTL   = 24 * time.Hour
	defaultResetTokenBytes = 32
	defaultFrontendURL     = "http://localhost:8080"
)

// RegisterInput describes a self-service registration.
type RegisterInput struct {
	Username string `json:"username" validate:"required,notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginInput carries password login credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
}

type resetRequestInput struct {
	Email string `json:"email" validate:"required,email"`
}

type resetRedeemInput struct {
	Password string `json:"password" validate:"required,min=6"`
}

// CredentialOption customises the CredentialService.
type CredentialOption func(*CredentialService)

// WithCredentialClock injects a custom time source.
func WithCredentialClock(clock func() time.Time) CredentialOption {
	return func(s *CredentialService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithResetTokenTTL overrides how long a reset token stays redeemable.
func WithResetTokenTTL(ttl time.Duration) CredentialOption {
	return func(s *CredentialService) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithResetTokenBytes adjusts the number of random bytes in reset tokens.
func WithResetTokenBytes(size int) CredentialOption {
	return func(s *CredentialService) {
		if size > 0 {
			s.tokenBytes = size
		}
	}
}

// WithFrontendURL sets the base URL used in reset links.
func WithFrontendURL(base string) CredentialOption {
	return func(s *CredentialService) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			s.frontendURL = base
		}
	}
}

// WithWelcomeEmail toggles the greeting sent after registration.
func WithWelcomeEmail(enabled bool) CredentialOption {
	return func(s *CredentialService) {
		s.sendWelcome = enabled
	}
}

// CredentialService owns registration, password login and the password reset lifecycle.
type CredentialService struct {
	accounts    store.AccountStore
	mail        notifications.Enqueuer
	locks       *keyedLock
	resetTTL    time.Duration
	tokenBytes  int
	frontendURL string
	sendWelcome bool
	now         func() time.Time
	log         *zap.Logger
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(accounts store.AccountStore, mail notifications.Enqueuer, opts ...CredentialOption) (*CredentialService, error) {
	if accounts == nil {
		return nil, errors.New("credential service: account store is required")
	}
	if mail == nil {
		return nil, errors.New("credential service: email enqueuer is required")
	}

	svc := &CredentialService{
		accounts:    accounts,
		mail:        mail,
		locks:       newKeyedLock(),
		resetTTL:    defaultResetTokenTTL,
		tokenBytes:  defaultResetTokenBytes,
		frontendURL: defaultFrontendURL,
		now:         time.Now,
		log:         logger.WithModule("credentials"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ResetTokenTTL reports the configured reset token lifetime.
func (s *CredentialService) ResetTokenTTL() time.Duration {
	return s.resetTTL
}

// Register creates an account with a hashed credential.
func (s *CredentialService) Register(ctx context.Context, input RegisterInput) (*models.Account, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	if err := validator.ValidateStruct(input); err != nil {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	unlock := s.locks.Lock(models.EmailKey(input.Email))
	defer unlock()

	existing, err := s.accounts.FindByEmail(ctx, input.Email)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("credential service: register: %w", err)
	}
	if existing != nil {
		metrics.Registrations.WithLabelValues("duplicate").Inc()
		return nil, ErrAlreadyRegistered
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("credential service: hash password: %w", err)
	}

	account := &models.Account{
		Username: input.Username,
		Email:    input.Email,
		Password: hash,
	}
	if _, err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			metrics.Registrations.WithLabelValues("duplicate").Inc()
			return nil, ErrAlreadyRegistered
		}
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("credential service: register: %w", err)
	}

	metrics.Registrations.WithLabelValues("created").Inc()
	s.log.Info("account registered", zap.String("account_id", account.ID), zap.String("email", account.Email))

	if s.sendWelcome {
		s.enqueueWelcome(account)
	}
	return account, nil
}

// Login verifies an email and password pair. It never mutates the account.
func (s *CredentialService) Login(ctx context.Context, input LoginInput) (*auth.SessionIdentity, error) {
	if err := validator.ValidateStruct(input); err != nil {
		metrics.AuthAttempts.WithLabelValues("password", "invalid").Inc()
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	account, err := s.accounts.FindByEmail(ctx, input.Email)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("password", "error").Inc()
		return nil, fmt.Errorf("credential service: login: %w", err)
	}
	if account == nil {
		crypto.BurnPasswordCheck(input.Password)
		metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
		return nil, ErrInvalidCredentials
	}
	if !crypto.VerifyPassword(account.Password, input.Password) {
		metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
		return nil, ErrInvalidCredentials
	}

	metrics.AuthAttempts.WithLabelValues("password", "success").Inc()
	return &auth.SessionIdentity{
		AccountID:     account.ID,
		Email:         account.Email,
		DisplayName:   account.Username,
		Provider:      auth.ProviderLocal,
		Authenticated: true,
	}, nil
}

// RequestPasswordReset issues a reset token and queues the reset email. Unknown
// emails succeed silently so callers cannot probe for accounts.
func (s *CredentialService) RequestPasswordReset(ctx context.Context, email string) error {
	input := resetRequestInput{Email: strings.TrimSpace(email)}
	if err := validator.ValidateStruct(input); err != nil {
		metrics.PasswordResets.WithLabelValues("request", "invalid").Inc()
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	unlock := s.locks.Lock(models.EmailKey(input.Email))
	defer unlock()

	account, err := s.accounts.FindByEmail(ctx, input.Email)
	if err != nil {
		metrics.PasswordResets.WithLabelValues("request", "error").Inc()
		return fmt.Errorf("credential service: reset request: %w", err)
	}
	if account == nil {
		metrics.PasswordResets.WithLabelValues("request", "unknown").Inc()
		s.log.Debug("password reset requested for unknown email")
		return nil
	}

	token, err := crypto.GenerateToken(s.tokenBytes)
	if err != nil {
		metrics.PasswordResets.WithLabelValues("request", "error").Inc()
		return fmt.Errorf("credential service: generate token: %w", err)
	}

	account.SetResetToken(crypto.HashToken(token), s.now().Add(s.resetTTL))
	if err := s.accounts.Update(ctx, account); err != nil {
		metrics.PasswordResets.WithLabelValues("request", "error").Inc()
		return fmt.Errorf("credential service: store reset token: %w", err)
	}

	job, err := notifications.PasswordResetJob(account.Email, s.resetLink(token), s.resetTTL)
	if err == nil {
		err = s.mail.Enqueue(job)
	}
	if err != nil {
		metrics.PasswordResets.WithLabelValues("request", "error").Inc()
		return fmt.Errorf("credential service: queue reset email: %w", err)
	}

	metrics.PasswordResets.WithLabelValues("request", "issued").Inc()
	s.log.Info("password reset issued", zap.String("account_id", account.ID), zap.String("email", account.Email))
	return nil
}

// RedeemPasswordReset replaces the credential of the account holding token and
// clears the token so it cannot be used twice.
func (s *CredentialService) RedeemPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := validator.ValidateStruct(resetRedeemInput{Password: newPassword}); err != nil {
		metrics.PasswordResets.WithLabelValues("redeem", "invalid").Inc()
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		metrics.PasswordResets.WithLabelValues("redeem", "rejected").Inc()
		return ErrTokenInvalid
	}
	hash := crypto.HashToken(token)

	candidate, err := s.accounts.FindByResetTokenHash(ctx, hash)
	if err != nil {
		metrics.PasswordResets.WithLabelValues("redeem", "error").Inc()
		return fmt.Errorf("credential service: reset lookup: %w", err)
	}
	if candidate == nil {
		metrics.PasswordResets.WithLabelValues("redeem", "rejected").Inc()
		return ErrTokenInvalid
	}

	unlock := s.locks.Lock(models.EmailKey(candidate.Email))
	defer unlock()

	// Re-read under the lock; a concurrent redemption or re-issue may have won.
	account, err := s.accounts.FindByID(ctx, candidate.ID)
	if err != nil {
		metrics.PasswordResets.WithLabelValues("redeem", "error").Inc()
		return fmt.Errorf("credential service: reset lookup: %w", err)
	}
	if account == nil || account.ResetTokenHash == nil || *account.ResetTokenHash != hash ||
		!account.ResetTokenRedeemableAt(s.now()) {
		metrics.PasswordResets.WithLabelValues("redeem", "rejected").Inc()
		return ErrTokenInvalid
	}

	passwordHash, err := crypto.HashPassword(newPassword)
	if err != nil {
		metrics.PasswordResets.WithLabelValues("redeem", "error").Inc()
		return fmt.Errorf("credential service: hash password: %w", err)
	}

	account.Password = passwordHash
	account.ClearResetToken()
	if err := s.accounts.Update(ctx, account); err != nil {
		metrics.PasswordResets.WithLabelValues("redeem", "error").Inc()
		return fmt.Errorf("credential service: store password: %w", err)
	}

	metrics.PasswordResets.WithLabelValues("redeem", "completed").Inc()
	s.log.Info("password reset completed", zap.String("account_id", account.ID))
	return nil
}

func (s *CredentialService) resetLink(token string) string {
	return s.frontendURL + "/reset-password?token=" + url.QueryEscape(token)
}

func (s *CredentialService) enqueueWelcome(account *models.Account) {
	job, err := notifications.WelcomeJob(account.Email, account.Username)
	if err == nil {
		err = s.mail.Enqueue(job)
	}
	if err != nil {
		s.log.Warn("welcome email not queued", zap.String("email", account.Email), zap.Error(err))
	}
}
