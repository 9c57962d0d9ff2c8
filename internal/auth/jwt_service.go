package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL defines the fallback validity period for session tokens.
const DefaultSessionTTL = 30 * time.Minute

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret     string
	Issuer     string
	SessionTTL time.Duration
	Clock      func() time.Time
}

// Claims represents the custom claims embedded in issued session tokens.
type Claims struct {
	AccountID string `json:"aid,omitempty"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Picture   string `json:"picture,omitempty"`
	Provider  string `json:"prv"`
	jwt.RegisteredClaims
}

// Identity converts validated claims back into a SessionIdentity.
func (c *Claims) Identity() *SessionIdentity {
	return &SessionIdentity{
		AccountID:     c.AccountID,
		Email:         c.Email,
		DisplayName:   c.Name,
		AvatarURL:     c.Picture,
		Provider:      c.Provider,
		Authenticated: true,
	}
}

// JWTService issues and validates the signed session tokens carried by the session cookie.
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// TTL reports how long issued tokens stay valid.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// IssueSessionToken signs a token describing identity.
func (s *JWTService) IssueSessionToken(identity *SessionIdentity) (string, error) {
	if identity == nil || !identity.Authenticated || identity.Email == "" {
		return "", errors.New("jwt: authenticated identity with email is required")
	}

	now := s.now()
	subject := identity.AccountID
	if subject == "" {
		subject = identity.Email
	}

	claims := &Claims{
		AccountID: identity.AccountID,
		Email:     identity.Email,
		Name:      identity.DisplayName,
		Picture:   identity.AvatarURL,
		Provider:  identity.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// ValidateSessionToken parses and validates a signed token, returning its claims.
func (s *JWTService) ValidateSessionToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if claims.Email == "" {
		return nil, errors.New("jwt: missing email claim")
	}

	return &claims, nil
}
