package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeKey accepts hex, standard base64 or raw text. Hex is tried first because
// generated keys are hex encoded.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	return []byte(v), nil
}

// Validate checks settings that would otherwise only fail on first use.
func (c *Config) Validate() error {
	if c.Auth.Federation.Enabled {
		if strings.TrimSpace(c.Auth.Federation.ClientID) == "" || strings.TrimSpace(c.Auth.Federation.ClientSecret) == "" {
			return fmt.Errorf("config: auth.federation.client_id and client_secret are required when federation is enabled")
		}
		key, err := c.Auth.StateKey()
		if err != nil {
			return fmt.Errorf("config: auth.federation.state_key: %w", err)
		}
		switch len(key) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("config: auth.federation.state_key must decode to 16, 24 or 32 bytes, got %d", len(key))
		}
	}
	if c.Email.SMTP.Enabled && strings.TrimSpace(c.Email.SMTP.From) == "" {
		return fmt.Errorf("config: email.smtp.from is required when smtp is enabled")
	}
	switch strings.ToLower(strings.TrimSpace(c.Server.RateLimit.Store)) {
	case "", "memory", "database":
	default:
		return fmt.Errorf("config: unknown server.rate_limit.store %q", c.Server.RateLimit.Store)
	}
	return nil
}
