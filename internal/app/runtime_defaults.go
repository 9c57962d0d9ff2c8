package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charlesng35/usermanager/pkg/crypto"
)

const (
	sessionSecretBytes = 48
	stateKeyBytes      = 32
)

// ApplyRuntimeDefaults fills in secrets missing from configuration. The returned map
// names the generated keys so callers can log the event without exposing values.
// Generated secrets live only for this process: restarts invalidate sessions and
// in-flight federation state.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.Session.Secret) == "" {
		secret, err := crypto.GenerateToken(sessionSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		cfg.Auth.Session.Secret = secret
		generated["auth.session.secret"] = true
	}

	if strings.TrimSpace(cfg.Auth.Federation.StateKey) == "" {
		key, err := generateHexKey(stateKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("generate federation state key: %w", err)
		}
		cfg.Auth.Federation.StateKey = key
		generated["auth.federation.state_key"] = true
	}

	return generated, nil
}

// StateKey decodes the configured federation state key.
func (c AuthConfig) StateKey() ([]byte, error) {
	return DecodeKey(c.Federation.StateKey)
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
