package app

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	cases := map[string]string{
		"hex":        hex.EncodeToString(raw),
		"base64":     base64.StdEncoding.EncodeToString(raw),
		"raw base64": base64.RawURLEncoding.EncodeToString(raw),
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			decoded, err := DecodeKey(encoded)
			require.NoError(t, err)
			require.Equal(t, raw, decoded)
		})
	}

	plain, err := DecodeKey("this-is-a-raw-key!!")
	require.NoError(t, err)
	require.Equal(t, []byte("this-is-a-raw-key!!"), plain)

	_, err = DecodeKey("   ")
	require.Error(t, err)
}

func validFederationConfig() *Config {
	cfg := &Config{}
	cfg.Auth.Federation.Enabled = true
	cfg.Auth.Federation.ClientID = "client"
	cfg.Auth.Federation.ClientSecret = "secret"
	cfg.Auth.Federation.StateKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, (&Config{}).Validate())
	require.NoError(t, validFederationConfig().Validate())

	missingClient := validFederationConfig()
	missingClient.Auth.Federation.ClientSecret = ""
	require.Error(t, missingClient.Validate())

	shortKey := validFederationConfig()
	shortKey.Auth.Federation.StateKey = "abcd"
	require.ErrorContains(t, shortKey.Validate(), "state_key")

	smtp := &Config{}
	smtp.Email.SMTP.Enabled = true
	require.ErrorContains(t, smtp.Validate(), "email.smtp.from")

	store := &Config{}
	store.Server.RateLimit.Store = "redis"
	require.Error(t, store.Validate())
}
