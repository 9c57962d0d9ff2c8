package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. USERMANAGER_SERVER_PORT.
const EnvPrefix = "USERMANAGER"

// Config represents the runtime configuration of the user manager backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Email       EmailConfig       `mapstructure:"email"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int             `mapstructure:"port"`
	LogLevel    string          `mapstructure:"log_level"`
	FrontendURL string          `mapstructure:"frontend_url"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	// Store is "memory" or "database"; the latter shares counters between instances.
	Store string `mapstructure:"store"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	Session    SessionSettings    `mapstructure:"session"`
	Local      LocalAuthSettings  `mapstructure:"local"`
	Reset      ResetSettings      `mapstructure:"reset"`
	Federation FederationSettings `mapstructure:"federation"`
}

// SessionSettings configures the signed session cookie.
type SessionSettings struct {
	Secret       string        `mapstructure:"secret"`
	Issuer       string        `mapstructure:"issuer"`
	TTL          time.Duration `mapstructure:"ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

// LocalAuthSettings controls password accounts.
type LocalAuthSettings struct {
	SendWelcomeEmail bool `mapstructure:"send_welcome_email"`
}

// ResetSettings controls password reset tokens.
type ResetSettings struct {
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	TokenBytes int           `mapstructure:"token_bytes"`
}

// FederationSettings configures the external identity provider.
type FederationSettings struct {
	Enabled         bool          `mapstructure:"enabled"`
	Issuer          string        `mapstructure:"issuer"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	Scopes          []string      `mapstructure:"scopes"`
	CallbackPath    string        `mapstructure:"callback_path"`
	PublicURL       string        `mapstructure:"public_url"`
	StateKey        string        `mapstructure:"state_key"`
	StateTTL        time.Duration `mapstructure:"state_ttl"`
	AutoProvision   bool          `mapstructure:"auto_provision"`
	NotificationTTL time.Duration `mapstructure:"notification_ttl"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	Organization string         `mapstructure:"organization"`
	SMTP         SMTPConfig     `mapstructure:"smtp"`
	Dispatch     DispatchConfig `mapstructure:"dispatch"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	FromName string        `mapstructure:"from_name"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DispatchConfig bounds outbound email throughput.
type DispatchConfig struct {
	MaxInFlight int           `mapstructure:"max_in_flight"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	QueueSize   int           `mapstructure:"queue_size"`
}

// MaintenanceConfig schedules background housekeeping.
type MaintenanceConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	CacheCleanupSchedule string `mapstructure:"cache_cleanup_schedule"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.frontend_url", "http://localhost:8080")
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.rate_limit.store", "memory")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/usermanager.sqlite")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("auth.session.secret", "")
	v.SetDefault("auth.session.issuer", "usermanager")
	v.SetDefault("auth.session.ttl", "30m")
	v.SetDefault("auth.session.cookie_name", "usermanager_session")
	v.SetDefault("auth.session.cookie_secure", true)
	v.SetDefault("auth.local.send_welcome_email", false)
	v.SetDefault("auth.reset.token_ttl", "24h")
	v.SetDefault("auth.reset.token_bytes", 32)

	v.SetDefault("auth.federation.enabled", false)
	v.SetDefault("auth.federation.issuer", "https://accounts.google.com")
	v.SetDefault("auth.federation.client_id", "")
	v.SetDefault("auth.federation.client_secret", "")
	v.SetDefault("auth.federation.state_key", "")
	v.SetDefault("auth.federation.scopes", []string{"openid", "email", "profile"})
	v.SetDefault("auth.federation.callback_path", "/api/users/google-callback")
	v.SetDefault("auth.federation.public_url", "http://localhost:5000")
	v.SetDefault("auth.federation.state_ttl", "10m")
	v.SetDefault("auth.federation.auto_provision", false)
	v.SetDefault("auth.federation.notification_ttl", "24h")
	v.SetDefault("auth.federation.timeout", "10s")

	v.SetDefault("email.organization", "ProductWebsite")
	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", false)
	v.SetDefault("email.smtp.timeout", "10s")
	v.SetDefault("email.dispatch.max_in_flight", 5)
	v.SetDefault("email.dispatch.cooldown", "12s")
	v.SetDefault("email.dispatch.queue_size", 100)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cache_cleanup_schedule", "@hourly")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
