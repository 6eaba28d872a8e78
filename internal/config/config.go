// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session and client store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// TLSCertFile and TLSKeyFile enable TLS on the gRPC listener when both are set.
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
	// EncryptionKey is the master key (hex, base64, or raw, at least 32 bytes). Required; Load fails without it.
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`

	// DatabaseURL is the Postgres DSN; required when SESSION_STORE or CLIENT_STORE is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL (redis://host:6379/0); required when SESSION_STORE is redis.
	RedisURL string `mapstructure:"REDIS_URL"`
	// SessionStore selects the authoritative session table: memory, postgres, or redis.
	// memory does not survive restarts, so sessions remembered by clients fail validation after a restart.
	SessionStore string `mapstructure:"SESSION_STORE"`
	// MigrateOnStart applies the embedded migrations at startup when a Postgres store is selected.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`
	// ClientStore selects where per-client state (session mirror, user snapshot, lockout) is kept: memory or postgres.
	ClientStore string `mapstructure:"CLIENT_STORE"`

	// SessionTimeoutRaw is the sliding session lifetime (e.g. "30m").
	SessionTimeoutRaw string `mapstructure:"SESSION_TIMEOUT"`
	// SessionSweepIntervalRaw is how often expired sessions are swept (e.g. "30m").
	SessionSweepIntervalRaw string `mapstructure:"SESSION_SWEEP_INTERVAL"`
	// SessionRefreshIntervalRaw is how often an authenticated client re-validates its session (e.g. "5m").
	SessionRefreshIntervalRaw string `mapstructure:"SESSION_REFRESH_INTERVAL"`

	// AccessTokenTTLRaw is the lifetime of issued access tokens (e.g. "30m").
	AccessTokenTTLRaw string `mapstructure:"ACCESS_TOKEN_TTL"`

	// LoginRateLimit is the number of login attempts allowed per identifier per minute.
	LoginRateLimit int `mapstructure:"LOGIN_RATE_LIMIT"`
	// LockoutMaxAttempts is the number of consecutive failures that locks the client.
	LockoutMaxAttempts int `mapstructure:"LOCKOUT_MAX_ATTEMPTS"`
	// LockoutDurationRaw is how long a lockout lasts (e.g. "15m").
	LockoutDurationRaw string `mapstructure:"LOCKOUT_DURATION"`
	// AuditCapacity is the number of audit entries kept in memory.
	AuditCapacity int `mapstructure:"AUDIT_CAPACITY"`
	// BcryptCost is the bcrypt cost factor (4–31) for demo directory hashes; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// IdentityProviderURL is the base URL of the external identity provider. Empty disables it.
	IdentityProviderURL string `mapstructure:"IDENTITY_PROVIDER_URL"`
	// IdentityProviderAPIKey is sent as the apikey header to the identity provider.
	IdentityProviderAPIKey string `mapstructure:"IDENTITY_PROVIDER_API_KEY"`
	// DemoAuthEnabled enables the in-memory demo directory and trial accounts.
	DemoAuthEnabled bool `mapstructure:"DEMO_AUTH_ENABLED"`
	// DemoMFACode is the MFA code accepted for demo users without a TOTP secret.
	DemoMFACode string `mapstructure:"DEMO_MFA_CODE"`

	// MonitorRequestLimit is the outbound request budget per minute before suspicious_activity is reported.
	MonitorRequestLimit int `mapstructure:"MONITOR_REQUEST_LIMIT"`
	// DevToolsPollIntervalRaw is how often reported viewports are checked for developer tools (e.g. "1s").
	DevToolsPollIntervalRaw string `mapstructure:"DEVTOOLS_POLL_INTERVAL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid;
// a missing ENCRYPTION_KEY is always an error.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("TLS_CERT_FILE", "")
	v.SetDefault("TLS_KEY_FILE", "")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("ACCESS_TOKEN_TTL", "30m")
	v.SetDefault("DEVTOOLS_POLL_INTERVAL", "1s")
	v.SetDefault("ENCRYPTION_KEY", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SESSION_STORE", StoreMemory)
	v.SetDefault("CLIENT_STORE", StoreMemory)
	v.SetDefault("SESSION_TIMEOUT", "30m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "30m")
	v.SetDefault("SESSION_REFRESH_INTERVAL", "5m")
	v.SetDefault("LOGIN_RATE_LIMIT", 5)
	v.SetDefault("LOCKOUT_MAX_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("AUDIT_CAPACITY", 1000)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("IDENTITY_PROVIDER_URL", "")
	v.SetDefault("IDENTITY_PROVIDER_API_KEY", "")
	v.SetDefault("DEMO_AUTH_ENABLED", true)
	v.SetDefault("DEMO_MFA_CODE", "123456")
	v.SetDefault("MONITOR_REQUEST_LIMIT", 100)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "intellx-security")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if strings.TrimSpace(c.EncryptionKey) == "" {
		return errors.New("config: ENCRYPTION_KEY must be set")
	}

	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	switch c.SessionStore {
	case "":
		c.SessionStore = StoreMemory
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when SESSION_STORE=postgres")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when SESSION_STORE=redis")
		}
	default:
		return errors.New("config: SESSION_STORE must be memory, postgres, or redis")
	}

	c.ClientStore = strings.ToLower(strings.TrimSpace(c.ClientStore))
	switch c.ClientStore {
	case "":
		c.ClientStore = StoreMemory
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when CLIENT_STORE=postgres")
		}
	default:
		return errors.New("config: CLIENT_STORE must be memory or postgres")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("config: TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.DemoAuthEnabled && c.Env == "production" && c.IdentityProviderURL == "" {
		return errors.New("config: DEMO_AUTH_ENABLED requires IDENTITY_PROVIDER_URL when APP_ENV=production")
	}
	if !c.DemoAuthEnabled && c.IdentityProviderURL == "" {
		return errors.New("config: IDENTITY_PROVIDER_URL must be set when DEMO_AUTH_ENABLED=false")
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.LoginRateLimit <= 0 {
		c.LoginRateLimit = 5
	}
	if c.LockoutMaxAttempts <= 0 {
		c.LockoutMaxAttempts = 5
	}
	if c.AuditCapacity <= 0 {
		c.AuditCapacity = 1000
	}
	if c.MonitorRequestLimit <= 0 {
		c.MonitorRequestLimit = 100
	}
	if c.DemoMFACode == "" {
		c.DemoMFACode = "123456"
	}
	return nil
}

// SessionTimeout parses SessionTimeoutRaw. Returns 30m if unset or invalid.
func (c *Config) SessionTimeout() time.Duration {
	return parseDuration(c.SessionTimeoutRaw, 30*time.Minute)
}

// SessionSweepInterval parses SessionSweepIntervalRaw. Returns the session timeout if unset or invalid.
func (c *Config) SessionSweepInterval() time.Duration {
	return parseDuration(c.SessionSweepIntervalRaw, c.SessionTimeout())
}

// SessionRefreshInterval parses SessionRefreshIntervalRaw. Returns 5m if unset or invalid.
func (c *Config) SessionRefreshInterval() time.Duration {
	return parseDuration(c.SessionRefreshIntervalRaw, 5*time.Minute)
}

// AccessTokenTTL parses AccessTokenTTLRaw. Returns the session timeout if unset or invalid.
func (c *Config) AccessTokenTTL() time.Duration {
	return parseDuration(c.AccessTokenTTLRaw, c.SessionTimeout())
}

// DevToolsPollInterval parses DevToolsPollIntervalRaw. Returns 1s if unset or invalid.
func (c *Config) DevToolsPollInterval() time.Duration {
	return parseDuration(c.DevToolsPollIntervalRaw, time.Second)
}

// TLSEnabled reports whether the gRPC listener serves TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// LockoutDuration parses LockoutDurationRaw. Returns 15m if unset or invalid.
func (c *Config) LockoutDuration() time.Duration {
	return parseDuration(c.LockoutDurationRaw, 15*time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
