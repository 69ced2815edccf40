// Package config builds the process-wide configuration once at startup.
//
// Values come from environment variables (viper AutomaticEnv), optionally
// overlaid on a file named by CONFIG_FILE. Load validates the result and
// fails fast on anything that would make the server insecure, so the rest of
// the program can treat Config as a trusted, immutable value.
//
// SECRETS:
// ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET sign the two token families.
// They must differ. In production both are required and must be at least 32
// bytes; in development missing secrets are replaced with random ones that
// live only as long as the process (every restart logs everyone out).
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// MinSecretLength is the minimum secret size accepted in production.
	MinSecretLength = 32
)

// insecureSecrets are placeholder values that show up in sample env files.
var insecureSecrets = map[string]struct{}{
	"secret":             {},
	"changeme":           {},
	"change-me":          {},
	"jwt-secret":         {},
	"your-secret-key":    {},
	"supersecret":        {},
	"dev-access-secret":  {},
	"dev-refresh-secret": {},
}

type Config struct {
	Port        int
	Environment string
	LogLevel    slog.Level

	Database  DatabaseConfig
	Tokens    TokenConfig
	Reset     ResetConfig
	Argon2    Argon2Config
	SMTP      SMTPConfig
	RateLimit RateLimitConfig

	// HashWorkers bounds concurrent password hashing operations.
	HashWorkers int

	// Warnings collects non-fatal findings for main to log once a logger exists.
	Warnings []string
}

type DatabaseConfig struct {
	Driver string // "sqlite" or "postgres"
	Path   string // sqlite file path or ":memory:"
	URL    string // postgres DSN
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

type ResetConfig struct {
	TTL             time.Duration
	URLBase         string
	CleanupInterval time.Duration
}

type Argon2Config struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

type RateLimitConfig struct {
	// Auth is a ulule/limiter formatted rate ("20-M") applied per client IP
	// to login and password-reset endpoints. Empty disables limiting.
	Auth string
	// RedisURL switches the limiter store from memory to redis.
	RedisURL string
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable it only behind a reverse proxy that overwrites those headers;
	// otherwise clients can pick their own rate-limit key.
	TrustProxy bool
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Load reads configuration from the environment (and CONFIG_FILE, if set),
// fills development-only fallbacks, and validates the result.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if p := os.Getenv("CONFIG_FILE"); p != "" {
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", p, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("ENVIRONMENT", EnvDevelopment)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "data/tripcms.db")
	v.SetDefault("ACCESS_TOKEN_TTL", 15*time.Minute)
	v.SetDefault("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	v.SetDefault("TOKEN_ISSUER", "tripcms")
	v.SetDefault("RESET_TOKEN_TTL", time.Hour)
	v.SetDefault("RESET_URL_BASE", "http://localhost:8080/reset-password")
	v.SetDefault("RESET_CLEANUP_INTERVAL", time.Hour)
	v.SetDefault("ARGON2_MEMORY", 64*1024)
	v.SetDefault("ARGON2_ITERATIONS", 3)
	v.SetDefault("ARGON2_PARALLELISM", 2)
	v.SetDefault("HASH_WORKERS", runtime.GOMAXPROCS(0))
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("AUTH_RATE_LIMIT", "20-M")
	v.SetDefault("TRUST_PROXY_HEADERS", false)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:        v.GetInt("PORT"),
		Environment: strings.ToLower(strings.TrimSpace(v.GetString("ENVIRONMENT"))),
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("DB_DRIVER")),
			Path:   v.GetString("DB_PATH"),
			URL:    v.GetString("DATABASE_URL"),
		},
		Tokens: TokenConfig{
			AccessSecret:  v.GetString("ACCESS_TOKEN_SECRET"),
			RefreshSecret: v.GetString("REFRESH_TOKEN_SECRET"),
			AccessTTL:     v.GetDuration("ACCESS_TOKEN_TTL"),
			RefreshTTL:    v.GetDuration("REFRESH_TOKEN_TTL"),
			Issuer:        v.GetString("TOKEN_ISSUER"),
		},
		Reset: ResetConfig{
			TTL:             v.GetDuration("RESET_TOKEN_TTL"),
			URLBase:         v.GetString("RESET_URL_BASE"),
			CleanupInterval: v.GetDuration("RESET_CLEANUP_INTERVAL"),
		},
		Argon2: Argon2Config{
			Memory:      v.GetUint32("ARGON2_MEMORY"),
			Iterations:  v.GetUint32("ARGON2_ITERATIONS"),
			Parallelism: uint8(v.GetUint("ARGON2_PARALLELISM")),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		RateLimit: RateLimitConfig{
			Auth:       v.GetString("AUTH_RATE_LIMIT"),
			RedisURL:   v.GetString("REDIS_URL"),
			TrustProxy: v.GetBool("TRUST_PROXY_HEADERS"),
		},
		HashWorkers: v.GetInt("HASH_WORKERS"),
	}

	level, err := parseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if !cfg.IsProduction() {
		if err := cfg.fillDevelopmentSecrets(); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fillDevelopmentSecrets generates random secrets for any that are unset.
func (c *Config) fillDevelopmentSecrets() error {
	if c.Tokens.AccessSecret == "" {
		s, err := randomSecret()
		if err != nil {
			return err
		}
		c.Tokens.AccessSecret = s
		c.Warnings = append(c.Warnings, "ACCESS_TOKEN_SECRET not set; using an ephemeral random secret")
	}
	if c.Tokens.RefreshSecret == "" {
		s, err := randomSecret()
		if err != nil {
			return err
		}
		c.Tokens.RefreshSecret = s
		c.Warnings = append(c.Warnings, "REFRESH_TOKEN_SECRET not set; using an ephemeral random secret")
	}
	return nil
}

// Validate checks invariants that must hold before the server starts.
func (c Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}

	errs = append(errs, c.validateSecrets()...)

	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL"))
	}
	if c.Reset.TTL <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_TTL must be positive"))
	}
	if c.Reset.CleanupInterval <= 0 {
		errs = append(errs, errors.New("RESET_CLEANUP_INTERVAL must be positive"))
	}
	if c.Reset.URLBase == "" {
		errs = append(errs, errors.New("RESET_URL_BASE is required"))
	} else if c.IsProduction() && !strings.HasPrefix(c.Reset.URLBase, "https://") {
		errs = append(errs, errors.New("RESET_URL_BASE must use https in production"))
	}
	if c.Argon2.Memory < 8*uint32(c.Argon2.Parallelism) || c.Argon2.Iterations == 0 || c.Argon2.Parallelism == 0 {
		errs = append(errs, errors.New("invalid ARGON2_* parameters"))
	}
	if c.HashWorkers <= 0 {
		errs = append(errs, errors.New("HASH_WORKERS must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) validateSecrets() []error {
	var errs []error
	access, refresh := c.Tokens.AccessSecret, c.Tokens.RefreshSecret

	if access == "" {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET is required"))
	}
	if refresh == "" {
		errs = append(errs, errors.New("REFRESH_TOKEN_SECRET is required"))
	}
	if access != "" && access == refresh {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ"))
	}

	if c.IsProduction() {
		for name, s := range map[string]string{"ACCESS_TOKEN_SECRET": access, "REFRESH_TOKEN_SECRET": refresh} {
			if s == "" {
				continue
			}
			if len(s) < MinSecretLength {
				errs = append(errs, fmt.Errorf("%s must be at least %d bytes in production", name, MinSecretLength))
			}
			if _, bad := insecureSecrets[strings.ToLower(s)]; bad {
				errs = append(errs, fmt.Errorf("%s uses a known placeholder value", name))
			}
		}
	}
	return errs
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func randomSecret() (string, error) {
	b := make([]byte, MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("config: generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
