// Package config provides environment-based configuration for shopauth.
//
// Configuration is loaded from environment variables using Viper, with
// defaults suitable for local development.
//
// # Environment Variables
//
//   - APP_ENV: development or production. Production marks cookies Secure.
//   - PORT, LOG_LEVEL, DB_TYPE (sqlite, postgres, mysql), DSN, SKIP_AUTO_MIGRATE
//   - SESSION_SECRET: signs the userId/userRole cookie pair
//   - PROVIDER_SECRET: signs the external-provider session evidence
//   - LOCKOUT_MAX_FAILURES, LOCKOUT_DURATION, LOCKOUT_FAILURE_WINDOW
//   - LOCKOUT_STORE (memory, redis), REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, LOCKOUT_PREFIX
//   - LOGIN_PATH, PROTECTED_PATHS (comma separated prefixes)
//   - TELEMETRY_ENABLED, OTLP_ENDPOINT
//
// # OIDC Provider Configuration
//
// OIDC_PROVIDERS lists provider names; each is configured by its own keys:
//
//	OIDC_PROVIDERS=google
//	OIDC_GOOGLE_ISSUER=https://accounts.google.com
//	OIDC_GOOGLE_CLIENT_ID=your-client-id
//	OIDC_GOOGLE_CLIENT_SECRET=your-secret
//	OIDC_GOOGLE_REDIRECT_URL=https://shop.example.com/auth/oidc/google/callback
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	AppEnv          string `mapstructure:"APP_ENV"`
	DBType          string `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN             string `mapstructure:"DSN"`
	SkipAutoMigrate bool   `mapstructure:"SKIP_AUTO_MIGRATE"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	Port            int    `mapstructure:"PORT"`

	SessionSecret  string `mapstructure:"SESSION_SECRET"`
	ProviderSecret string `mapstructure:"PROVIDER_SECRET"`
	BcryptCost     int    `mapstructure:"BCRYPT_COST"`

	LockoutMaxFailures   int           `mapstructure:"LOCKOUT_MAX_FAILURES"`
	LockoutDuration      time.Duration `mapstructure:"LOCKOUT_DURATION"`
	LockoutFailureWindow time.Duration `mapstructure:"LOCKOUT_FAILURE_WINDOW"`
	LockoutStore         string        `mapstructure:"LOCKOUT_STORE"` // memory, redis
	LockoutPrefix        string        `mapstructure:"LOCKOUT_PREFIX"`
	RedisAddr            string        `mapstructure:"REDIS_ADDR"`
	RedisPassword        string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB              int           `mapstructure:"REDIS_DB"`

	LoginPath      string   `mapstructure:"LOGIN_PATH"`
	ProtectedPaths []string `mapstructure:"PROTECTED_PATHS"`

	TelemetryEnabled bool   `mapstructure:"TELEMETRY_ENABLED"`
	OTLPEndpoint     string `mapstructure:"OTLP_ENDPOINT"`

	OIDCProviders map[string]OIDCProvider `mapstructure:"-"`
}

type OIDCProvider struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Production reports whether cookies must be marked Secure.
func (c *Config) Production() bool {
	return c.AppEnv == EnvProduction
}

var defaults = map[string]any{
	"APP_ENV":                EnvDevelopment,
	"LOG_LEVEL":              "info",
	"PORT":                   8080,
	"DB_TYPE":                "sqlite",
	"DSN":                    "shopauth.db",
	"SKIP_AUTO_MIGRATE":      false,
	"SESSION_SECRET":         "",
	"PROVIDER_SECRET":        "",
	"BCRYPT_COST":            12,
	"LOCKOUT_MAX_FAILURES":   5,
	"LOCKOUT_DURATION":       "15m",
	"LOCKOUT_FAILURE_WINDOW": "15m",
	"LOCKOUT_STORE":          "memory",
	"LOCKOUT_PREFIX":         "shopauth:lockout:",
	"REDIS_ADDR":             "",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"LOGIN_PATH":             "/login",
	"PROTECTED_PATHS":        "/dashboard,/account,/settings,/customer,/seller,/admin",
	"TELEMETRY_ENABLED":      true,
	"OTLP_ENDPOINT":          "",
	"OIDC_PROVIDERS":         "",
}

// devSecret keeps local development usable without configuration.
const devSecret = "shopauth-development-secret"

func LoadConfig() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// The default decode hook splits on "," but keeps surrounding spaces.
	cfg.ProtectedPaths = splitList(strings.Join(cfg.ProtectedPaths, ","))

	cfg.OIDCProviders = make(map[string]OIDCProvider)
	for _, name := range splitList(v.GetString("OIDC_PROVIDERS")) {
		prefix := "OIDC_" + strings.ToUpper(name) + "_"
		cfg.OIDCProviders[strings.ToLower(name)] = OIDCProvider{
			Issuer:       v.GetString(prefix + "ISSUER"),
			ClientID:     v.GetString(prefix + "CLIENT_ID"),
			ClientSecret: v.GetString(prefix + "CLIENT_SECRET"),
			RedirectURL:  v.GetString(prefix + "REDIRECT_URL"),
		}
	}

	if cfg.SessionSecret == "" && !cfg.Production() {
		cfg.SessionSecret = devSecret
	}
	if cfg.ProviderSecret == "" {
		cfg.ProviderSecret = cfg.SessionSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.AppEnv != EnvDevelopment && c.AppEnv != EnvProduction {
		errs = append(errs, fmt.Errorf("config: APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.AppEnv))
	}
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("config: SESSION_SECRET is required in production"))
	}
	if c.LockoutMaxFailures <= 0 {
		errs = append(errs, errors.New("config: LOCKOUT_MAX_FAILURES must be positive"))
	}
	if c.LockoutDuration <= 0 {
		errs = append(errs, errors.New("config: LOCKOUT_DURATION must be positive"))
	}
	switch c.LockoutStore {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("config: REDIS_ADDR is required for the redis lockout store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown LOCKOUT_STORE %q", c.LockoutStore))
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("config: LOGIN_PATH must be absolute, got %q", c.LoginPath))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
