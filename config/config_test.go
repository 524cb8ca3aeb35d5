package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Production() {
		t.Error("expected development mode by default")
	}
	if cfg.LockoutMaxFailures != 5 {
		t.Errorf("expected 5 max failures, got %d", cfg.LockoutMaxFailures)
	}
	if cfg.LockoutDuration != 15*time.Minute {
		t.Errorf("expected 15m lockout, got %v", cfg.LockoutDuration)
	}
	if cfg.LoginPath != "/login" {
		t.Errorf("expected /login, got %q", cfg.LoginPath)
	}
	if len(cfg.ProtectedPaths) != 6 {
		t.Errorf("expected 6 protected prefixes, got %v", cfg.ProtectedPaths)
	}
	if cfg.SessionSecret == "" || cfg.ProviderSecret != cfg.SessionSecret {
		t.Error("expected development secrets to be filled in")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOCKOUT_MAX_FAILURES", "3")
	t.Setenv("LOCKOUT_DURATION", "90s")
	t.Setenv("PROTECTED_PATHS", "/orders, /wallet")
	t.Setenv("OIDC_PROVIDERS", "google")
	t.Setenv("OIDC_GOOGLE_ISSUER", "https://accounts.google.com")
	t.Setenv("OIDC_GOOGLE_CLIENT_ID", "client")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.LockoutMaxFailures != 3 || cfg.LockoutDuration != 90*time.Second {
		t.Errorf("unexpected lockout settings: %d %v", cfg.LockoutMaxFailures, cfg.LockoutDuration)
	}
	if len(cfg.ProtectedPaths) != 2 || cfg.ProtectedPaths[1] != "/wallet" {
		t.Errorf("unexpected protected paths: %v", cfg.ProtectedPaths)
	}
	p, ok := cfg.OIDCProviders["google"]
	if !ok || p.ClientID != "client" || p.Issuer != "https://accounts.google.com" {
		t.Errorf("unexpected provider config: %+v", cfg.OIDCProviders)
	}
}

func TestProductionRequiresSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without SESSION_SECRET in production")
	}

	t.Setenv("SESSION_SECRET", "s3cret")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Production() {
		t.Error("expected production mode")
	}
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	t.Setenv("LOCKOUT_STORE", "redis")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without REDIS_ADDR")
	}
}
