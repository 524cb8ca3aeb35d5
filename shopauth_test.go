package shopauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pointshop/shopauth/audit"
	"github.com/pointshop/shopauth/config"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		AppEnv:               config.EnvDevelopment,
		DBType:               "sqlite",
		DSN:                  filepath.Join(t.TempDir(), "shopauth.db"),
		SessionSecret:        "service-secret",
		ProviderSecret:       "service-secret",
		BcryptCost:           4,
		LockoutMaxFailures:   2,
		LockoutDuration:      15 * time.Minute,
		LockoutFailureWindow: 15 * time.Minute,
		LockoutStore:         "memory",
		LoginPath:            "/login",
		ProtectedPaths:       []string{"/dashboard", "/customer", "/seller", "/admin"},
		TelemetryEnabled:     true,
	}
}

func TestServiceWiring(t *testing.T) {
	svc, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer svc.Close(context.Background())

	e := echo.New()
	svc.Routes(e)

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := serve(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := serve(http.MethodGet, "/dashboard", ""); rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("dashboard: expected guard redirect, got %d", rec.Code)
	}

	if rec := serve(http.MethodPost, "/register", `{"email":"a@x.com","username":"a","password":"p"}`); rec.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	serve(http.MethodPost, "/login", `{"email":"a@x.com","password":"bad"}`)
	if rec := serve(http.MethodPost, "/login", `{"email":"a@x.com","password":"bad"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected lockout on second failure, got %d", rec.Code)
	}

	events, err := svc.Repo.Events(context.Background(), "a@x.com", 10)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.Type] = true
	}
	for _, typ := range []string{audit.EventUserCreated, audit.EventLoginFailure, audit.EventLoginBlocked, audit.EventLockout} {
		if !seen[typ] {
			t.Errorf("expected audit event %s, got %v", typ, seen)
		}
	}

	rec := serve(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestServiceRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.LockoutStore = "redis"
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, cfg); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}
