package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandlerHealthy(t *testing.T) {
	m := NewManager("test")
	m.Register(NewPingChecker("database", func(ctx context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status string  `json:"status"`
		Checks []Check `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || len(body.Checks) != 1 || body.Checks[0].Status != StatusHealthy {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandlerUnhealthy(t *testing.T) {
	m := NewManager("test", WithTimeout(50*time.Millisecond))
	m.Register(NewPingChecker("database", func(ctx context.Context) error { return nil }))
	m.Register(NewPingChecker("redis", func(ctx context.Context) error { return errors.New("connection refused") }))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCheckRespectsTimeout(t *testing.T) {
	m := NewManager("test", WithTimeout(20*time.Millisecond))
	m.Register(NewPingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	report := m.Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", report.Status)
	}
}
