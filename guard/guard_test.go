package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pointshop/shopauth/identity"
	"github.com/pointshop/shopauth/session"
)

var protectedPaths = []string{"/dashboard", "/account", "/settings/", "/customer", "/seller", "/admin"}

func TestDecide(t *testing.T) {
	g := New("/login", protectedPaths, nil)

	tests := []struct {
		path string
		auth bool
		want Decision
	}{
		{"/dashboard", false, Redirect},
		{"/dashboard/orders", false, Redirect},
		{"/settings", false, Redirect},
		{"/admin", true, AllowNoStore},
		{"/admins", false, Allow},
		{"/", false, Allow},
		{"/products/1", true, Allow},
		{"/login", false, Allow},
		{"/login", true, Allow},
		{"/login/reset", false, Allow},
	}

	for _, tt := range tests {
		if got := g.Decide(tt.path, tt.auth); got != tt.want {
			t.Errorf("Decide(%q, %v) = %s, want %s", tt.path, tt.auth, got, tt.want)
		}
	}
}

func TestLoginSurfaceNeverProtected(t *testing.T) {
	g := New("/admin/login", []string{"/admin"}, nil)
	if g.Protected("/admin/login") {
		t.Error("login surface must be exempt even under a protected prefix")
	}
	if !g.Protected("/admin/users") {
		t.Error("expected /admin/users protected")
	}
}

func newTestServer(sessions *session.Manager) *echo.Echo {
	e := echo.New()
	g := New("/login", protectedPaths, sessions)
	e.Use(g.Middleware())

	ok := func(c echo.Context) error {
		ev, found := EvidenceFrom(c)
		if !found {
			return c.String(http.StatusInternalServerError, "no evidence")
		}
		if ev.Authenticated() {
			return c.String(http.StatusOK, "authenticated")
		}
		return c.String(http.StatusOK, "anonymous")
	}
	e.GET("/dashboard", ok)
	e.GET("/login", ok)
	e.GET("/", ok)
	return e
}

func TestMiddleware(t *testing.T) {
	sessions := session.NewManager(session.Config{Secret: []byte("guard-secret")})
	e := newTestServer(sessions)

	issued := httptest.NewRecorder()
	sessions.Issue(issued, session.Subject{ID: 1, Role: identity.RoleCustomer})
	withSession := func(req *http.Request) *http.Request {
		for _, c := range issued.Result().Cookies() {
			req.AddCookie(c)
		}
		return req
	}

	external := httptest.NewRecorder()
	sessions.WriteExternal(external, session.External{Email: "a@x.com"})

	t.Run("protected without evidence redirects", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/login" {
			t.Errorf("expected redirect to /login, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("login surface never redirects", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("forged cookies redirect", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: session.UserIDCookie, Value: "1"})
		req.AddCookie(&http.Cookie{Name: session.UserRoleCookie, Value: "admin"})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusTemporaryRedirect {
			t.Errorf("expected redirect, got %d", rec.Code)
		}
	})

	t.Run("first-party session passes with no-store", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/dashboard", nil)))
		if rec.Code != http.StatusOK || rec.Body.String() != "authenticated" {
			t.Fatalf("expected 200 authenticated, got %d %q", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Cache-Control") != NoStore {
			t.Errorf("expected no-store, got %q", rec.Header().Get("Cache-Control"))
		}
	})

	t.Run("external evidence passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		for _, c := range external.Result().Cookies() {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("public path untouched", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/", nil)))
		if rec.Code != http.StatusOK || rec.Header().Get("Cache-Control") != "" {
			t.Errorf("expected plain 200, got %d %q", rec.Code, rec.Header().Get("Cache-Control"))
		}
	})
}
