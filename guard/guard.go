// Package guard gates protected paths behind the presence of valid session
// evidence.
//
// The guard makes no role decision. It only asks whether the request carries
// a verified first-party token pair or verified external-provider evidence,
// then either lets the request through or redirects it to the login surface.
// Authenticated responses on protected paths are marked non-cacheable.
package guard

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pointshop/shopauth/logger"
	"github.com/pointshop/shopauth/session"
	"go.uber.org/zap"
)

// Decision is the outcome of the access check for one request.
type Decision int

const (
	// Allow passes the request through untouched.
	Allow Decision = iota
	// AllowNoStore passes the request through and marks the response non-cacheable.
	AllowNoStore
	// Redirect sends the client to the login surface.
	Redirect
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case AllowNoStore:
		return "allow-no-store"
	case Redirect:
		return "redirect"
	}
	return "unknown"
}

// NoStore is the Cache-Control value written on authenticated protected responses.
const NoStore = "no-store, must-revalidate"

const evidenceKey = "shopauth.evidence"

type Guard struct {
	loginPath string
	protected []string
	sessions  *session.Manager
}

func New(loginPath string, protected []string, sessions *session.Manager) *Guard {
	prefixes := make([]string, 0, len(protected))
	for _, p := range protected {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Guard{
		loginPath: strings.TrimRight(loginPath, "/"),
		protected: prefixes,
		sessions:  sessions,
	}
}

func (g *Guard) LoginPath() string { return g.loginPath }

func (g *Guard) isLogin(path string) bool {
	return path == g.loginPath || strings.HasPrefix(path, g.loginPath+"/")
}

// Protected reports whether path falls under a protected prefix. Prefixes
// match whole segments, and the login surface is never protected.
func (g *Guard) Protected(path string) bool {
	if g.isLogin(path) {
		return false
	}
	for _, p := range g.protected {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Decide applies the access rule to a path and the presence of evidence.
func (g *Guard) Decide(path string, authenticated bool) Decision {
	if !g.Protected(path) {
		return Allow
	}
	if !authenticated {
		return Redirect
	}
	return AllowNoStore
}

// Middleware returns an Echo middleware enforcing Decide. The verified
// evidence is stored on the context for later handlers.
func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ev := g.sessions.Evidence(c.Request())
			c.Set(evidenceKey, ev)

			path := c.Request().URL.Path
			switch g.Decide(path, ev.Authenticated()) {
			case Redirect:
				logger.Log.Debug("guard redirect", zap.String("path", path))
				return c.Redirect(http.StatusTemporaryRedirect, g.loginPath)
			case AllowNoStore:
				c.Response().Header().Set("Cache-Control", NoStore)
			}
			return next(c)
		}
	}
}

// EvidenceFrom returns the evidence stored by the guard middleware. The
// boolean is false when the middleware did not run for this request.
func EvidenceFrom(c echo.Context) (session.Evidence, bool) {
	ev, ok := c.Get(evidenceKey).(session.Evidence)
	return ev, ok
}
