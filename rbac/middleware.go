package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pointshop/shopauth/flow"
	"github.com/pointshop/shopauth/guard"
	"github.com/pointshop/shopauth/identity"
	"github.com/pointshop/shopauth/logger"
	"github.com/pointshop/shopauth/session"
	"go.uber.org/zap"
)

const identityKey = "shopauth.identity"

// Resolver turns request evidence into one canonical identity.
type Resolver interface {
	Resolve(ctx context.Context, ev session.Evidence) (*identity.Identity, error)
}

// Middleware provides role-based access control for Echo.
type Middleware struct {
	resolver  Resolver
	sessions  *session.Manager
	loginPath string
}

func NewMiddleware(resolver Resolver, sessions *session.Manager, loginPath string) *Middleware {
	return &Middleware{
		resolver:  resolver,
		sessions:  sessions,
		loginPath: loginPath,
	}
}

// RequireRole returns an Echo middleware that admits only identities holding
// one of roles. The role is read from the stored identity, not from the
// cookie. A mismatching identity is redirected to its own area.
func (m *Middleware) RequireRole(roles ...identity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident, err := m.Authenticate(c)
			if err != nil {
				return err
			}
			if ident == nil {
				return nil
			}

			for _, r := range roles {
				if ident.Role == r {
					return next(c)
				}
			}

			logger.Log.Info("role area denied",
				zap.Uint("identity_id", ident.ID),
				zap.String("role", string(ident.Role)),
				zap.String("path", c.Request().URL.Path),
			)
			return c.Redirect(http.StatusSeeOther, ident.Role.Home())
		}
	}
}

// Authenticate resolves the request's identity and stores it on the context.
// When it returns a nil identity and nil error the response has already
// been written.
func (m *Middleware) Authenticate(c echo.Context) (*identity.Identity, error) {
	if ident := IdentityFrom(c); ident != nil {
		return ident, nil
	}

	ev, ok := guard.EvidenceFrom(c)
	if !ok {
		ev = m.sessions.Evidence(c.Request())
	}

	ident, err := m.resolver.Resolve(c.Request().Context(), ev)
	switch {
	case err == nil:
		c.Set(identityKey, ident)
		return ident, nil
	case errors.Is(err, flow.ErrConflictingEvidence):
		m.sessions.Clear(c.Response())
		return nil, c.Redirect(http.StatusSeeOther, m.loginPath)
	case errors.Is(err, flow.ErrNotAuthenticated), errors.Is(err, flow.ErrAccountNotFound):
		return nil, c.Redirect(http.StatusSeeOther, m.loginPath)
	default:
		logger.Log.Error("identity resolution failed", zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "An unexpected error occurred")
	}
}

// IdentityFrom returns the identity resolved earlier in the chain, if any.
func IdentityFrom(c echo.Context) *identity.Identity {
	ident, _ := c.Get(identityKey).(*identity.Identity)
	return ident
}
