package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pointshop/shopauth/flow"
	"github.com/pointshop/shopauth/guard"
	"github.com/pointshop/shopauth/identity"
	"github.com/pointshop/shopauth/logger"
	"github.com/pointshop/shopauth/rbac"
	"github.com/pointshop/shopauth/session"
	"go.uber.org/zap"
)

const (
	stateCookie         = "oidc_state"
	completeProfilePath = "/complete-profile"
	afterLoginPath      = "/after-login"
)

type Handler struct {
	login        *flow.LoginManager
	registration *flow.RegistrationManager
	profile      *flow.ProfileReconciler
	oidc         *flow.OIDCManager
	sessions     *session.Manager
	loginPath    string
}

// NewHandler wires the flow managers to HTTP. om may be nil when no external
// provider is configured.
func NewHandler(login *flow.LoginManager, reg *flow.RegistrationManager, profile *flow.ProfileReconciler, sm *session.Manager, om *flow.OIDCManager) *Handler {
	return &Handler{
		login:        login,
		registration: reg,
		profile:      profile,
		oidc:         om,
		sessions:     sm,
		loginPath:    "/login",
	}
}

// RegisterRoutes installs the access guard and every authentication route on e.
func (h *Handler) RegisterRoutes(e *echo.Echo, g *guard.Guard) {
	h.loginPath = g.LoginPath()
	e.Use(g.Middleware())

	e.POST(h.loginPath, h.HandleLogin)
	e.POST("/register", h.HandleRegistration)
	e.GET("/logout", h.HandleLogout)
	e.POST("/logout", h.HandleLogout)
	e.GET("/me", h.HandleMe)
	e.GET(afterLoginPath, h.HandleAfterLogin)
	e.GET(completeProfilePath, h.HandleProfileRequirements)
	e.POST("/api/auth/complete-profile", h.HandleCompleteProfile)

	// OIDC routes
	e.GET("/auth/oidc/:provider", h.HandleOIDCAuth)
	e.GET("/auth/oidc/:provider/callback", h.HandleOIDCCallback)

	// Role areas
	roles := rbac.NewMiddleware(h.login, h.sessions, h.loginPath)
	for _, role := range []identity.Role{identity.RoleAdmin, identity.RoleSeller, identity.RoleCustomer} {
		e.GET(role.Home(), h.HandleArea(role), roles.RequireRole(role))
	}
	e.GET("/dashboard", func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, afterLoginPath)
	})
	e.GET("/account", h.HandleMe)
}

type loginBody struct {
	Email    string  `json:"email"`
	Password *string `json:"password"`
}

func (h *Handler) HandleLogin(c echo.Context) error {
	var body loginBody
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	cookies := h.sessions.Bind(c.Response(), c.Request())
	if body.Password == nil && !h.externallyAuthenticated(c, body.Email) {
		return h.writeResult(c, nil, flow.ErrMissingRequiredField)
	}

	user, err := h.login.Login(c.Request().Context(), cookies, flow.LoginRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	return h.writeResult(c, user, err)
}

type registrationBody struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Password *string `json:"password"`
	Whatsapp string  `json:"whatsapp"`
}

func (h *Handler) HandleRegistration(c echo.Context) error {
	var body registrationBody
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	// Without provider evidence an omitted password must not reach the
	// trusted login path for an existing account. An empty password is
	// still synthesized for new accounts.
	if body.Password == nil && !h.externallyAuthenticated(c, body.Email) {
		empty := ""
		body.Password = &empty
	}

	cookies := h.sessions.Bind(c.Response(), c.Request())
	user, err := h.registration.Register(c.Request().Context(), cookies, flow.RegistrationRequest{
		Email:    body.Email,
		Username: body.Username,
		Password: body.Password,
		Whatsapp: body.Whatsapp,
	})
	return h.writeResult(c, user, err)
}

func (h *Handler) HandleLogout(c echo.Context) error {
	cookies := h.sessions.Bind(c.Response(), c.Request())

	var subject *session.Subject
	if s, ok := cookies.Current(); ok {
		subject = &s
	}
	h.login.Logout(c.Request().Context(), cookies, subject)

	return c.Redirect(http.StatusSeeOther, h.loginPath)
}

func (h *Handler) HandleMe(c echo.Context) error {
	ident := h.login.CurrentUser(c.Request().Context(), h.sessions.Bind(c.Response(), c.Request()))
	if ident == nil {
		return h.writeResult(c, nil, flow.ErrNotAuthenticated)
	}
	return h.writeResult(c, ident.Public(), nil)
}

// HandleAfterLogin routes a freshly authenticated client to its role area.
func (h *Handler) HandleAfterLogin(c echo.Context) error {
	ev, ok := guard.EvidenceFrom(c)
	if !ok {
		ev = h.sessions.Evidence(c.Request())
	}

	ident, err := h.login.Resolve(c.Request().Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, flow.ErrConflictingEvidence):
		h.sessions.Clear(c.Response())
		return c.Redirect(http.StatusSeeOther, h.loginPath)
	case errors.Is(err, flow.ErrNotAuthenticated), errors.Is(err, flow.ErrAccountNotFound):
		return c.Redirect(http.StatusSeeOther, h.loginPath)
	default:
		return h.writeResult(c, nil, err)
	}

	if ev.External != nil && !ev.External.ProfileComplete && !ident.HasContact() {
		return c.Redirect(http.StatusSeeOther, completeProfilePath)
	}
	return c.Redirect(http.StatusSeeOther, ident.Role.Home())
}

func (h *Handler) HandleProfileRequirements(c echo.Context) error {
	ext, ok := h.sessions.External(c.Request())
	if !ok {
		return c.Redirect(http.StatusSeeOther, h.loginPath)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"email":    ext.Email,
		"complete": ext.ProfileComplete,
		"required": []string{"whatsapp"},
	})
}

func (h *Handler) HandleCompleteProfile(c echo.Context) error {
	ext, ok := h.sessions.External(c.Request())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]any{"success": false, "message": "Not authenticated"})
	}

	var body struct {
		Whatsapp string `json:"whatsapp"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}
	if strings.TrimSpace(body.Whatsapp) == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"success": false, "message": "WhatsApp number required"})
	}

	cookies := h.sessions.Bind(c.Response(), c.Request())
	if _, err := h.profile.Complete(c.Request().Context(), cookies, ext, body.Whatsapp); err != nil {
		res := flow.ResultFrom(nil, err)
		return c.JSON(statusFor(res.Outcome), map[string]any{"success": false, "message": res.Message})
	}

	if err := cookies.WriteExternal(session.External{Email: ext.Email, ProfileComplete: true}); err != nil {
		logger.Log.Error("refreshing provider session failed", zap.Error(err))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "revalidateSession": true})
}

func (h *Handler) HandleArea(role identity.Role) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident := rbac.IdentityFrom(c)
		return c.JSON(http.StatusOK, map[string]any{
			"area": string(role),
			"user": ident.Public(),
		})
	}
}

func (h *Handler) HandleOIDCAuth(c echo.Context) error {
	if h.oidc == nil {
		return h.Error(c, http.StatusNotFound, "Unknown provider", nil)
	}
	provider := c.Param("provider")
	state := uuid.NewString()

	url, err := h.oidc.GetAuthURL(provider, state)
	if err != nil {
		return h.Error(c, http.StatusNotFound, "Unknown provider", err)
	}

	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/oidc",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.sessions.Secure(),
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, url)
}

func (h *Handler) HandleOIDCCallback(c echo.Context) error {
	if h.oidc == nil {
		return h.Error(c, http.StatusNotFound, "Unknown provider", nil)
	}
	provider := c.Param("provider")

	state, err := c.Cookie(stateCookie)
	if err != nil || state.Value == "" || state.Value != c.QueryParam("state") {
		return h.Error(c, http.StatusBadRequest, "Invalid OIDC state", err)
	}
	c.SetCookie(&http.Cookie{Name: stateCookie, Path: "/auth/oidc", MaxAge: -1, HttpOnly: true, Secure: h.sessions.Secure()})

	claims, err := h.oidc.Exchange(c.Request().Context(), provider, c.QueryParam("code"))
	if err != nil {
		return h.Error(c, http.StatusUnauthorized, "OIDC verification failed", err)
	}

	cookies := h.sessions.Bind(c.Response(), c.Request())
	user, ext, err := h.oidc.SignIn(c.Request().Context(), cookies, claims)
	if err != nil {
		return h.writeResult(c, user, err)
	}
	if err := cookies.WriteExternal(*ext); err != nil {
		return h.writeResult(c, nil, err)
	}

	if !ext.ProfileComplete {
		return c.Redirect(http.StatusSeeOther, completeProfilePath)
	}
	return c.Redirect(http.StatusSeeOther, afterLoginPath)
}

// externallyAuthenticated reports whether the request carries provider
// evidence for email.
func (h *Handler) externallyAuthenticated(c echo.Context, email string) bool {
	ext, ok := h.sessions.External(c.Request())
	return ok && identity.NormalizeEmail(ext.Email) == identity.NormalizeEmail(email)
}

func statusFor(o flow.Outcome) int {
	switch o {
	case flow.OutcomeSuccess:
		return http.StatusOK
	case flow.OutcomeLockedOut:
		return http.StatusTooManyRequests
	case flow.OutcomeAccountNotFound:
		return http.StatusNotFound
	case flow.OutcomeInvalidAccount:
		return http.StatusForbidden
	case flow.OutcomeInvalidCredential, flow.OutcomeNotAuthenticated:
		return http.StatusUnauthorized
	case flow.OutcomeMissingRequiredField:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeResult(c echo.Context, user *identity.Public, err error) error {
	res := flow.ResultFrom(user, err)
	if res.Outcome == flow.OutcomeStorageError {
		logger.Log.Error("request failed", zap.String("path", c.Request().URL.Path), zap.Error(err))
	}
	if res.Outcome == flow.OutcomeLockedOut {
		c.Response().Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
	return c.JSON(statusFor(res.Outcome), res)
}

// Error writes a generic failure. err is logged, never returned to the client.
func (h *Handler) Error(c echo.Context, code int, message string, err error) error {
	if err != nil {
		logger.Log.Warn(message, zap.String("path", c.Request().URL.Path), zap.Error(err))
	}
	return c.JSON(code, map[string]any{
		"success": false,
		"message": message,
		"code":    code,
	})
}
