// Package session issues and reads the cookies that carry authentication
// between requests.
//
// The first-party session is a token pair: userId and userRole, each a
// signed value whose subject is the stringified account id. Both halves
// share an id, are written and cleared together, and are rejected unless
// they agree.
//
//	sessions := session.NewManager(session.Config{Secret: secret, Secure: prod})
//
//	// after a successful login
//	err := sessions.Issue(w, session.Subject{ID: 1, Role: identity.RoleCustomer})
//
//	// on every request
//	subject, ok := sessions.Current(r)
//
// The external-provider session is separate evidence written after an OIDC
// handshake. It records only the authenticated email and whether the
// account's contact attribute is present.
package session

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	UserIDCookie   = "userId"
	UserRoleCookie = "userRole"
	// LegacyTokenCookie is cleared on logout for older clients.
	LegacyTokenCookie = "token"

	ProviderCookie       = "provider.session-token"
	SecureProviderCookie = "__Secure-provider.session-token"

	// DefaultMaxAge is the fixed first-party session lifetime.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// Config holds the signing keys and cookie attributes.
type Config struct {
	Secret         []byte
	ProviderSecret []byte
	// Secure marks cookies Secure. Set outside local development.
	Secure         bool
	MaxAge         time.Duration
	ProviderMaxAge time.Duration
}

// Manager handles session cookie lifecycle operations.
type Manager struct {
	pair     signer
	provider signer
	secure   bool
	maxAge   time.Duration
	provAge  time.Duration
}

// NewManager creates a new session Manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.ProviderMaxAge == 0 {
		cfg.ProviderMaxAge = cfg.MaxAge
	}
	if len(cfg.ProviderSecret) == 0 {
		cfg.ProviderSecret = cfg.Secret
	}
	return &Manager{
		pair:     signer{key: cfg.Secret, audience: "shopauth/session", now: time.Now},
		provider: signer{key: cfg.ProviderSecret, audience: "shopauth/provider", now: time.Now},
		secure:   cfg.Secure,
		maxAge:   cfg.MaxAge,
		provAge:  cfg.ProviderMaxAge,
	}
}

// SetClock replaces the time source used for signing and validation.
func (m *Manager) SetClock(now func() time.Time) {
	m.pair.now = now
	m.provider.now = now
}

// Secure reports whether cookies are written with the Secure attribute.
func (m *Manager) Secure() bool { return m.secure }

func (m *Manager) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Issue writes the token pair for s.
func (m *Manager) Issue(w http.ResponseWriter, s Subject) error {
	sub := strconv.FormatUint(uint64(s.ID), 10)
	pairID := uuid.NewString()

	uid, err := m.pair.sign(pairClaims{
		Kind:             kindUserID,
		RegisteredClaims: m.pair.registered(sub, pairID, m.maxAge),
	})
	if err != nil {
		return err
	}
	role, err := m.pair.sign(pairClaims{
		Kind:             kindRole,
		Role:             s.Role,
		RegisteredClaims: m.pair.registered(sub, pairID, m.maxAge),
	})
	if err != nil {
		return err
	}

	http.SetCookie(w, m.cookie(UserIDCookie, uid, m.maxAge))
	http.SetCookie(w, m.cookie(UserRoleCookie, role, m.maxAge))
	return nil
}

// Clear expires the token pair, the legacy token and the external-provider
// evidence, whichever path created them.
func (m *Manager) Clear(w http.ResponseWriter) {
	for _, name := range []string{UserIDCookie, UserRoleCookie, LegacyTokenCookie, ProviderCookie, SecureProviderCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   m.secure || name == SecureProviderCookie,
		})
	}
}

// Current returns the subject of the request's token pair. A missing,
// tampered, expired or mismatched pair yields false.
func (m *Manager) Current(r *http.Request) (Subject, bool) {
	uidCookie, err := r.Cookie(UserIDCookie)
	if err != nil {
		return Subject{}, false
	}
	roleCookie, err := r.Cookie(UserRoleCookie)
	if err != nil {
		return Subject{}, false
	}

	var uid, role pairClaims
	if err := m.pair.parse(uidCookie.Value, &uid); err != nil || uid.Kind != kindUserID {
		return Subject{}, false
	}
	if err := m.pair.parse(roleCookie.Value, &role); err != nil || role.Kind != kindRole {
		return Subject{}, false
	}
	if uid.Subject != role.Subject || uid.ID != role.ID || !role.Role.Valid() {
		return Subject{}, false
	}

	id, err := parseSubjectID(uid.Subject)
	if err != nil {
		return Subject{}, false
	}
	return Subject{ID: id, Role: role.Role}, true
}

func (m *Manager) providerCookieName() string {
	if m.secure {
		return SecureProviderCookie
	}
	return ProviderCookie
}

// WriteExternal writes the external-provider evidence for ext.
func (m *Manager) WriteExternal(w http.ResponseWriter, ext External) error {
	token, err := m.provider.sign(providerClaims{
		ProfileComplete:  ext.ProfileComplete,
		RegisteredClaims: m.provider.registered(ext.Email, uuid.NewString(), m.provAge),
	})
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(m.providerCookieName(), token, m.provAge))
	return nil
}

// External returns the request's external-provider evidence, if valid.
func (m *Manager) External(r *http.Request) (*External, bool) {
	for _, name := range []string{SecureProviderCookie, ProviderCookie} {
		c, err := r.Cookie(name)
		if err != nil {
			continue
		}
		var claims providerClaims
		if err := m.provider.parse(c.Value, &claims); err != nil || claims.Subject == "" {
			continue
		}
		return &External{Email: claims.Subject, ProfileComplete: claims.ProfileComplete}, true
	}
	return nil, false
}

// Evidence collects both evidence sources of r.
func (m *Manager) Evidence(r *http.Request) Evidence {
	var ev Evidence
	if s, ok := m.Current(r); ok {
		ev.FirstParty = &s
	}
	if ext, ok := m.External(r); ok {
		ev.External = ext
	}
	return ev
}

// Bind ties the manager to one request/response pair.
func (m *Manager) Bind(w http.ResponseWriter, r *http.Request) *Cookies {
	return &Cookies{m: m, w: w, r: r}
}

// Cookies is a Manager bound to one exchange. It implements Writer and Reader.
type Cookies struct {
	m *Manager
	w http.ResponseWriter
	r *http.Request
}

func (c *Cookies) Issue(s Subject) error          { return c.m.Issue(c.w, s) }
func (c *Cookies) Clear()                         { c.m.Clear(c.w) }
func (c *Cookies) Current() (Subject, bool)       { return c.m.Current(c.r) }
func (c *Cookies) Evidence() Evidence             { return c.m.Evidence(c.r) }
func (c *Cookies) WriteExternal(e External) error { return c.m.WriteExternal(c.w, e) }
