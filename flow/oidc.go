package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/pointshop/shopauth/config"
	"github.com/pointshop/shopauth/domain"
	"github.com/pointshop/shopauth/identity"
	"github.com/pointshop/shopauth/logger"
	"github.com/pointshop/shopauth/session"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrUnknownProvider is returned for a provider name that is not configured.
var ErrUnknownProvider = errors.New("oidc: provider not found")

// OIDCManager runs the external-provider handshake and turns its result into
// a first-party session.
type OIDCManager struct {
	providers    map[string]*OIDCProviderData
	repo         IdentityRepository
	login        *LoginManager
	registration *RegistrationManager
}

type OIDCProviderData struct {
	Provider    *oidc.Provider
	OAuthConfig *oauth2.Config
}

// ProviderClaims is the part of a verified ID token the shop relies on.
type ProviderClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

func NewOIDCManager(ctx context.Context, configs map[string]config.OIDCProvider, repo IdentityRepository, login *LoginManager, registration *RegistrationManager) (*OIDCManager, error) {
	providers := make(map[string]*OIDCProviderData)

	for name, cfg := range configs {
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to get provider %s: %w", name, err)
		}

		providers[name] = &OIDCProviderData{
			Provider: provider,
			OAuthConfig: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				Endpoint:     provider.Endpoint(),
				RedirectURL:  cfg.RedirectURL,
				Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			},
		}
	}

	return &OIDCManager{
		providers:    providers,
		repo:         repo,
		login:        login,
		registration: registration,
	}, nil
}

// Providers returns the configured provider names.
func (m *OIDCManager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

func (m *OIDCManager) GetAuthURL(providerID, state string) (string, error) {
	p, ok := m.providers[providerID]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.OAuthConfig.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for verified provider claims.
func (m *OIDCManager) Exchange(ctx context.Context, providerID, code string) (*ProviderClaims, error) {
	p, ok := m.providers[providerID]
	if !ok {
		return nil, ErrUnknownProvider
	}

	token, err := p.OAuthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token in token response")
	}

	verifier := p.Provider.Verifier(&oidc.Config{ClientID: p.OAuthConfig.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	var claims ProviderClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return nil, errors.New("id token carries no email")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, errors.New("provider email is not verified")
	}
	return &claims, nil
}

// SignIn links verified provider claims to an account. An unknown email is
// registered as a new customer with a synthesized credential; a known one is
// logged in on the trusted path. The returned External is the evidence the
// caller should persist for the provider session.
func (m *OIDCManager) SignIn(ctx context.Context, sw session.Writer, claims *ProviderClaims) (*identity.Public, *session.External, error) {
	email := identity.NormalizeEmail(claims.Email)
	if email == "" {
		return nil, nil, ErrMissingRequiredField
	}

	ident, err := m.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		user, err := m.login.Login(ctx, sw, LoginRequest{Email: email})
		if err != nil {
			return nil, nil, err
		}
		return user, &session.External{Email: email, ProfileComplete: ident.HasContact()}, nil

	case errors.Is(err, domain.ErrNotFound):
		username, err := m.availableUsername(ctx, email, claims)
		if err != nil {
			return nil, nil, err
		}
		user, err := m.registration.Register(ctx, sw, RegistrationRequest{Email: email, Username: username})
		if err != nil {
			return nil, nil, err
		}
		logger.Log.Info("identity created from provider", zap.Uint("identity_id", user.ID))
		return user, &session.External{Email: email, ProfileComplete: false}, nil

	default:
		logger.Log.Error("provider sign-in lookup failed", zap.String("email", email), zap.Error(err))
		return nil, nil, storageError("find identity", err)
	}
}

// availableUsername derives a username from the provider name or the email
// local part and appends a random suffix until it is free.
func (m *OIDCManager) availableUsername(ctx context.Context, email string, claims *ProviderClaims) (string, error) {
	base := usernameFrom(claims.Name)
	if base == "" {
		base = usernameFrom(strings.SplitN(email, "@", 2)[0])
	}
	if base == "" {
		base = "user"
	}

	candidate := base
	for range 5 {
		_, err := m.repo.FindByEmailOrUsername(ctx, email, candidate)
		if errors.Is(err, domain.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", storageError("find identity", err)
		}
		candidate = base + "-" + uuid.NewString()[:8]
	}
	return "", storageError("pick username", errors.New("no free username"))
}

func usernameFrom(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '_' || r == '-':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
