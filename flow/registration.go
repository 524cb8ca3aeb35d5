package flow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pointshop/shopauth/domain"
	"github.com/pointshop/shopauth/identity"
	"github.com/pointshop/shopauth/logger"
	"github.com/pointshop/shopauth/session"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RegistrationRequest carries the fields of a sign-up. A nil or empty
// Password makes the manager synthesize one for new accounts.
type RegistrationRequest struct {
	Email    string
	Username string
	Password *string
	Whatsapp string
}

type RegistrationManager struct {
	repo      IdentityRepository
	hasher    domain.Hasher
	login     *LoginManager
	observers observers
}

func NewRegistrationManager(repo IdentityRepository, hasher domain.Hasher, login *LoginManager) *RegistrationManager {
	return &RegistrationManager{
		repo:   repo,
		hasher: hasher,
		login:  login,
	}
}

func (m *RegistrationManager) AddObserver(o Observer) { m.observers = append(m.observers, o) }

// Register creates a customer account and issues its session. When the
// email or username is already taken it logs the existing account in with
// the supplied credential instead.
func (m *RegistrationManager) Register(ctx context.Context, sw session.Writer, req RegistrationRequest) (*identity.Public, error) {
	ctx, span := m.login.tracer.Start(ctx, "flow.Register")
	defer span.End()

	start := time.Now()
	email := identity.NormalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)
	if email == "" || username == "" {
		return nil, ErrMissingRequiredField
	}

	// 1. Existing account degenerates into login. The login uses the
	// submitted email, so a taken username never signs in its owner.
	_, err := m.repo.FindByEmailOrUsername(ctx, email, username)
	if err == nil {
		span.SetAttributes(attribute.Bool("existing", true))
		return m.login.Login(ctx, sw, LoginRequest{Email: email, Password: req.Password})
	}
	if !errors.Is(err, domain.ErrNotFound) {
		logger.Log.Error("registration lookup failed", zap.String("email", email), zap.Error(err))
		return nil, storageError("find identity", err)
	}

	// 2. Credential
	password := ""
	if req.Password != nil {
		password = *req.Password
	}
	if password == "" {
		password = synthesizePassword()
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return nil, storageError("hash credential", err)
	}

	// 3. Persist
	ident := &identity.Identity{
		Username:     username,
		Email:        email,
		Role:         identity.RoleCustomer,
		PasswordHash: hash,
	}
	if contact := strings.TrimSpace(req.Whatsapp); contact != "" {
		ident.Whatsapp = &contact
	}

	if ctx.Err() != nil {
		return nil, storageError("register", ctx.Err())
	}
	if err := m.repo.Insert(ctx, ident); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Lost a race with a concurrent sign-up for the same account.
			return m.login.Login(ctx, sw, LoginRequest{Email: email, Password: req.Password})
		}
		logger.Log.Error("registration insert failed", zap.String("email", email), zap.Error(err))
		return nil, storageError("insert identity", err)
	}

	// 4. Issue
	if err := sw.Issue(session.Subject{ID: ident.ID, Role: ident.Role}); err != nil {
		logger.Log.Error("session issue failed", zap.Uint("identity_id", ident.ID), zap.Error(err))
		return nil, storageError("issue session", err)
	}

	logger.Log.Info("identity registered", zap.Uint("identity_id", ident.ID), zap.Bool("synthesized_credential", req.Password == nil || *req.Password == ""))
	m.observers.notify(ctx, Event{
		Type:       EventRegistration,
		Email:      email,
		IdentityID: ident.ID,
		Outcome:    OutcomeSuccess,
		Duration:   time.Since(start),
	})

	return ident.Public(), nil
}
