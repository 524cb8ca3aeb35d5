package flow

import (
	"context"
	"errors"
	"time"

	"github.com/pointshop/shopauth/domain"
	"github.com/pointshop/shopauth/identity"
	"github.com/pointshop/shopauth/logger"
	"github.com/pointshop/shopauth/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// IdentityRepository is an alias for domain.IdentityStorage.
type IdentityRepository = domain.IdentityStorage

// LoginRequest is one credential verification. A nil Password means the
// caller has already authenticated Email through the external provider.
type LoginRequest struct {
	Email    string
	Password *string
}

type LoginManager struct {
	repo      IdentityRepository
	hasher    domain.Hasher
	throttle  *Throttle
	observers observers
	tracer    trace.Tracer
}

func NewLoginManager(repo IdentityRepository, hasher domain.Hasher, throttle *Throttle) *LoginManager {
	return &LoginManager{
		repo:     repo,
		hasher:   hasher,
		throttle: throttle,
		tracer:   otel.Tracer("github.com/pointshop/shopauth/flow"),
	}
}

func (m *LoginManager) AddObserver(o Observer) { m.observers = append(m.observers, o) }

// Login verifies req and, on success, issues the session through sw.
//
// The throttle is consulted before the store is touched, so a locked key
// never reveals whether the account exists or the password matched. A
// failed attempt is recorded before the failure is reported; a success is
// recorded before the session is issued.
func (m *LoginManager) Login(ctx context.Context, sw session.Writer, req LoginRequest) (*identity.Public, error) {
	ctx, span := m.tracer.Start(ctx, "flow.Login")
	defer span.End()

	start := time.Now()
	email := identity.NormalizeEmail(req.Email)
	user, err := m.login(ctx, sw, email, req.Password)

	ev := Event{Type: EventLogin, Email: email, Outcome: OutcomeOf(err), Duration: time.Since(start)}
	if user != nil {
		ev.IdentityID = user.ID
	}
	var le *LockedError
	if errors.As(err, &le) {
		ev.RetryAfter = le.RetryAfter
	}
	span.SetAttributes(attribute.String("outcome", string(ev.Outcome)))
	if ev.Outcome == OutcomeStorageError {
		span.SetStatus(codes.Error, "storage error")
	}
	m.observers.notify(ctx, ev)

	return user, err
}

func (m *LoginManager) login(ctx context.Context, sw session.Writer, email string, password *string) (*identity.Public, error) {
	if email == "" {
		return nil, ErrMissingRequiredField
	}

	// 1. Check lockout
	remaining, err := m.throttle.IsLocked(ctx, email)
	if err != nil {
		logger.Log.Error("lockout check failed", zap.String("email", email), zap.Error(err))
		return nil, storageError("lockout check", err)
	}
	if remaining > 0 {
		logger.Log.Warn("login blocked by lockout", zap.String("email", email), zap.Int("retry_after", remaining))
		return nil, &LockedError{RetryAfter: remaining}
	}

	// 2. Look up the identity
	ident, err := m.repo.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		if err := m.recordFailure(ctx, email); err != nil {
			return nil, err
		}
		logger.Log.Info("login for unknown account", zap.String("email", email))
		return nil, ErrAccountNotFound
	}
	if err != nil {
		logger.Log.Error("identity lookup failed", zap.String("email", email), zap.Error(err))
		return nil, storageError("find identity", err)
	}

	// 3. Structural validation, not counted as an attempt
	if !ident.Complete() {
		logger.Log.Warn("login for incomplete account", zap.Uint("identity_id", ident.ID))
		return nil, ErrInvalidAccount
	}

	// 4. Credential comparison; a nil password is the trusted external path
	if password != nil {
		if !m.hasher.Compare(*password, ident.PasswordHash) {
			if err := m.recordFailure(ctx, email); err != nil {
				return nil, err
			}
			return nil, ErrInvalidCredential
		}
		if ctx.Err() != nil {
			return nil, storageError("login", ctx.Err())
		}
		// Failures recorded while the hash was compared may have locked the
		// key; the store keeps such a lock and the match is discarded.
		state, err := m.throttle.Record(ctx, email, true)
		if err != nil {
			logger.Log.Error("clearing attempts failed", zap.String("email", email), zap.Error(err))
			return nil, storageError("record success", err)
		}
		if retry := m.throttle.RetryAfter(state); retry > 0 {
			logger.Log.Warn("login blocked by lockout", zap.String("email", email), zap.Int("retry_after", retry))
			return nil, &LockedError{RetryAfter: retry}
		}
	}

	// 5. Issue
	if err := sw.Issue(session.Subject{ID: ident.ID, Role: ident.Role}); err != nil {
		logger.Log.Error("session issue failed", zap.Uint("identity_id", ident.ID), zap.Error(err))
		return nil, storageError("issue session", err)
	}

	logger.Log.Info("login succeeded", zap.Uint("identity_id", ident.ID), zap.Bool("external", password == nil))
	return ident.Public(), nil
}

// recordFailure counts one failed attempt for email. It returns a
// *LockedError when this attempt locks the key, and nothing is recorded for
// a request that was already cancelled.
func (m *LoginManager) recordFailure(ctx context.Context, email string) error {
	if ctx.Err() != nil {
		return storageError("login", ctx.Err())
	}

	state, err := m.throttle.Record(ctx, email, false)
	if err != nil {
		logger.Log.Error("recording failed attempt failed", zap.String("email", email), zap.Error(err))
		return storageError("record failure", err)
	}

	if retry := m.throttle.RetryAfter(state); retry > 0 {
		logger.Log.Warn("login locked out",
			zap.String("email", email),
			zap.Int("failures", state.Failures),
			zap.Int("retry_after", retry),
		)
		if state.Failures == m.throttle.Policy().MaxFailures {
			m.observers.notify(ctx, Event{Type: EventLockout, Email: email, Outcome: OutcomeLockedOut, RetryAfter: retry})
		}
		return &LockedError{RetryAfter: retry}
	}
	return nil
}

// CurrentUser loads the identity named by the request's session. Any missing
// token or failed lookup yields nil.
func (m *LoginManager) CurrentUser(ctx context.Context, r session.Reader) *identity.Identity {
	subject, ok := r.Current()
	if !ok {
		return nil
	}
	ident, err := m.repo.FindByID(ctx, subject.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Log.Error("current user lookup failed", zap.Uint("identity_id", subject.ID), zap.Error(err))
		}
		return nil
	}
	return ident
}

// Resolve converts the request's evidence into one canonical identity. The
// role always comes from the stored identity, never from the cookie.
func (m *LoginManager) Resolve(ctx context.Context, ev session.Evidence) (*identity.Identity, error) {
	switch {
	case ev.FirstParty != nil:
		ident, err := m.repo.FindByID(ctx, ev.FirstParty.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		if err != nil {
			return nil, storageError("find identity", err)
		}
		if ev.External != nil && identity.NormalizeEmail(ev.External.Email) != identity.NormalizeEmail(ident.Email) {
			logger.Log.Warn("session evidence disagrees",
				zap.Uint("identity_id", ident.ID),
				zap.String("external_email", ev.External.Email),
			)
			return nil, ErrConflictingEvidence
		}
		return ident, nil

	case ev.External != nil:
		ident, err := m.repo.FindByEmail(ctx, identity.NormalizeEmail(ev.External.Email))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, storageError("find identity", err)
		}
		return ident, nil
	}
	return nil, ErrNotAuthenticated
}

// Logout clears every session cookie and reports the event.
func (m *LoginManager) Logout(ctx context.Context, sw session.Writer, subject *session.Subject) {
	sw.Clear()

	ev := Event{Type: EventLogout, Outcome: OutcomeSuccess}
	if subject != nil {
		ev.IdentityID = subject.ID
		logger.Log.Info("logout", zap.Uint("identity_id", subject.ID))
	}
	m.observers.notify(ctx, ev)
}
