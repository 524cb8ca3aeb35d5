package flow

import (
	"context"
	"errors"
	"strings"

	"github.com/pointshop/shopauth/domain"
	"github.com/pointshop/shopauth/identity"
	"github.com/pointshop/shopauth/logger"
	"github.com/pointshop/shopauth/session"
	"go.uber.org/zap"
)

// ProfileReconciler completes accounts created through the external provider
// that still lack a contact number.
type ProfileReconciler struct {
	repo      IdentityRepository
	observers observers
}

func NewProfileReconciler(repo IdentityRepository) *ProfileReconciler {
	return &ProfileReconciler{repo: repo}
}

func (p *ProfileReconciler) AddObserver(o Observer) { p.observers = append(p.observers, o) }

// Complete stores contact for the externally authenticated ext, then reloads
// the identity and re-issues the first-party session for it.
func (p *ProfileReconciler) Complete(ctx context.Context, sw session.Writer, ext *session.External, contact string) (*identity.Public, error) {
	if ext == nil || identity.NormalizeEmail(ext.Email) == "" {
		return nil, ErrNotAuthenticated
	}
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, ErrMissingRequiredField
	}

	email := identity.NormalizeEmail(ext.Email)
	if err := p.repo.UpdateContact(ctx, email, contact); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		logger.Log.Error("contact update failed", zap.String("email", email), zap.Error(err))
		return nil, storageError("update contact", err)
	}

	ident, err := p.repo.FindByEmail(ctx, email)
	if err != nil {
		logger.Log.Error("reload after contact update failed", zap.String("email", email), zap.Error(err))
		return nil, storageError("find identity", err)
	}

	if err := sw.Issue(session.Subject{ID: ident.ID, Role: ident.Role}); err != nil {
		logger.Log.Error("session issue failed", zap.Uint("identity_id", ident.ID), zap.Error(err))
		return nil, storageError("issue session", err)
	}

	logger.Log.Info("profile completed", zap.Uint("identity_id", ident.ID))
	p.observers.notify(ctx, Event{
		Type:       EventProfileCompleted,
		Email:      email,
		IdentityID: ident.ID,
		Outcome:    OutcomeSuccess,
	})
	return ident.Public(), nil
}
