// Package domain defines the storage contracts consumed by shopauth.
//
// The identity store is an external collaborator: the flow package only
// depends on IdentityStorage, and the persistence package provides a GORM
// implementation of it. Every lookup returns ErrNotFound when no row matches
// so callers can tell "absent" apart from a failing store.
package domain

import (
	"context"
	"errors"

	"github.com/pointshop/shopauth/identity"
)

// ErrNotFound is returned by lookups that match no identity.
var ErrNotFound = errors.New("identity not found")

// ErrDuplicate is returned by Insert when the email or username is taken.
var ErrDuplicate = errors.New("identity already exists")

// IdentityStorage is the lookup/insert/update interface over the account record.
type IdentityStorage interface {
	FindByEmail(ctx context.Context, email string) (*identity.Identity, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*identity.Identity, error)
	FindByID(ctx context.Context, id uint) (*identity.Identity, error)
	Insert(ctx context.Context, ident *identity.Identity) error
	// UpdateContact sets the contact number of the identity with the given email.
	// It returns ErrNotFound when no identity has that email.
	UpdateContact(ctx context.Context, email, contact string) error
}

// Hasher defines the interface for password hashing and verification.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(password, hash string) bool
}
