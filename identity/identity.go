// Package identity provides the account types shared by the shopauth packages.
//
// An Identity is the single persisted account record. Its credential is only
// ever held as a one-way hash and never leaves the process: use Public to
// obtain the attributes that may be returned to a caller.
//
// # Roles
//
// Every identity carries exactly one role:
//   - admin: shop administrators
//   - seller: merchants managing their own orders
//   - customer: the default role given at registration
package identity

import (
	"strings"
	"time"
)

// Role is the enumerated role of an identity.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSeller   Role = "seller"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeller, RoleCustomer:
		return true
	}
	return false
}

// Home returns the landing path of the role's area.
func (r Role) Home() string {
	if r.Valid() {
		return "/" + string(r)
	}
	return "/"
}

// Identity represents one account.
type Identity struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"size:191;uniqueIndex" json:"username"`
	Email          string    `gorm:"size:191;uniqueIndex" json:"email"`
	Role           Role      `gorm:"size:32;index" json:"role"`
	PasswordHash   string    `gorm:"column:password_hash" json:"-"`
	Points         int64     `json:"points"`
	ReservedPoints int64     `gorm:"column:reserved_points" json:"reserved_points"`
	Whatsapp       *string   `gorm:"size:64" json:"whatsapp,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Identity) TableName() string { return "users" }

// Complete reports whether the attributes required to sign in are present.
func (i *Identity) Complete() bool {
	return i.Username != "" && i.Email != "" && i.Role != ""
}

// HasContact reports whether a non-empty contact number is stored.
func (i *Identity) HasContact() bool {
	return i.Whatsapp != nil && strings.TrimSpace(*i.Whatsapp) != ""
}

// Public is the caller-visible view of an identity. It never carries the credential.
type Public struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	Points         int64  `json:"points"`
	ReservedPoints int64  `json:"reserved_points"`
}

func (i *Identity) Public() *Public {
	return &Public{
		ID:             i.ID,
		Username:       i.Username,
		Email:          i.Email,
		Role:           i.Role,
		Points:         i.Points,
		ReservedPoints: i.ReservedPoints,
	}
}

// NormalizeEmail returns the canonical form used for lookups and lockout keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
