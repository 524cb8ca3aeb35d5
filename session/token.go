package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pointshop/shopauth/identity"
)

const (
	kindUserID = "uid"
	kindRole   = "role"
)

// pairClaims is carried by both halves of the token pair. The halves share
// Subject and ID so they cannot be recombined across sessions.
type pairClaims struct {
	Kind string        `json:"knd"`
	Role identity.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// providerClaims is carried by the external-provider session evidence.
type providerClaims struct {
	ProfileComplete bool `json:"pc"`
	jwt.RegisteredClaims
}

// signer signs one token family. The audience keeps families apart when
// they share a key.
type signer struct {
	key      []byte
	audience string
	now      func() time.Time
}

func (s *signer) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *signer) parse(token string, claims jwt.Claims) error {
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		return err
	}
	if !t.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

func (s *signer) registered(subject, pairID string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		ID:        pairID,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func parseSubjectID(sub string) (uint, error) {
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid subject %q", sub)
	}
	return uint(id), nil
}
