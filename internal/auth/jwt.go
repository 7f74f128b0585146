// Package auth verifies the bearer tokens presented by API clients. It is
// deliberately thin: the orchestration core has no user accounts of its
// own, only callers identified by a client ID embedded in a pre-issued
// token's subject claim.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrDisabled is returned when no signing secret was configured.
	ErrDisabled = errors.New("auth: no secret configured")
	// ErrInvalidToken covers every token verification failure: expired,
	// malformed, wrong signing method, or missing subject.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims identifies the caller a token was issued to.
type Claims struct {
	ClientID string `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies caller tokens with an HMAC secret.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds a Service. An empty secret disables both Issue and
// Verify.
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether a secret was configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Issue signs a token for clientID, used by operator tooling to mint
// credentials for a new caller; the running server only ever verifies.
func (s *Service) Issue(clientID string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if strings.TrimSpace(clientID) == "" {
		return "", fmt.Errorf("auth: client id required")
	}

	now := time.Now()
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  clientID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates token, returning the caller's client ID.
func (s *Service) Verify(token string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
