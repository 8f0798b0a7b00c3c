// Package session identifies the signed-in user from the backend access
// token. The token is only decoded here; the backend verifies it on every
// request.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken   = errors.New("no access token configured")
	ErrNoSubject = errors.New("access token has no subject")
)

// Claims is the payload of a backend access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Session is the user the notification feed is scoped to.
type Session struct {
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// FromToken decodes the access token and returns the session it belongs to.
func FromToken(token string) (Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Session{}, ErrNoToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("decoding access token: %w", err)
	}
	if claims.Subject == "" {
		return Session{}, ErrNoSubject
	}

	s := Session{
		UserID: claims.Subject,
		Email:  claims.Email,
		Token:  token,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Expired reports whether the token carried an expiry that has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
