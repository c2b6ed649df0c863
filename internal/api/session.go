package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"repday/internal/models"
)

// expirySkew re-authenticates a little before the backend would reject the token.
const expirySkew = time.Minute

// Session is the {token, user} pair of one authenticated Telegram user.
// It is set after the Telegram auth exchange and cleared on logout.
type Session struct {
	mu        sync.RWMutex
	token     string
	user      models.User
	expiresAt time.Time
}

func NewSession() *Session {
	return &Session{}
}

// Set stores a fresh token. The expiry is read from the token's exp claim when present.
func (s *Session) Set(token string, user models.User) {
	exp, _ := TokenExpiry(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = user
	s.expiresAt = exp
}

// SetUser replaces the cached user after a profile update.
func (s *Session) SetUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = models.User{}
	s.expiresAt = time.Time{}
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the authenticated user and whether the session holds one.
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.token != ""
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Valid reports whether the token can still be used at now.
// Tokens without an exp claim never expire client-side.
func (s *Session) Valid(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	return s.expiresAt.IsZero() || now.Add(expirySkew).Before(s.expiresAt)
}

// TokenExpiry reads the exp claim without verifying the signature;
// only the backend holds the signing key.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0), nil
	case nil:
		return time.Time{}, errors.New("token has no exp claim")
	default:
		return time.Time{}, fmt.Errorf("unexpected exp claim type %T", exp)
	}
}
