package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("auth token expired")

// TokenSource yields the bearer token attached to outgoing requests.
// An empty token means the request is sent unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// JWTSource hands out a JWT until its exp claim passes. The signature is not
// checked here; that is the backend's job.
type JWTSource struct {
	mu     sync.RWMutex
	token  string
	leeway time.Duration
	now    func() time.Time
}

func NewJWTSource(token string, leeway time.Duration) *JWTSource {
	return &JWTSource{token: token, leeway: leeway, now: time.Now}
}

func (s *JWTSource) Token(context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", nil
	}

	exp, ok, err := ExpiresAt(token)
	if err != nil {
		return "", err
	}
	if ok && !s.now().Before(exp.Add(s.leeway)) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return token, nil
}

func (s *JWTSource) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear drops the token, e.g. on logout.
func (s *JWTSource) Clear() { s.Set("") }

// ExpiresAt reads the exp claim without verifying the signature.
func ExpiresAt(token string) (time.Time, bool, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}

// SubjectOf reads the sub claim without verifying the signature.
func SubjectOf(token string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	return claims.Sub, nil
}

// IssueToken signs an HS256 token for subject, used by the reference backend
// and `ragctl token` in development.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub:  subject,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
