// Package session carries the operator context (tenant, device, bearer
// credential) passed explicitly to the outbox and the sync engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is how long before expiry a token is refreshed
const DefaultSkew = time.Minute

// ErrNoToken is returned when no bearer credential is available
var ErrNoToken = errors.New("no bearer token")

// TokenProvider supplies bearer credentials. Refresh is called when the
// current token is about to expire.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Session identifies who is syncing and from which device
type Session struct {
	TenantID string
	DeviceID string

	tokens TokenProvider
	skew   time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cached string
}

// Option configures a Session
type Option func(*Session)

// WithSkew overrides the refresh window
func WithSkew(d time.Duration) Option {
	return func(s *Session) { s.skew = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session. tokens may be nil for anonymous remotes.
func New(tenantID, deviceID string, tokens TokenProvider, opts ...Option) *Session {
	s := &Session{
		TenantID: tenantID,
		DeviceID: deviceID,
		tokens:   tokens,
		skew:     DefaultSkew,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bearer returns a usable bearer token, refreshing it when its exp claim is
// within the skew window. Opaque (non-JWT) tokens are returned unchanged.
// An empty string with nil error means the session is anonymous.
func (s *Session) Bearer(ctx context.Context) (string, error) {
	if s.tokens == nil {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.cached
	if token == "" {
		t, err := s.tokens.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("load token: %w", err)
		}
		token = t
	}

	if exp, ok := ExpiresAt(token); ok && !exp.After(s.now().Add(s.skew)) {
		t, err := s.tokens.Refresh(ctx)
		if err != nil {
			return "", fmt.Errorf("refresh token: %w", err)
		}
		token = t
	}

	if token == "" {
		return "", ErrNoToken
	}
	s.cached = token
	return token, nil
}

// Invalidate drops the cached token so the next Bearer call reloads it
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.cached = ""
	s.mu.Unlock()
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// The remote verifies; the device only needs to know when to refresh.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// StaticToken is a TokenProvider for a fixed credential
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error)   { return string(t), nil }
func (t StaticToken) Refresh(context.Context) (string, error) { return string(t), nil }

// FuncProvider adapts plain functions to TokenProvider
type FuncProvider struct {
	TokenFunc   func(ctx context.Context) (string, error)
	RefreshFunc func(ctx context.Context) (string, error)
}

func (p FuncProvider) Token(ctx context.Context) (string, error) {
	return p.TokenFunc(ctx)
}

func (p FuncProvider) Refresh(ctx context.Context) (string, error) {
	if p.RefreshFunc == nil {
		return p.TokenFunc(ctx)
	}
	return p.RefreshFunc(ctx)
}
