package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mint(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tech-1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret-key-12345"))
	require.NoError(t, err)
	return signed
}

func TestBearerRefreshesNearExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	stale := mint(t, now.Add(30*time.Second))
	fresh := mint(t, now.Add(time.Hour))

	refreshes := 0
	s := New("acme", "tablet-1", FuncProvider{
		TokenFunc: func(context.Context) (string, error) { return stale, nil },
		RefreshFunc: func(context.Context) (string, error) {
			refreshes++
			return fresh, nil
		},
	}, WithClock(func() time.Time { return now }))

	got, err := s.Bearer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	// cached token is still valid, no second refresh
	got, err = s.Bearer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, 1, refreshes)
}

func TestBearerOpaqueToken(t *testing.T) {
	s := New("acme", "tablet-1", StaticToken("opaque-token"))

	got, err := s.Bearer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", got)
}

func TestBearerAnonymous(t *testing.T) {
	s := New("acme", "tablet-1", nil)

	got, err := s.Bearer(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBearerEmptyToken(t *testing.T) {
	s := New("acme", "tablet-1", StaticToken(""))

	_, err := s.Bearer(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, ok := ExpiresAt(mint(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = ExpiresAt("not-a-jwt")
	assert.False(t, ok)
}
