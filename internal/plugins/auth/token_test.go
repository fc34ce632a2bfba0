package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("s3cret"), "http://localhost:7007/api/auth", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("user:default/jane", []string{"user:default/jane", "group:default/team-a"})
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user:default/jane", claims.Subject)
	assert.Equal(t, []string{"user:default/jane", "group:default/team-a"}, claims.Ent)
	assert.Contains(t, claims.Audience, Audience)
	assert.Equal(t, time.Hour, issuer.TTL())
}

func TestTokenIssuerRejects(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("s3cret"), "iss", time.Minute)
	require.NoError(t, err)
	token, err := issuer.Issue("user:default/jane", nil)
	require.NoError(t, err)

	t.Run("other key", func(t *testing.T) {
		other, err := NewTokenIssuer([]byte("different"), "iss", time.Minute)
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		other, err := NewTokenIssuer([]byte("s3cret"), "elsewhere", time.Minute)
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { issuer.now = time.Now }()
		_, err := issuer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestDeriveKeyIsStable(t *testing.T) {
	a, err := DeriveKey([]byte("s3cret"))
	require.NoError(t, err)
	b, err := DeriveKey([]byte("s3cret"))
	require.NoError(t, err)
	c, err := DeriveKey([]byte("other"))
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewTokenIssuerDefaultsTTL(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("x"), "iss", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, issuer.TTL())
}
