package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcount/internal/config"
)

func TestAuthenticate(t *testing.T) {
	a, err := NewAuthenticator(config.AuthConfig{
		Enabled:   true,
		Username:  "operator",
		Password:  "s3cret",
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, a.IsEnabled())

	token, expiresAt, err := a.Authenticate("operator", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), expiresAt, 5)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username())
	assert.True(t, claims.HasScope(ScopeStatus))
	assert.True(t, claims.HasScope(ScopeReports))

	_, _, err = a.Authenticate("operator", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = a.Authenticate("admin", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateWithHashedPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	a, err := NewAuthenticator(config.AuthConfig{Enabled: true, Password: hash, JWTSecret: "x"})
	require.NoError(t, err)

	_, _, err = a.Authenticate("admin", "hunter2")
	require.NoError(t, err)
}

func TestAuthDisabled(t *testing.T) {
	a, err := NewAuthenticator(config.AuthConfig{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())

	_, _, err = a.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrAuthDisabled)

	_, err = NewAuthenticator(config.AuthConfig{Enabled: true})
	require.Error(t, err)
}

func TestVerify(t *testing.T) {
	issuer, err := NewTokenIssuer("secret-a", time.Hour)
	require.NoError(t, err)
	other, err := NewTokenIssuer("secret-b", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := issuer.Issue("admin", []string{ScopeStatus})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username())
	assert.True(t, claims.HasScope(ScopeStatus))
	assert.False(t, claims.HasScope(ScopeReports))

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	issuer, err := NewTokenIssuer("secret-a", time.Hour)
	require.NoError(t, err)

	sign := func(claims jwt.Claims, method jwt.SigningMethod) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte("secret-a"))
		require.NoError(t, err)
		return token
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"other issuer", sign(&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "admin", Issuer: "someone", ExpiresAt: exp}}, jwt.SigningMethodHS256)},
		{"no expiry", sign(&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "admin", Issuer: issuerName}}, jwt.SigningMethodHS256)},
		{"no subject", sign(&Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: issuerName, ExpiresAt: exp}}, jwt.SigningMethodHS256)},
		{"hs512", sign(&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "admin", Issuer: issuerName, ExpiresAt: exp}}, jwt.SigningMethodHS512)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	short, err := NewTokenIssuer("secret-a", time.Nanosecond)
	require.NoError(t, err)

	token, _, err := short.Issue("admin", OperatorScopes)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = short.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRandomSecret(t *testing.T) {
	a, err := NewTokenIssuer("", 0)
	require.NoError(t, err)
	b, err := NewTokenIssuer("", 0)
	require.NoError(t, err)

	assert.NotEqual(t, a.key, b.key)
	assert.Equal(t, 24*time.Hour, a.TTL())
}
