package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcount/internal/auth"
	"crowdcount/internal/config"
)

func protected(t *testing.T, a *auth.Authenticator) http.Handler {
	t.Helper()
	return AuthMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Write([]byte(claims.Username()))
			return
		}
		w.Write([]byte("anonymous"))
	}))
}

func TestAuthMiddleware(t *testing.T) {
	a, err := auth.NewAuthenticator(config.AuthConfig{
		Enabled: true, Username: "admin", Password: "pw", JWTSecret: "secret", JWTExpiry: time.Hour,
	})
	require.NoError(t, err)
	handler := protected(t, a)

	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"valid token", "Bearer " + token, http.StatusOK, "admin"},
		{"lowercase scheme", "bearer " + token, http.StatusOK, "admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	a, err := auth.NewAuthenticator(config.AuthConfig{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	protected(t, a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	a, err := auth.NewAuthenticator(config.AuthConfig{
		Enabled: true, Username: "admin", Password: "pw", JWTSecret: "secret", JWTExpiry: time.Hour,
	})
	require.NoError(t, err)
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	handler := OptionalAuth(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Write([]byte(claims.Username()))
			return
		}
		w.Write([]byte("anonymous"))
	}))

	tests := []struct {
		name   string
		header string
		body   string
	}{
		{"no header", "", "anonymous"},
		{"bad token", "Bearer nope", "anonymous"},
		{"valid token", "Bearer " + token, "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestRequireScope(t *testing.T) {
	a, err := auth.NewAuthenticator(config.AuthConfig{
		Enabled: true, Username: "admin", Password: "pw", JWTSecret: "secret", JWTExpiry: time.Hour,
	})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)

	statusOnly, _, err := issuer.Issue("viewer", []string{auth.ScopeStatus})
	require.NoError(t, err)
	operator, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	handler := AuthMiddleware(a)(RequireScope(a, auth.ScopeReports)(ok))

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{"missing scope", statusOnly, http.StatusForbidden},
		{"operator", operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	disabled, err := auth.NewAuthenticator(config.AuthConfig{})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	RequireScope(disabled, auth.ScopeReports)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
