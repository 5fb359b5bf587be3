package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"crowdcount/internal/auth"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey ContextKey = "user"
)

var (
	errMissingHeader = errors.New("missing authorization header")
	errHeaderFormat  = errors.New("invalid authorization header format")
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	IsEnabled() bool
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthMiddleware rejects requests without a valid bearer token while
// authentication is enabled
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if disabled
			if !validator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := claimsFromRequest(validator, r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, authMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, claims)))
		})
	}
}

// OptionalAuth attaches the claims of a valid bearer token and lets every
// other request through anonymously
func OptionalAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator.IsEnabled() {
				if claims, err := claimsFromRequest(validator, r); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), UserContextKey, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireScope rejects authenticated requests whose token lacks scope. It
// must run behind AuthMiddleware; requests without claims pass when
// authentication is disabled.
func RequireScope(validator TokenValidator, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator.IsEnabled() {
				claims := GetUserFromContext(r.Context())
				if claims == nil || !claims.HasScope(scope) {
					writeError(w, http.StatusForbidden, "token lacks scope "+scope)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFromRequest(validator TokenValidator, r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errMissingHeader
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, errHeaderFormat
	}

	return validator.ValidateToken(token)
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, errMissingHeader), errors.Is(err, errHeaderFormat):
		return err.Error()
	case errors.Is(err, auth.ErrExpiredToken):
		return "token has expired"
	default:
		return "invalid token"
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"error": "` + msg + `"}`))
}

// GetUserFromContext retrieves user claims from the request context
func GetUserFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}
