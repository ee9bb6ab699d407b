package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"chatwire/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenValidator is what we need from the auth layer.
// The interface keeps 'middleware' decoupled from the concrete authenticator.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Identity, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle rejects requests without a valid bearer token and injects the
// decoded identity into the request context.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		// Fallback: query param (the websocket handshake uses this)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Authentication error", http.StatusUnauthorized)
			return
		}

		identity, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			// One indistinct error for missing, malformed and expired tokens.
			http.Error(w, "Authentication error", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, *identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext retrieves the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}
