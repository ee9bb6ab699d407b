package myMiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwire/internal/auth"
)

func TestAuthMiddleware(t *testing.T) {
	authenticator := auth.NewAuthenticator("test-secret", "chatwire", time.Hour)
	mw := NewAuthMiddleware(authenticator)

	identity := auth.Identity{ID: "u1", Email: "a@example.com", Name: "Alice"}
	token, err := authenticator.GenerateToken(identity)
	require.NoError(t, err)

	var seen auth.Identity
	var seenOK bool
	handler := mw.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, seenOK = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.True(t, seenOK)
		assert.Equal(t, identity, seen)
	})

	t.Run("query param fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/chats?token="+token, nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		req.Header.Set("Authorization", "Bearer nonsense")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := auth.NewAuthenticator("test-secret", "chatwire", -time.Minute)
		oldToken, err := expired.GenerateToken(identity)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		req.Header.Set("Authorization", "Bearer "+oldToken)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
