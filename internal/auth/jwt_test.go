package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	a := NewAuthenticator("super-secret-key", "chatwire", time.Hour)

	identity := Identity{ID: "user-123", Email: "test@example.com", Name: "Test User"}

	token, err := a.GenerateToken(identity)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatal("generated token is empty")
	}

	decoded, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}

	if decoded.ID != identity.ID {
		t.Errorf("expected user ID %s, got %s", identity.ID, decoded.ID)
	}
	if decoded.Email != identity.Email {
		t.Errorf("expected email %s, got %s", identity.Email, decoded.Email)
	}
	if decoded.Name != identity.Name {
		t.Errorf("expected name %s, got %s", identity.Name, decoded.Name)
	}
}

func TestExpiredToken(t *testing.T) {
	a := NewAuthenticator("super-secret-key", "chatwire", -time.Minute) // Expired immediately

	token, err := a.GenerateToken(Identity{ID: "u1", Name: "user"})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	_, err = a.ValidateToken(token)
	if err == nil {
		t.Fatal("expected error for expired token, got nil")
	}
}

func TestInvalidSignature(t *testing.T) {
	auth1 := NewAuthenticator("secret1", "chatwire", time.Hour)
	auth2 := NewAuthenticator("secret2", "chatwire", time.Hour)

	token, _ := auth1.GenerateToken(Identity{ID: "u1", Name: "user"})

	_, err := auth2.ValidateToken(token)
	if err == nil {
		t.Fatal("expected error for invalid signature, got nil")
	}
}

func TestMalformedToken(t *testing.T) {
	a := NewAuthenticator("super-secret-key", "chatwire", time.Hour)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := a.ValidateToken(token); err == nil {
			t.Errorf("expected error for token %q, got nil", token)
		}
	}
}
