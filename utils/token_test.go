package utils

import (
	"context"
	"testing"
	"time"
)

func TestJwtRoundTrip(t *testing.T) {
	t.Setenv("TOKEN_HOUR_LIFESPAN", "1")

	userID := "a3bb189e-8bf9-3888-9912-ace4e6543002"
	token, err := JwtGenerate(context.Background(), userID, "member")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	claims, err := JwtValidate(token)
	if err != nil {
		t.Fatalf("JwtValidate: %v", err)
	}
	if claims.ID != userID {
		t.Fatalf("expected id %q, got %q", userID, claims.ID)
	}
	if claims.Role != "member" {
		t.Fatalf("expected role member, got %q", claims.Role)
	}
	if claims.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expected a future expiry, got %d", claims.ExpiresAt)
	}
}

func TestJwtValidateRejectsBadTokens(t *testing.T) {
	token, err := JwtGenerate(context.Background(), "a3bb189e-8bf9-3888-9912-ace4e6543002", "member")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"tampered signature", token + "x"},
		{"garbage", "not-a-token"},
		{"empty", ""},
	}
	for _, tc := range cases {
		if _, err := JwtValidate(tc.token); err == nil {
			t.Fatalf("%s: expected validation to fail", tc.name)
		}
	}
}
