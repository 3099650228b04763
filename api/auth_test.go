package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   error
	}{
		{name: "missing", header: "", want: errMissingAuthorization},
		{name: "blank", header: "   ", want: errMissingAuthorization},
		{name: "wrong scheme", header: "Basic a.b.c", want: errBadAuthorization},
		{name: "prefix only", header: "Bearer ", want: errBadAuthorization},
		{name: "many periods", header: "Bearer " + strings.Repeat(".", 1000), want: errBadAuthorization},
		{name: "two segments", header: "Bearer a.b", want: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := bearerToken(tt.header); err != tt.want {
				t.Fatalf("bearerToken(%q) error = %v, want %v", tt.header, err, tt.want)
			}
		})
	}
}

func TestRequestTokenFallsBackToQuery(t *testing.T) {
	if got := requestToken("", "a.b.c"); got != "Bearer a.b.c" {
		t.Fatalf("unexpected token: %q", got)
	}
	if got := requestToken("Bearer x.y.z", "a.b.c"); got != "Bearer x.y.z" {
		t.Fatalf("header should win, got %q", got)
	}
}

func TestUserIDFromBearerHS256(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewTestAuth(secret, "api://aud", "https://issuer/")

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signTestToken(t, secret, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromBearerRejectsInvalidClaims(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewTestAuth(secret, "api://aud", "https://issuer/")

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-5 * time.Minute).Unix() }},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "api://other" }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil/" }},
		{name: "missing sub", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			if _, err := auth.UserIDFromBearer(signTestToken(t, secret, claims)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestUserIDFromBearerRejectsWrongSecret(t *testing.T) {
	auth := NewTestAuth([]byte("right"), "", "")
	if _, err := auth.UserIDFromBearer(signTestToken(t, []byte("wrong"), validClaims())); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestKeyForTokenWithoutJWKS(t *testing.T) {
	auth := NewAuth(nil, "", "", DefaultJWKSCacheTTL)
	if _, err := auth.keyForToken(&jwt.Token{Header: map[string]any{"kid": "k1"}}); err == nil {
		t.Fatal("expected error without jwks")
	}
}

func TestSignTestTokenRoundTrip(t *testing.T) {
	secret := []byte("local-secret")
	token, err := SignTestToken(secret, "user-7", "api://aud", "https://issuer/", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	userID, err := NewTestAuth(secret, "api://aud", "https://issuer/").UserIDFromBearer(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-7" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	if _, err := NewTestAuth(secret, "api://other", "").UserIDFromBearer(token); err == nil {
		t.Fatalf("expected audience mismatch")
	}
	if _, err := SignTestToken(nil, "user-7", "", "", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
