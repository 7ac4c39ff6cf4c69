package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerifyJWT(t *testing.T) {
	secret := "test-secret"
	token, err := SignJWT(secret, NewTokenClaims("user-123", time.Hour))
	if err != nil {
		t.Fatalf("SignJWT() unexpected error: %v", err)
	}
	parsed, err := VerifyJWT(secret, token)
	if err != nil {
		t.Fatalf("VerifyJWT() unexpected error: %v", err)
	}
	if parsed.Subject != "user-123" {
		t.Fatalf("VerifyJWT() subject = %q, want %q", parsed.Subject, "user-123")
	}
}

func TestVerifyJWTInvalidSignature(t *testing.T) {
	token, err := SignJWT("secret-a", NewTokenClaims("user-123", time.Hour))
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	if _, err := VerifyJWT("secret-b", token); err == nil {
		t.Fatalf("VerifyJWT() expected invalid signature error")
	}
}

func TestVerifyJWTExpired(t *testing.T) {
	token, err := SignJWT("secret", NewTokenClaims("user-123", -time.Minute))
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	if _, err := VerifyJWT("secret", token); err == nil {
		t.Fatalf("VerifyJWT() expected expiration error")
	}
}

func TestVerifyJWTRequiresSubject(t *testing.T) {
	token, err := SignJWT("secret", NewTokenClaims("", time.Hour))
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	if _, err := VerifyJWT("secret", token); err == nil {
		t.Fatalf("VerifyJWT() expected missing subject error")
	}
}

func TestAuthJWT(t *testing.T) {
	token, err := SignJWT("secret", NewTokenClaims("user-9", time.Hour))
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}

	tests := []struct {
		name        string
		allowHeader bool
		headers     map[string]string
		wantStatus  int
		wantUser    string
	}{
		{"bearer token", false, map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, "user-9"},
		{"token wins over header", true, map[string]string{"Authorization": "Bearer " + token, RequesterHeader: "other"}, http.StatusOK, "user-9"},
		{"missing", false, nil, http.StatusUnauthorized, ""},
		{"bad scheme", false, map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, ""},
		{"bad token", false, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"header allowed", true, map[string]string{RequesterHeader: " dev-user "}, http.StatusOK, "dev-user"},
		{"header ignored", false, map[string]string{RequesterHeader: "dev-user"}, http.StatusUnauthorized, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser string
			h := AuthJWT("secret", tc.allowHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = UserIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if gotUser != tc.wantUser {
				t.Fatalf("user = %q, want %q", gotUser, tc.wantUser)
			}
		})
	}
}
