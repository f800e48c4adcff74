package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHS256RoundTrip(t *testing.T) {
	token, err := SignHS256("user-1", "admin", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	claims, err := ParseHS256(token, "test-secret")
	if err != nil {
		t.Fatalf("ParseHS256 failed: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "admin" {
		t.Fatalf("claims mismatch: got %+v", claims)
	}
	if _, err := ParseHS256(token, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignHS256("user-1", "", "s", -time.Minute)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseHS256(token, "s"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestMiddlewareResolvesIdentity(t *testing.T) {
	var got Identity
	h := Middleware(Options{Secret: "s", TrustHeaders: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	token, _ := SignHS256("u-42", "admin", "s", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK || got.Subject != "u-42" || got.Role != "admin" {
		t.Fatalf("bearer: code=%d identity=%+v", rw.Code, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "u-7")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK || got.Subject != "u-7" || got.Role != "customer" {
		t.Fatalf("headers: code=%d identity=%+v", rw.Code, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rw.Code)
	}
}

func TestMiddlewareIgnoresHeadersWhenUntrusted(t *testing.T) {
	h := Middleware(Options{Secret: "s"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "u-7")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rw.Code)
	}
}
