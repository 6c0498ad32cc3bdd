package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type recordingLogger struct {
	mu      sync.Mutex
	reasons []string
}

func (l *recordingLogger) log(_ context.Context, _ string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reason, _ := fields["reason"].(string)
	l.reasons = append(l.reasons, reason)
}

func (l *recordingLogger) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.reasons) == 0 {
		return ""
	}
	return l.reasons[len(l.reasons)-1]
}

func TestJWKSCache_KeyCachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "key1", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	var mu sync.Mutex
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now }))

	ctx := context.Background()
	got, err := cache.Key(ctx, "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}

	mu.Lock()
	if requests != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", requests)
	}
	mu.Unlock()

	now = now.Add(2 * time.Hour)
	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key after expiry: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 2 {
		t.Fatalf("expected refresh after max-age elapsed, got %d fetches", requests)
	}
}

func TestOIDCRequireOIDC_Success(t *testing.T) {
	validator, _, token := setupOIDCTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/checkout/expire-pending", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC(OIDCPolicy{Audience: "https://storefront.example.com", Issuers: []string{"https://accounts.google.com"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected service identity in context")
		}
		if identity.Email != "scheduler@example.iam.gserviceaccount.com" {
			t.Fatalf("unexpected email %s", identity.Email)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestOIDCRequireOIDC_AudienceMismatch(t *testing.T) {
	validator, logger, token := setupOIDCTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/checkout/expire-pending", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC(OIDCPolicy{Audience: "https://other.example.com", Issuers: []string{"https://accounts.google.com"}})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if logger.last() != "audience_mismatch" {
		t.Fatalf("expected audience_mismatch, got %q", logger.last())
	}
}

func TestOIDCRequireOIDC_IssuerMismatch(t *testing.T) {
	validator, logger, token := setupOIDCTest(t, func(claims jwt.MapClaims) {
		claims["iss"] = "https://evil.example.com"
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/checkout/expire-pending", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC(OIDCPolicy{Audience: "https://storefront.example.com", Issuers: []string{"https://accounts.google.com"}})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if logger.last() != "issuer_mismatch" {
		t.Fatalf("expected issuer_mismatch, got %q", logger.last())
	}
}

func TestOIDCRequireOIDC_JWKSUnavailable(t *testing.T) {
	validator, logger, token := setupOIDCTest(t, nil)
	validator.cache.url = "http://127.0.0.1:65535/invalid"

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/checkout/expire-pending", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC(OIDCPolicy{Audience: "https://storefront.example.com"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if logger.last() != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable, got %q", logger.last())
	}
}

func TestOIDCRequireOIDC_UnconfiguredAudience(t *testing.T) {
	validator, _, token := setupOIDCTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/checkout/expire-pending", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC(OIDCPolicy{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestOIDCRequireOIDC_ServiceAccountAllowList(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(jwt.MapClaims)
		accounts []string
		wantCode int
		reason   string
	}{
		{name: "listed account", accounts: []string{"Scheduler@example.iam.gserviceaccount.com"}, wantCode: http.StatusNoContent},
		{name: "other account", accounts: []string{"deploy@example.iam.gserviceaccount.com"}, wantCode: http.StatusUnauthorized, reason: "caller_not_allowed"},
		{
			name:     "unverified email",
			mutate:   func(c jwt.MapClaims) { c["email_verified"] = false },
			accounts: []string{"scheduler@example.iam.gserviceaccount.com"},
			wantCode: http.StatusUnauthorized,
			reason:   "caller_not_allowed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			validator, logger, token := setupOIDCTest(t, tc.mutate)
			policy := OIDCPolicy{Audience: "https://storefront.example.com", ServiceAccounts: tc.accounts}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/idempotency:cleanup", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			validator.RequireOIDC(policy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})).ServeHTTP(rr, req)

			if rr.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, rr.Code)
			}
			if logger.last() != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, logger.last())
			}
		})
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=3600, must-revalidate": time.Hour,
		"MAX-AGE=60":                            time.Minute,
		"no-cache":                              0,
		"max-age=abc":                           0,
	}
	for header, want := range cases {
		if got := maxAge(header); got != want {
			t.Fatalf("maxAge(%q) = %s, want %s", header, got, want)
		}
	}
}

func setupOIDCTest(t *testing.T, mutateClaims func(jwt.MapClaims)) (*OIDCValidator, *recordingLogger, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	logger := &recordingLogger{}
	validator := NewOIDCValidator(NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now })), logger.log)

	claims := jwt.MapClaims{
		"aud":            []string{"https://storefront.example.com"},
		"iss":            "https://accounts.google.com",
		"sub":            "1234567890",
		"email":          "scheduler@example.iam.gserviceaccount.com",
		"email_verified": true,
		"exp":            float64(now.Add(time.Hour).Unix()),
		"iat":            float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return validator, logger, signed
}
