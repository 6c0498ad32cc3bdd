package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// Logger is the structured logging hook used by the OIDC validator.
type Logger func(ctx context.Context, event string, fields map[string]any)

const defaultJWKSRefreshInterval = 15 * time.Minute

// JWKSCache holds Google's token signing keys until the advertised max-age runs out.
// Concurrent misses share one fetch.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time
	fetch  singleflight.Group

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client used to fetch JWKS documents.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSClock injects a custom time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache constructs a JWKS cache for the provided URL.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Key resolves the RSA public key for kid. A stale set or an unknown kid (Google rotates keys
// ahead of max-age) triggers one refresh.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	_, err, _ := c.fetch.Do("jwks", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.now().Before(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	return jwk.Key, ok
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := maxAge(resp.Header.Get("Cache-Control"))
	if validity <= 0 {
		validity = defaultJWKSRefreshInterval
	}
	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(validity)
	c.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// OIDCPolicy says which Google-signed tokens may call /internal, i.e. the Cloud Scheduler jobs
// that expire pending orders and sweep idempotency records.
type OIDCPolicy struct {
	Audience string
	Issuers  []string
	// ServiceAccounts, when set, limits callers to these verified service-account emails.
	ServiceAccounts []string
}

func (p OIDCPolicy) normalised() OIDCPolicy {
	trimAll := func(values []string, fold bool) []string {
		out := make([]string, 0, len(values))
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				if fold {
					v = strings.ToLower(v)
				}
				out = append(out, v)
			}
		}
		return out
	}
	return OIDCPolicy{
		Audience:        strings.TrimSpace(p.Audience),
		Issuers:         trimAll(p.Issuers, false),
		ServiceAccounts: trimAll(p.ServiceAccounts, true),
	}
}

// OIDCValidator authenticates Google-signed service tokens on internal endpoints.
type OIDCValidator struct {
	cache  *JWKSCache
	logger Logger
}

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, logger Logger) *OIDCValidator {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OIDCValidator{cache: cache, logger: logger}
}

// ServiceIdentity is the verified caller of an internal endpoint.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by the middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

type oidcClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// RequireOIDC enforces an RS256 token that satisfies policy. Without an audience every request
// is refused with 503.
func (v *OIDCValidator) RequireOIDC(policy OIDCPolicy) func(http.Handler) http.Handler {
	policy = policy.normalised()
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if policy.Audience == "" || v == nil || v.cache == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "internal authentication is not configured")
				return
			}
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "oidc token missing")
				return
			}

			claims := &oidcClaims{}
			_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
				kid, _ := token.Header["kid"].(string)
				if kid == "" {
					return nil, errors.New("auth: token missing kid header")
				}
				return v.cache.Key(ctx, kid)
			})
			if reason := policy.reject(claims, err); reason != "" {
				fields := map[string]any{"reason": reason, "issuer": claims.Issuer, "email": claims.Email}
				if err != nil {
					fields["error"] = err.Error()
				}
				v.logger(ctx, "auth.oidc.rejected", fields)
				status := http.StatusUnauthorized
				if reason == "jwks_unavailable" {
					status = http.StatusServiceUnavailable
				}
				respondAuthError(w, status, "invalid_token", "oidc token verification failed")
				return
			}

			identity := &ServiceIdentity{Subject: claims.Subject, Email: claims.Email, Issuer: claims.Issuer}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

// reject returns the log reason for a token that fails policy, or "" when it passes.
func (p OIDCPolicy) reject(claims *oidcClaims, parseErr error) string {
	switch {
	case errors.Is(parseErr, ErrJWKSFetchFailed):
		return "jwks_unavailable"
	case parseErr != nil:
		return "token_invalid"
	case len(p.Issuers) > 0 && !slices.Contains(p.Issuers, claims.Issuer):
		return "issuer_mismatch"
	case !claims.VerifyAudience(p.Audience, true):
		return "audience_mismatch"
	case len(p.ServiceAccounts) > 0 && (!claims.EmailVerified || !slices.Contains(p.ServiceAccounts, strings.ToLower(claims.Email))):
		return "caller_not_allowed"
	}
	return ""
}
